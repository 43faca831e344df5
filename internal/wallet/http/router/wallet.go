package router

import (
	"btcwatch.com/internal/wallet/handler"
	"github.com/gin-gonic/gin"
)

func Wallet(api *gin.RouterGroup, h *handler.Wallet) {
	wallets := api.Group("/wallets")
	{
		wallets.POST("", h.Create)
		wallets.GET("", h.List)

		// 聚合接口，单个钱包失败不影响整体
		wallets.GET("/all-balances", h.AllBalances)
		wallets.GET("/all-transactions", h.AllTransactions)
		wallets.GET("/btc-price", h.BtcPrice)
		wallets.POST("/price-history", h.PriceHistory)

		wallets.GET("/:id", h.Get)
		wallets.PATCH("/:id", h.Rename)
		wallets.DELETE("/:id", h.Delete)
		wallets.POST("/:id/delete", h.Delete)
		wallets.GET("/:id/balance", h.Balance)
		wallets.GET("/:id/transactions", h.Transactions)
		wallets.POST("/:id/generate-address", h.GenerateAddress)
		wallets.POST("/:id/create-transaction", h.CreateTransaction)
	}
}

func Transaction(api *gin.RouterGroup, h *handler.Wallet) {
	txs := api.Group("/transactions")
	{
		txs.POST("/broadcast", h.Broadcast)
		txs.PATCH("/:id/status", h.UpdateTransactionStatus)
	}
}
