package handler

import (
	"context"
	"errors"
	"strconv"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/internal/wallet/service"
	"btcwatch.com/pkg/common"
	"btcwatch.com/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// WalletService handler 依赖的用例集合
type WalletService interface {
	CreateWallet(ctx context.Context, userID int64, name, walletType, xpub string) (*domain.Wallet, error)
	ListWallets(ctx context.Context, userID int64, page, limit int) ([]*domain.Wallet, error)
	GetWallet(ctx context.Context, userID, id int64) (*domain.Wallet, error)
	RenameWallet(ctx context.Context, userID, id int64, name string) error
	DeleteWallet(ctx context.Context, userID, id int64) error
	GenerateReceiveAddress(ctx context.Context, userID, id int64) (*domain.Address, error)
	WalletBalance(ctx context.Context, userID, id int64) (*service.Balance, error)
	CreateUnsignedTx(ctx context.Context, userID, id int64, to string, amount, feeRate int64) (*service.UnsignedTx, error)
	Broadcast(ctx context.Context, userID int64, req service.BroadcastRequest) (string, error)
	UpdateTransactionStatus(ctx context.Context, userID, txID int64, status string) (*domain.Transaction, error)
	ListWalletTransactions(ctx context.Context, userID, id int64) ([]*domain.Transaction, error)
	ListWalletViews(ctx context.Context, userID int64) ([]service.WalletView, error)
	ListTransactions(ctx context.Context, userID int64) ([]service.TransactionRecord, error)
	CurrentPrice(ctx context.Context) (domain.Quote, error)
	PriceHistory(ctx context.Context, period string) (*service.PriceHistory, error)
}

type Wallet struct {
	svc WalletService
}

func NewWallet(svc WalletService) *Wallet {
	return &Wallet{svc: svc}
}

type createWalletReq struct {
	Name       string `json:"name" binding:"required"`
	WalletType string `json:"wallet_type" binding:"required"`
	Xpub       string `json:"xpub"`
}

func (h *Wallet) Create(c *gin.Context) {
	var req createWalletReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, err)
		return
	}
	w, err := h.svc.CreateWallet(c.Request.Context(), common.UserIDFromGin(c), req.Name, req.WalletType, req.Xpub)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Created(c, w)
}

type listReq struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

func (h *Wallet) List(c *gin.Context) {
	var req listReq
	if err := c.ShouldBindQuery(&req); err != nil {
		common.BadRequest(c, err)
		return
	}
	list, err := h.svc.ListWallets(c.Request.Context(), common.UserIDFromGin(c), req.Page, req.Limit)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, list)
}

func (h *Wallet) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	w, err := h.svc.GetWallet(c.Request.Context(), common.UserIDFromGin(c), id)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, w)
}

type renameReq struct {
	Name string `json:"name" binding:"required"`
}

func (h *Wallet) Rename(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, err)
		return
	}
	if err := h.svc.RenameWallet(c.Request.Context(), common.UserIDFromGin(c), id, req.Name); err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, gin.H{"id": id, "name": req.Name})
}

func (h *Wallet) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteWallet(c.Request.Context(), common.UserIDFromGin(c), id); err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, gin.H{"success": true, "message": "wallet deleted"})
}

func (h *Wallet) GenerateAddress(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	a, err := h.svc.GenerateReceiveAddress(c.Request.Context(), common.UserIDFromGin(c), id)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, gin.H{"address": a.Address, "path": a.Path, "index": a.Index})
}

func (h *Wallet) Balance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.svc.WalletBalance(c.Request.Context(), common.UserIDFromGin(c), id)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, b)
}

func (h *Wallet) Transactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	list, err := h.svc.ListWalletTransactions(c.Request.Context(), common.UserIDFromGin(c), id)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, list)
}

type createTxReq struct {
	ToAddress string `json:"to_address" binding:"required,max=100"`
	Amount    int64  `json:"amount" binding:"required"`
	FeeRate   int64  `json:"fee_rate"`
}

func (h *Wallet) CreateTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req createTxReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, err)
		return
	}
	tx, err := h.svc.CreateUnsignedTx(c.Request.Context(), common.UserIDFromGin(c), id, req.ToAddress, req.Amount, req.FeeRate)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, tx)
}

// AllBalances 单个钱包失败体现在各自的 status 里，整体总是 200
func (h *Wallet) AllBalances(c *gin.Context) {
	views, err := h.svc.ListWalletViews(c.Request.Context(), common.UserIDFromGin(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, views)
}

func (h *Wallet) AllTransactions(c *gin.Context) {
	recs, err := h.svc.ListTransactions(c.Request.Context(), common.UserIDFromGin(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, recs)
}

func (h *Wallet) BtcPrice(c *gin.Context) {
	q, err := h.svc.CurrentPrice(c.Request.Context())
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, q)
}

type priceHistoryReq struct {
	Period string `json:"period"`
}

func (h *Wallet) PriceHistory(c *gin.Context) {
	var req priceHistoryReq
	// body 可以为空
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.BadRequest(c, err)
			return
		}
	}
	if req.Period == "" {
		req.Period = "1m"
	}
	out, err := h.svc.PriceHistory(c.Request.Context(), req.Period)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, out)
}

type broadcastReq struct {
	TxHex    string `json:"tx_hex" binding:"required"`
	WalletID int64  `json:"wallet_id"`
	Amount   int64  `json:"amount"`
	Fee      int64  `json:"fee"`
}

func (h *Wallet) Broadcast(c *gin.Context) {
	var req broadcastReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, err)
		return
	}
	txid, err := h.svc.Broadcast(c.Request.Context(), common.UserIDFromGin(c), service.BroadcastRequest{
		TxHex:    req.TxHex,
		WalletID: req.WalletID,
		Amount:   req.Amount,
		Fee:      req.Fee,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, gin.H{"txid": txid})
}

type txStatusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *Wallet) UpdateTransactionStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req txStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, err)
		return
	}
	tx, err := h.svc.UpdateTransactionStatus(c.Request.Context(), common.UserIDFromGin(c), id, req.Status)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, tx)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		common.FailErr(c, xerr.Wrap(errors.New(c.Param("id")), xerr.RequestParamsError, "invalid id"))
		return 0, false
	}
	return id, true
}
