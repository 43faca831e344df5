package service

import (
	"context"
	"time"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/metrics"
	"btcwatch.com/pkg/safe"
	"btcwatch.com/pkg/xerr"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 单个钱包视图的状态
const (
	ViewOK            = "ok"
	ViewNotConfigured = "not_configured"
	ViewError         = "error"
	ViewUnsupported   = "unsupported"
)

const satsPerBTC = 100_000_000

type WalletView struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Address   string          `json:"address"`
	Satoshi   int64           `json:"satoshi"`
	BtcValue  decimal.Decimal `json:"btcValue"`
	FiatValue decimal.Decimal `json:"fiatValue"`
	BtcPrice  decimal.Decimal `json:"btcPrice"`
	TxCount   int             `json:"txCount"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
}

type TransactionRecord struct {
	WalletID      int64           `json:"walletId"`
	WalletName    string          `json:"walletName"`
	TxID          string          `json:"txid"`
	Type          TxType          `json:"type"`
	Value         int64           `json:"value"`
	BtcValue      decimal.Decimal `json:"btcValue"`
	Status        string          `json:"status"`
	Confirmations int64           `json:"confirmations"`
	Date          *time.Time      `json:"date"`
}

type quoteSource interface {
	Current(ctx context.Context) (domain.Quote, error)
}

// Ledger 汇总多个钱包的余额和交易。单个钱包失败只影响它自己那一项
type Ledger struct {
	gateway     domain.Gateway
	prices      quoteSource
	addrs       domain.AddressRepo
	parallelism int
}

func NewLedger(gateway domain.Gateway, prices quoteSource, addrs domain.AddressRepo, parallelism int) *Ledger {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Ledger{gateway: gateway, prices: prices, addrs: addrs, parallelism: parallelism}
}

// SatsToBTC 聪 -> BTC
func SatsToBTC(sats int64) decimal.Decimal {
	return decimal.NewFromInt(sats).Shift(-8)
}

// FiatValue 价格不可用 (哨兵或 0) 时为 0
func FiatValue(btc decimal.Decimal, q domain.Quote) decimal.Decimal {
	if !q.Available() || btc.IsNegative() {
		return decimal.Zero
	}
	return btc.Mul(q.Price).Round(2)
}

// BuildWalletViews 每个钱包一项，顺序与入参一致，本身不返回错误
func (l *Ledger) BuildWalletViews(ctx context.Context, wallets []*domain.Wallet) []WalletView {
	views := make([]WalletView, len(wallets))
	if len(wallets) == 0 {
		return views
	}

	price := l.currentPrice(ctx)
	primary := l.primaryAddresses(ctx, wallets)

	g := new(errgroup.Group)
	g.SetLimit(l.parallelism)
	for i, w := range wallets {
		g.Go(func() error {
			view := WalletView{
				ID:        w.ID,
				Name:      w.Name,
				Type:      string(w.Type),
				Address:   primary[w.ID],
				BtcValue:  decimal.Zero,
				FiatValue: decimal.Zero,
				BtcPrice:  price.Price,
			}
			err := safe.Run(ctx, func(ctx context.Context) error {
				return l.fillView(ctx, w, price, &view)
			})
			if err != nil {
				logger.Warn(ctx, "wallet view failed", zap.Int64("wallet_id", w.ID), zap.Error(err))
				view.Status = ViewError
				view.Error = xerr.MsgOf(err)
				view.Satoshi, view.TxCount = 0, 0
				view.BtcValue, view.FiatValue = decimal.Zero, decimal.Zero
			}
			metrics.WalletViewStatus.WithLabelValues(view.Status).Inc()
			views[i] = view
			return nil
		})
	}
	_ = g.Wait()
	return views
}

func (l *Ledger) fillView(ctx context.Context, w *domain.Wallet, price domain.Quote, view *WalletView) error {
	if err := w.CheckSupported(); err != nil {
		view.Status = ViewUnsupported
		view.Error = xerr.MsgOf(err)
		return nil
	}

	exists, err := l.gateway.HandleExists(ctx, w.HandleName())
	if err != nil {
		return err
	}
	if !exists {
		markNotConfigured(view)
		return nil
	}
	h, err := l.gateway.OpenHandle(ctx, w.HandleName())
	if err != nil {
		// 检查完到打开之间被删了
		if xerr.IsNotFound(err) {
			markNotConfigured(view)
			return nil
		}
		return err
	}

	bal, err := l.gateway.GetBalance(ctx, h)
	if err != nil {
		return err
	}
	sats := bal.Total()
	if sats < 0 {
		sats = 0
	}
	view.Satoshi = sats
	view.TxCount = bal.TxCount
	view.BtcValue = SatsToBTC(sats)
	view.FiatValue = FiatValue(view.BtcValue, price)
	view.Status = ViewOK
	return nil
}

func markNotConfigured(view *WalletView) {
	view.Status = ViewNotConfigured
	view.Error = "wallet not configured"
}

// BuildTransactionHistory 钱包顺序 + 后端返回顺序，打不开的钱包直接跳过
func (l *Ledger) BuildTransactionHistory(ctx context.Context, wallets []*domain.Wallet) []TransactionRecord {
	if len(wallets) == 0 {
		return []TransactionRecord{}
	}
	primary := l.primaryAddresses(ctx, wallets)
	perWallet := make([][]TransactionRecord, len(wallets))

	g := new(errgroup.Group)
	g.SetLimit(l.parallelism)
	for i, w := range wallets {
		g.Go(func() error {
			err := safe.Run(ctx, func(ctx context.Context) error {
				recs, err := l.walletHistory(ctx, w, primary[w.ID])
				perWallet[i] = recs
				return err
			})
			if err != nil {
				logger.Warn(ctx, "skip wallet history", zap.Int64("wallet_id", w.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]TransactionRecord, 0)
	for _, recs := range perWallet {
		out = append(out, recs...)
	}
	return out
}

func (l *Ledger) walletHistory(ctx context.Context, w *domain.Wallet, own string) ([]TransactionRecord, error) {
	if err := w.CheckSupported(); err != nil {
		return nil, err
	}
	h, err := l.gateway.OpenHandle(ctx, w.HandleName())
	if err != nil {
		return nil, err
	}
	txs, err := l.gateway.ListTransactions(ctx, h)
	if err != nil {
		return nil, err
	}

	recs := make([]TransactionRecord, 0, len(txs))
	for _, tx := range txs {
		c := Classify(tx, own)
		recs = append(recs, TransactionRecord{
			WalletID:      w.ID,
			WalletName:    w.Name,
			TxID:          tx.TxID,
			Type:          c.Type,
			Value:         c.NetValue,
			BtcValue:      SatsToBTC(c.NetValue),
			Status:        tx.Status(),
			Confirmations: tx.Confirmations,
			Date:          tx.Date,
		})
	}
	return recs, nil
}

// currentPrice 整批只取一次价格，取不到就用哨兵值
func (l *Ledger) currentPrice(ctx context.Context) domain.Quote {
	q, err := l.prices.Current(ctx)
	if err != nil {
		logger.Warn(ctx, "price unavailable for ledger", zap.Error(err))
		return domain.Quote{Price: domain.PriceUnavailable}
	}
	if !q.Available() {
		return domain.Quote{Price: domain.PriceUnavailable}
	}
	return q
}

// primaryAddresses 一次查出所有钱包的主地址，查询失败退回预加载的地址
func (l *Ledger) primaryAddresses(ctx context.Context, wallets []*domain.Wallet) map[int64]string {
	ids := make([]int64, 0, len(wallets))
	for _, w := range wallets {
		ids = append(ids, w.ID)
	}
	m, err := l.addrs.PrimaryAddresses(ctx, ids)
	if err == nil {
		return m
	}

	logger.Warn(ctx, "load primary addresses failed", zap.Error(err))
	m = make(map[int64]string, len(wallets))
	for _, w := range wallets {
		m[w.ID] = PrimaryAddress(w.Addresses)
	}
	return m
}

// PrimaryAddress 最小序号的收款地址
func PrimaryAddress(addrs []domain.Address) string {
	var best *domain.Address
	for i := range addrs {
		a := &addrs[i]
		if a.IsChange {
			continue
		}
		if best == nil || a.Index < best.Index {
			best = a
		}
	}
	if best == nil {
		return ""
	}
	return best.Address
}
