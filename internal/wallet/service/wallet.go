package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/xerr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type walletStore interface {
	domain.Repository
	domain.WalletRepo
	domain.AddressRepo
	domain.TransactionRepo
}

type Options struct {
	Network        *chaincfg.Params
	ScriptType     string
	Currency       string
	DefaultFeeRate int64          // sat/vB
	Location       *time.Location // 价格走势标签的时区
}

type WalletService struct {
	repo      walletStore
	gateway   domain.Gateway
	allocator *AddressAllocator
	ledger    *Ledger
	prices    *PriceCache
	provider  domain.PriceProvider
	opts      Options
}

func NewWalletService(
	repo walletStore,
	gateway domain.Gateway,
	allocator *AddressAllocator,
	ledger *Ledger,
	prices *PriceCache,
	provider domain.PriceProvider,
	opts Options,
) *WalletService {
	if opts.Network == nil {
		opts.Network = &chaincfg.MainNetParams
	}
	if opts.DefaultFeeRate <= 0 {
		opts.DefaultFeeRate = 2
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &WalletService{
		repo:      repo,
		gateway:   gateway,
		allocator: allocator,
		ledger:    ledger,
		prices:    prices,
		provider:  provider,
		opts:      opts,
	}
}

// CreateWallet 建钱包 -> 后端建句柄 -> 预分配 5 个收款地址。
// 后面任何一步失败都把前面的删掉
func (s *WalletService) CreateWallet(ctx context.Context, userID int64, name, walletType, xpub string) (*domain.Wallet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, xerr.New(xerr.RequestParamsError, "wallet name is required")
	}
	wt, err := domain.ParseWalletType(walletType)
	if err != nil {
		return nil, err
	}
	w := &domain.Wallet{UserID: userID, Name: name, Type: wt, Xpub: strings.TrimSpace(xpub)}
	if err := w.CheckSupported(); err != nil {
		return nil, err
	}

	if err := s.repo.CreateWallet(ctx, w); err != nil {
		return nil, err
	}

	h, err := s.gateway.CreateFromXpub(ctx, w.HandleName(), w.Xpub, s.opts.Network.Name, s.opts.ScriptType)
	if err != nil {
		s.rollbackCreate(ctx, w, false)
		return nil, err
	}

	addrs, err := s.allocator.Allocate(ctx, w, h, domain.InitialReceiveAddresses, false)
	if err != nil {
		s.rollbackCreate(ctx, w, true)
		return nil, err
	}

	w.Addresses = make([]domain.Address, 0, len(addrs))
	for _, a := range addrs {
		w.Addresses = append(w.Addresses, *a)
	}
	logger.Info(ctx, "watch-only wallet created",
		zap.Int64("wallet_id", w.ID), zap.Int64("user_id", userID), zap.String("handle", h.Name))
	return w, nil
}

func (s *WalletService) rollbackCreate(ctx context.Context, w *domain.Wallet, handleCreated bool) {
	ctx = context.WithoutCancel(ctx)
	if handleCreated {
		if err := s.gateway.DeleteHandle(ctx, w.HandleName()); err != nil {
			logger.Error(ctx, "rollback: delete handle failed", zap.Int64("wallet_id", w.ID), zap.Error(err))
		}
	}
	if err := s.repo.DeleteWallet(ctx, w.ID); err != nil {
		logger.Error(ctx, "rollback: delete wallet failed", zap.Int64("wallet_id", w.ID), zap.Error(err))
	}
}

func (s *WalletService) GetWallet(ctx context.Context, userID, id int64) (*domain.Wallet, error) {
	return s.repo.GetWallet(ctx, userID, id)
}

func (s *WalletService) ListWallets(ctx context.Context, userID int64, page, limit int) ([]*domain.Wallet, error) {
	return s.repo.ListWallets(ctx, userID, page, limit)
}

func (s *WalletService) RenameWallet(ctx context.Context, userID, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return xerr.New(xerr.RequestParamsError, "wallet name is required")
	}
	return s.repo.RenameWallet(ctx, userID, id, name)
}

// DeleteWallet 先删后端句柄 (不存在也算成功)，再级联删本地数据
func (s *WalletService) DeleteWallet(ctx context.Context, userID, id int64) error {
	w, err := s.repo.GetWallet(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.gateway.DeleteHandle(ctx, w.HandleName()); err != nil && !xerr.IsNotFound(err) {
		return err
	}
	if err := s.repo.DeleteWallet(ctx, w.ID); err != nil {
		return err
	}
	logger.Info(ctx, "wallet deleted", zap.Int64("wallet_id", w.ID), zap.Int64("user_id", userID))
	return nil
}

func (s *WalletService) GenerateReceiveAddress(ctx context.Context, userID, id int64) (*domain.Address, error) {
	w, h, err := s.openWallet(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	addrs, err := s.allocator.Allocate(ctx, w, h, 1, false)
	if err != nil {
		return nil, err
	}
	return addrs[0], nil
}

type Balance struct {
	WalletID  int64           `json:"id"`
	Name      string          `json:"name"`
	Satoshi   int64           `json:"satoshi"`
	BtcValue  decimal.Decimal `json:"btcValue"`
	FiatValue decimal.Decimal `json:"fiatValue"`
	BtcPrice  decimal.Decimal `json:"btcPrice"`
	TxCount   int             `json:"txCount"`
}

// WalletBalance 单个钱包，后端失败直接返回错误
func (s *WalletService) WalletBalance(ctx context.Context, userID, id int64) (*Balance, error) {
	w, h, err := s.openWallet(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	bal, err := s.gateway.GetBalance(ctx, h)
	if err != nil {
		return nil, err
	}
	price := s.ledger.currentPrice(ctx)

	sats := max(bal.Total(), 0)
	btc := SatsToBTC(sats)
	return &Balance{
		WalletID:  w.ID,
		Name:      w.Name,
		Satoshi:   sats,
		BtcValue:  btc,
		FiatValue: FiatValue(btc, price),
		BtcPrice:  price.Price,
		TxCount:   bal.TxCount,
	}, nil
}

type UnsignedTx struct {
	TxHex         string `json:"tx_hex"` // base64 PSBT
	ChangeAddress string `json:"change_address"`
}

// CreateUnsignedTx 只构造不签名。粉尘金额和非只读钱包在调后端之前就拒绝
func (s *WalletService) CreateUnsignedTx(ctx context.Context, userID, id int64, to string, amount, feeRate int64) (*UnsignedTx, error) {
	if amount < domain.DustLimit {
		return nil, xerr.New(xerr.RequestParamsError,
			fmt.Sprintf("amount %d below dust limit %d", amount, domain.DustLimit))
	}
	if feeRate < 0 {
		return nil, xerr.New(xerr.RequestParamsError, "fee_rate must not be negative")
	}
	if feeRate == 0 {
		feeRate = s.opts.DefaultFeeRate
	}
	if err := s.checkAddress(to); err != nil {
		return nil, err
	}

	w, h, err := s.openWallet(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	bal, err := s.gateway.GetBalance(ctx, h)
	if err != nil {
		return nil, err
	}
	if bal.Total() < amount {
		return nil, xerr.New(xerr.RequestParamsError,
			fmt.Sprintf("insufficient balance: have %d, need %d", bal.Total(), amount))
	}

	// 找零地址先分配出去，构造失败也不回收
	change, err := s.allocator.Allocate(ctx, w, h, 1, true)
	if err != nil {
		return nil, err
	}

	psbt, err := s.gateway.CreateUnsignedTx(ctx, h, domain.UnsignedTxRequest{
		To:            to,
		Amount:        amount,
		FeeRate:       feeRate,
		ChangeAddress: change[0].Address,
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "unsigned transaction built",
		zap.Int64("wallet_id", w.ID), zap.Int64("amount", amount), zap.Int64("fee_rate", feeRate))
	return &UnsignedTx{TxHex: psbt, ChangeAddress: change[0].Address}, nil
}

func (s *WalletService) checkAddress(to string) error {
	addr, err := btcutil.DecodeAddress(strings.TrimSpace(to), s.opts.Network)
	if err != nil {
		return xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid destination address: %v", err))
	}
	if !addr.IsForNet(s.opts.Network) {
		return xerr.New(xerr.RequestParamsError, "destination address is for another network")
	}
	return nil
}

type BroadcastRequest struct {
	TxHex    string
	WalletID int64 // 可选，带上则记录本地交易
	Amount   int64
	Fee      int64
}

func (s *WalletService) Broadcast(ctx context.Context, userID int64, req BroadcastRequest) (string, error) {
	req.TxHex = strings.TrimSpace(req.TxHex)
	if req.TxHex == "" {
		return "", xerr.New(xerr.RequestParamsError, "tx_hex is required")
	}
	if req.Amount < 0 || req.Fee < 0 {
		return "", xerr.New(xerr.RequestParamsError, "amount and fee must not be negative")
	}
	if req.WalletID > 0 {
		if _, err := s.repo.GetWallet(ctx, userID, req.WalletID); err != nil {
			return "", err
		}
	}

	txid, err := s.gateway.BroadcastRaw(ctx, req.TxHex)
	if err != nil {
		return "", err
	}
	logger.Info(ctx, "transaction broadcast", zap.String("txid", txid), zap.Int64("wallet_id", req.WalletID))

	if req.WalletID > 0 {
		// 已经上链了，记录失败只打日志
		rec := &domain.Transaction{
			WalletID: req.WalletID,
			TxID:     txid,
			Amount:   req.Amount,
			Fee:      req.Fee,
			Status:   domain.TxStatusPending,
		}
		if err := s.repo.CreateTransaction(ctx, rec); err != nil {
			logger.Error(ctx, "record broadcast transaction failed", zap.String("txid", txid), zap.Error(err))
		}
	}
	return txid, nil
}

func (s *WalletService) UpdateTransactionStatus(ctx context.Context, userID, txID int64, status string) (*domain.Transaction, error) {
	to, err := domain.ParseTxStatus(status)
	if err != nil {
		return nil, err
	}
	tx, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetWallet(ctx, userID, tx.WalletID); err != nil {
		if xerr.IsNotFound(err) {
			return nil, xerr.New(xerr.RecordNotFound, fmt.Sprintf("transaction %d not found", txID))
		}
		return nil, err
	}
	if !tx.Status.CanTransition(to) {
		return nil, xerr.New(xerr.RequestParamsError,
			fmt.Sprintf("invalid status transition %s -> %s", tx.Status, to))
	}
	if err := s.repo.UpdateTransactionStatus(ctx, tx.ID, tx.Status, to); err != nil {
		return nil, err
	}
	tx.Status = to
	return tx, nil
}

func (s *WalletService) ListWalletTransactions(ctx context.Context, userID, id int64) ([]*domain.Transaction, error) {
	if _, err := s.repo.GetWallet(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.repo.ListWalletTransactions(ctx, id)
}

// ListWalletViews 只有钱包列表本身读失败才返回错误
func (s *WalletService) ListWalletViews(ctx context.Context, userID int64) ([]WalletView, error) {
	wallets, err := s.repo.ListWallets(ctx, userID, 0, 0)
	if err != nil {
		return nil, err
	}
	return s.ledger.BuildWalletViews(ctx, wallets), nil
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64) ([]TransactionRecord, error) {
	wallets, err := s.repo.ListWallets(ctx, userID, 0, 0)
	if err != nil {
		return nil, err
	}
	return s.ledger.BuildTransactionHistory(ctx, wallets), nil
}

func (s *WalletService) CurrentPrice(ctx context.Context) (domain.Quote, error) {
	return s.prices.Current(ctx)
}

type PriceHistory struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// PriceHistory period 非法时不调用行情源
func (s *WalletService) PriceHistory(ctx context.Context, period string) (*PriceHistory, error) {
	spec, err := domain.ParsePeriod(period)
	if err != nil {
		return nil, err
	}

	points, err := s.provider.History(ctx, s.opts.Currency, spec.Days, spec.Interval)
	if err != nil {
		if xerr.CodeOf(err) == xerr.ServerCommonError {
			err = xerr.Wrap(err, xerr.BackendUnavailable, "price provider unavailable")
		}
		return nil, err
	}

	out := &PriceHistory{
		Labels: make([]string, 0, len(points)),
		Values: make([]float64, 0, len(points)),
	}
	for _, p := range points {
		out.Labels = append(out.Labels, p.Time.In(s.opts.Location).Format(spec.LabelLayout))
		out.Values = append(out.Values, p.Price.Round(2).InexactFloat64())
	}
	return out, nil
}

// openWallet 查钱包 + 类型检查 + 打开后端句柄
func (s *WalletService) openWallet(ctx context.Context, userID, id int64) (*domain.Wallet, domain.Handle, error) {
	w, err := s.repo.GetWallet(ctx, userID, id)
	if err != nil {
		return nil, domain.Handle{}, err
	}
	if err := w.CheckSupported(); err != nil {
		return nil, domain.Handle{}, err
	}
	h, err := s.gateway.OpenHandle(ctx, w.HandleName())
	if err != nil {
		if xerr.IsNotFound(err) {
			return nil, domain.Handle{}, xerr.Wrap(err, xerr.RecordNotFound, "wallet not configured")
		}
		return nil, domain.Handle{}, err
	}
	return w, h, nil
}
