package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/internal/wallet/infra/persistence"
	"btcwatch.com/pkg/xerr"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *persistence.Repo {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	r := persistence.New(db)
	require.NoError(t, r.AutoMigrate(context.Background()))
	return r
}

// fakeGateway 内存版链后端
type fakeGateway struct {
	mu      sync.Mutex
	handles map[string]domain.Handle
	nextID  int64

	balances  map[string]domain.Balance
	txs       map[string][]domain.BackendTx
	failOpen  map[string]error
	failBal   map[string]error
	panicBal  map[string]bool
	failList  map[string]error
	createErr error

	failExists map[string]error
	exists     map[string]int // HandleExists 调用次数
	opens      map[string]int
	// deriveErrAt 第 n 次派生 (从 1 开始) 返回错误
	deriveErrAt int64

	derives    atomic.Int64
	calls      atomic.Int64
	lastUnsign domain.UnsignedTxRequest
	broadcasts []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		handles:  map[string]domain.Handle{},
		balances: map[string]domain.Balance{},
		txs:      map[string][]domain.BackendTx{},
		failOpen: map[string]error{},
		failBal:  map[string]error{},
		panicBal: map[string]bool{},
		failList: map[string]error{},

		failExists: map[string]error{},
		exists:     map[string]int{},
		opens:      map[string]int{},
	}
}

var _ domain.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) CreateFromXpub(_ context.Context, name, xpub, network, scriptType string) (domain.Handle, error) {
	g.calls.Add(1)
	if g.createErr != nil {
		return domain.Handle{}, g.createErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	h := domain.Handle{ID: g.nextID, Name: name, Network: network, ScriptType: scriptType}
	g.handles[name] = h
	return h, nil
}

func (g *fakeGateway) HandleExists(_ context.Context, name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exists[name]++
	if err := g.failExists[name]; err != nil {
		return false, err
	}
	_, ok := g.handles[name]
	return ok, nil
}

func (g *fakeGateway) existsCalls(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exists[name]
}

func (g *fakeGateway) OpenHandle(_ context.Context, name string) (domain.Handle, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opens[name]++
	if err := g.failOpen[name]; err != nil {
		return domain.Handle{}, err
	}
	h, ok := g.handles[name]
	if !ok {
		return domain.Handle{}, xerr.New(xerr.RecordNotFound, "handle not found")
	}
	return h, nil
}

func (g *fakeGateway) DeleteHandle(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.handles[name]; !ok {
		return xerr.New(xerr.RecordNotFound, "handle not found")
	}
	delete(g.handles, name)
	return nil
}

// DeriveKeyAt 路径固定按 bip84 主网
func (g *fakeGateway) DeriveKeyAt(_ context.Context, h domain.Handle, account, branch, index uint32) (domain.DerivedKey, error) {
	n := g.derives.Add(1)
	if g.deriveErrAt > 0 && n == g.deriveErrAt {
		return domain.DerivedKey{}, fmt.Errorf("derive %d/%d: backend exploded", branch, index)
	}
	path, err := domain.BuildPath(84, 0, int(account), branch == domain.BranchChange, int64(index))
	if err != nil {
		return domain.DerivedKey{}, err
	}
	return domain.DerivedKey{Address: fmt.Sprintf("%s-%d-%d", h.Name, branch, index), Path: path}, nil
}

func (g *fakeGateway) GetBalance(_ context.Context, h domain.Handle) (domain.Balance, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicBal[h.Name] {
		panic("nil pointer in backend client")
	}
	if err := g.failBal[h.Name]; err != nil {
		return domain.Balance{}, err
	}
	return g.balances[h.Name], nil
}

func (g *fakeGateway) ListTransactions(_ context.Context, h domain.Handle) ([]domain.BackendTx, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failList[h.Name]; err != nil {
		return nil, err
	}
	return g.txs[h.Name], nil
}

func (g *fakeGateway) CreateUnsignedTx(_ context.Context, h domain.Handle, req domain.UnsignedTxRequest) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastUnsign = req
	return "cHNidP8BAAoCAAAAAAAAAAAAAAA=", nil
}

func (g *fakeGateway) BroadcastRaw(_ context.Context, txHex string) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcasts = append(g.broadcasts, txHex)
	return "f00dbabe", nil
}

// fakeProvider 行情源
type fakeProvider struct {
	quote   domain.Quote
	err     error
	delay   time.Duration
	history []domain.PricePoint
	calls   atomic.Int64
	lastReq [2]interface{}
}

var _ domain.PriceProvider = (*fakeProvider)(nil)

func (p *fakeProvider) Current(ctx context.Context, currency string) (domain.Quote, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return domain.Quote{}, ctx.Err()
		}
	}
	return p.quote, p.err
}

func (p *fakeProvider) History(_ context.Context, currency string, days int, interval string) ([]domain.PricePoint, error) {
	p.calls.Add(1)
	p.lastReq = [2]interface{}{days, interval}
	return p.history, p.err
}

// staticPrice 给 Ledger 用的固定价格
type staticPrice struct {
	quote domain.Quote
	err   error
}

func (s staticPrice) Current(context.Context) (domain.Quote, error) { return s.quote, s.err }

func seedWallet(t *testing.T, r *persistence.Repo, userID int64, name string, typ domain.WalletType) *domain.Wallet {
	t.Helper()
	w := &domain.Wallet{UserID: userID, Name: name, Type: typ, Xpub: "xpub-" + name}
	require.NoError(t, r.CreateWallet(context.Background(), w))
	return w
}
