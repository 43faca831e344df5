package bitcoin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/hdwallet"
	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/metrics"
	"btcwatch.com/pkg/ratelimit"
	"btcwatch.com/pkg/trace"
	"btcwatch.com/pkg/xerr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// 按地址并发查 Esplora 的上限
const addressFanout = 4

type NodeConfig struct {
	Host string `mapstructure:"host"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	TLS  bool   `mapstructure:"tls"`
}

// Adapter 只读钱包后端：xpub 和派生记录落库，链上数据走 Esplora，广播可选直连节点
type Adapter struct {
	store    *store
	esplora  *Esplora
	node     *rpcclient.Client
	breakers *ratelimit.Manager

	mu       sync.Mutex
	watchers map[int64]*hdwallet.Watcher
}

var _ domain.Gateway = (*Adapter)(nil)

func New(db *gorm.DB, esplora *Esplora, breakers *ratelimit.Manager) *Adapter {
	if breakers == nil {
		breakers = ratelimit.NewManager(ratelimit.Rule{}, nil)
	}
	return &Adapter{
		store:    &store{db: db},
		esplora:  esplora,
		breakers: breakers,
		watchers: make(map[int64]*hdwallet.Watcher),
	}
}

// WithNode 配了节点就用 sendrawtransaction 广播
func (a *Adapter) WithNode(c NodeConfig) (*Adapter, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         c.Host,
		User:         c.User,
		Pass:         c.Pass,
		HTTPPostMode: true, // bitcoind 只支持 POST 模式
		DisableTLS:   !c.TLS,
	}, nil)
	if err != nil {
		return nil, err
	}
	a.node = client
	return a, nil
}

func (a *Adapter) AutoMigrate(ctx context.Context) error {
	return a.store.db.WithContext(ctx).AutoMigrate(Models()...)
}

func (a *Adapter) Close() {
	if a.node != nil {
		a.node.Shutdown()
	}
}

func (a *Adapter) CreateFromXpub(ctx context.Context, name, xpub, network, scriptType string) (domain.Handle, error) {
	params, err := hdwallet.ParseNetwork(network)
	if err != nil {
		return domain.Handle{}, xerr.Wrap(err, xerr.RequestParamsError, err.Error())
	}
	script, err := hdwallet.ParseScriptType(scriptType)
	if err != nil {
		return domain.Handle{}, xerr.Wrap(err, xerr.RequestParamsError, err.Error())
	}
	w, err := hdwallet.NewWatcher(xpub, params, script)
	if err != nil {
		return domain.Handle{}, xerr.Wrap(err, xerr.RequestParamsError, "invalid extended public key: "+err.Error())
	}

	row := &walletRow{
		Name:       name,
		Xpub:       xpub,
		Network:    params.Name,
		ScriptType: string(w.ScriptType()),
	}
	if err := a.store.createWallet(ctx, row); err != nil {
		return domain.Handle{}, err
	}

	a.mu.Lock()
	a.watchers[row.ID] = w
	a.mu.Unlock()

	logger.Info(ctx, "backend wallet created",
		zap.String("name", name), zap.String("network", row.Network), zap.String("script", row.ScriptType))
	return handleOf(row), nil
}

func (a *Adapter) HandleExists(ctx context.Context, name string) (bool, error) {
	return a.store.exists(ctx, name)
}

func (a *Adapter) OpenHandle(ctx context.Context, name string) (domain.Handle, error) {
	row, err := a.store.walletByName(ctx, name)
	if err != nil {
		return domain.Handle{}, err
	}
	return handleOf(row), nil
}

func (a *Adapter) DeleteHandle(ctx context.Context, name string) error {
	row, err := a.store.deleteWallet(ctx, name)
	if err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.watchers, row.ID)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) DeriveKeyAt(ctx context.Context, h domain.Handle, account, branch, index uint32) (domain.DerivedKey, error) {
	w, err := a.watcher(ctx, h)
	if err != nil {
		return domain.DerivedKey{}, err
	}
	addr, err := w.AddressAt(account, branch, index)
	if err != nil {
		return domain.DerivedKey{}, xerr.Wrap(err, xerr.RequestParamsError, err.Error())
	}
	path, err := domain.BuildPath(w.ScriptType().Purpose(), int(w.Params().HDCoinType), int(account), branch == domain.BranchChange, int64(index))
	if err != nil {
		return domain.DerivedKey{}, err
	}

	k := &keyRow{HandleID: h.ID, Branch: branch, Index: index, Address: addr.EncodeAddress(), Path: path}
	if err := a.store.saveKey(ctx, k); err != nil {
		return domain.DerivedKey{}, err
	}
	return domain.DerivedKey{Address: k.Address, Path: k.Path}, nil
}

func (a *Adapter) GetBalance(ctx context.Context, h domain.Handle) (domain.Balance, error) {
	keys, err := a.store.keys(ctx, h.ID)
	if err != nil {
		return domain.Balance{}, err
	}

	stats := make([]*addressStats, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(addressFanout)
	for i, k := range keys {
		g.Go(func() error {
			s, err := a.esplora.AddressStats(gctx, k.Address)
			if err != nil {
				return err
			}
			stats[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Balance{}, err
	}

	var bal domain.Balance
	var active []string
	for i, s := range stats {
		bal.Confirmed += s.ChainStats.balance()
		bal.Unconfirmed += s.MempoolStats.balance()
		if n := s.ChainStats.TxCount + s.MempoolStats.TxCount; n > 0 {
			active = append(active, keys[i].Address)
			bal.TxCount += n
		}
	}

	// 一笔交易可能同时碰到多个自己的地址 (比如花费 + 找零)，这时按 txid 去重
	if len(active) > 1 {
		txs, err := a.collectTxs(ctx, active)
		if err != nil {
			return domain.Balance{}, err
		}
		bal.TxCount = len(txs)
	}
	return bal, nil
}

func (a *Adapter) ListTransactions(ctx context.Context, h domain.Handle) ([]domain.BackendTx, error) {
	keys, err := a.store.keys(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(keys))
	for _, k := range keys {
		addrs = append(addrs, k.Address)
	}
	txs, err := a.collectTxs(ctx, addrs)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return []domain.BackendTx{}, nil
	}

	var tip int64
	for _, tx := range txs {
		if tx.Status.Confirmed {
			if tip, err = a.esplora.TipHeight(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	out := make([]domain.BackendTx, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toBackendTx(tx, tip))
	}
	// 未确认在前，其余按高度倒序
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confirmed != out[j].Confirmed {
			return !out[i].Confirmed
		}
		return out[i].Confirmations < out[j].Confirmations
	})
	return out, nil
}

func (a *Adapter) CreateUnsignedTx(ctx context.Context, h domain.Handle, req domain.UnsignedTxRequest) (string, error) {
	w, err := a.watcher(ctx, h)
	if err != nil {
		return "", err
	}
	toScript, err := payTo(req.To, w)
	if err != nil {
		return "", err
	}
	changeScript, err := payTo(req.ChangeAddress, w)
	if err != nil {
		return "", err
	}

	coins, err := a.spendables(ctx, h)
	if err != nil {
		return "", err
	}

	packet, authored, err := buildPSBT(unsignedSpec{
		Coins:        coins,
		ToScript:     toScript,
		Amount:       req.Amount,
		FeeRate:      req.FeeRate,
		ChangeScript: changeScript,
		Watcher:      w,
		PrevTx: func(txid string) (*wire.MsgTx, error) {
			raw, err := a.esplora.TxHex(ctx, txid)
			if err != nil {
				return nil, err
			}
			tx, err := decodeTx(raw)
			if err != nil {
				return nil, xerr.Wrap(err, xerr.BackendUnavailable, "bad previous transaction from backend")
			}
			return tx, nil
		},
	})
	if err != nil {
		return "", err
	}

	logger.Info(ctx, "psbt built",
		zap.String("handle", h.Name),
		zap.Int("inputs", len(authored.Tx.TxIn)),
		zap.Int64("total_input", int64(authored.TotalInput)),
		zap.Int("change_index", authored.ChangeIndex))
	return encodePSBT(packet)
}

// BroadcastRaw 交易先在本地解一遍，格式不对不打后端
func (a *Adapter) BroadcastRaw(ctx context.Context, txHex string) (string, error) {
	tx, err := decodeTx(txHex)
	if err != nil {
		return "", xerr.Wrap(err, xerr.RequestParamsError, "invalid raw transaction")
	}
	if a.node == nil {
		return a.esplora.PostTx(ctx, txHex)
	}

	var txid string
	_, span := trace.Start(ctx, "node.sendrawtransaction")
	start := time.Now()
	err = a.breakers.Do("node.sendrawtransaction", func() error {
		hash, err := a.node.SendRawTransaction(tx, false)
		if err != nil {
			// 节点的拒绝原因都在 err 里
			return xerr.Wrap(err, xerr.RequestParamsError, "rejected by node: "+err.Error())
		}
		txid = hash.String()
		return nil
	})
	metrics.BackendCallDuration.WithLabelValues("node.sendrawtransaction", metrics.Status(err)).Observe(time.Since(start).Seconds())
	trace.End(span, err)
	return txid, err
}

func (a *Adapter) watcher(ctx context.Context, h domain.Handle) (*hdwallet.Watcher, error) {
	a.mu.Lock()
	w, ok := a.watchers[h.ID]
	a.mu.Unlock()
	if ok {
		return w, nil
	}

	row, err := a.store.walletByID(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	params, err := hdwallet.ParseNetwork(row.Network)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.ServerCommonError, "stored network invalid")
	}
	w, err = hdwallet.NewWatcher(row.Xpub, params, hdwallet.ScriptType(row.ScriptType))
	if err != nil {
		return nil, xerr.Wrap(err, xerr.ServerCommonError, "stored xpub invalid")
	}

	a.mu.Lock()
	a.watchers[h.ID] = w
	a.mu.Unlock()
	return w, nil
}

// collectTxs 多个地址的交易合并，按 txid 去重
func (a *Adapter) collectTxs(ctx context.Context, addrs []string) ([]esploraTx, error) {
	pages := make([][]esploraTx, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(addressFanout)
	for i, addr := range addrs {
		g.Go(func() error {
			txs, err := a.esplora.AddressTxs(gctx, addr)
			if err != nil {
				return err
			}
			pages[i] = txs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []esploraTx
	for _, page := range pages {
		for _, tx := range page {
			if _, ok := seen[tx.TxID]; ok {
				continue
			}
			seen[tx.TxID] = struct{}{}
			out = append(out, tx)
		}
	}
	return out, nil
}

func (a *Adapter) spendables(ctx context.Context, h domain.Handle) ([]spendable, error) {
	keys, err := a.store.keys(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	w, err := a.watcher(ctx, h)
	if err != nil {
		return nil, err
	}

	perKey := make([][]utxo, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(addressFanout)
	for i, k := range keys {
		g.Go(func() error {
			us, err := a.esplora.AddressUTXOs(gctx, k.Address)
			if err != nil {
				return err
			}
			perKey[i] = us
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var coins []spendable
	for i, us := range perKey {
		if len(us) == 0 {
			continue
		}
		script, err := payTo(keys[i].Address, w)
		if err != nil {
			return nil, err
		}
		for _, u := range us {
			op, err := parseOutPoint(u.TxID, u.Vout)
			if err != nil {
				return nil, xerr.Wrap(err, xerr.BackendUnavailable, "bad utxo from backend")
			}
			coins = append(coins, spendable{
				OutPoint:  op,
				Value:     u.Value,
				PkScript:  script,
				Confirmed: u.Status.Confirmed,
				Branch:    keys[i].Branch,
				Index:     keys[i].Index,
			})
		}
	}
	return coins, nil
}

func payTo(address string, w *hdwallet.Watcher) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, w.Params())
	if err != nil || !addr.IsForNet(w.Params()) {
		return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid address %q for %s", address, w.Params().Name))
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.RequestParamsError, "unsupported address type")
	}
	return script, nil
}

func handleOf(row *walletRow) domain.Handle {
	return domain.Handle{ID: row.ID, Name: row.Name, Network: row.Network, ScriptType: row.ScriptType}
}

func toBackendTx(tx esploraTx, tip int64) domain.BackendTx {
	bt := domain.BackendTx{
		TxID:      tx.TxID,
		Confirmed: tx.Status.Confirmed,
		Fee:       tx.Fee,
		Inputs:    make([]domain.TxIO, 0, len(tx.Vin)),
		Outputs:   make([]domain.TxIO, 0, len(tx.Vout)),
	}
	if tx.Status.Confirmed {
		if tip >= tx.Status.BlockHeight {
			bt.Confirmations = tip - tx.Status.BlockHeight + 1
		}
		if tx.Status.BlockTime > 0 {
			t := time.Unix(tx.Status.BlockTime, 0).UTC()
			bt.Date = &t
		}
	}
	for _, in := range tx.Vin {
		if in.IsCoinbase || in.Prevout == nil {
			continue
		}
		bt.Inputs = append(bt.Inputs, domain.TxIO{Address: in.Prevout.Address, Value: in.Prevout.Value})
	}
	for _, o := range tx.Vout {
		bt.Outputs = append(bt.Outputs, domain.TxIO{Address: o.Address, Value: o.Value})
	}
	return bt
}
