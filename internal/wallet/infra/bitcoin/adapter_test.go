package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/hdwallet"
	"btcwatch.com/pkg/ratelimit"
	"btcwatch.com/pkg/xerr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BIP84 测试向量 (abandon ... about) 的账户 zpub
const (
	bip84Zpub = "zpub6rFR7y4Q2AijBEqTUquhVz398htDFrtymD9xYYfG1m4wAcvPhXNfE3EfH1r1ADqtfSdVCToUG868RvUUkgDKf31mGDtKsAYz2oz2AGutZYs"
	recv0     = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	recv1     = "bc1qnjg0jd8228aq7egyzacy8cys3knf9xvrerkf9g"
	change0   = "bc1q8c6fshw2dlwun7ekn9qwf37cu2rn755upcp6el"
	// 随便一个外部地址
	outsider = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
)

// fakeEsplora 内存版 Esplora
type fakeEsplora struct {
	mu        sync.Mutex
	stats     map[string]addressStats
	txs       map[string][]esploraTx
	utxos     map[string][]utxo
	rawTx     map[string]string
	tip       int64
	failAll   atomic.Bool
	rejectTx  atomic.Bool
	hits      atomic.Int64
	broadcast []string
}

func newFakeEsplora(t *testing.T) (*fakeEsplora, *httptest.Server) {
	f := &fakeEsplora{
		stats: map[string]addressStats{},
		txs:   map[string][]esploraTx{},
		utxos: map[string][]utxo{},
		rawTx: map[string]string{},
		tip:   800_000,
	}
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		b, _ := json.Marshal(v)
		_, _ = w.Write(b)
	}
	mux.HandleFunc("GET /address/{addr}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		s := f.stats[r.PathValue("addr")]
		s.Address = r.PathValue("addr")
		writeJSON(w, s)
	})
	mux.HandleFunc("GET /address/{addr}/txs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		txs := f.txs[r.PathValue("addr")]
		if txs == nil {
			txs = []esploraTx{}
		}
		writeJSON(w, txs)
	})
	mux.HandleFunc("GET /address/{addr}/utxo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		us := f.utxos[r.PathValue("addr")]
		if us == nil {
			us = []utxo{}
		}
		writeJSON(w, us)
	})
	mux.HandleFunc("GET /blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d", f.tip)
	})
	mux.HandleFunc("GET /tx/{txid}/hex", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		raw, ok := f.rawTx[r.PathValue("txid")]
		if !ok {
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, raw)
	})
	mux.HandleFunc("POST /tx", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if f.rejectTx.Load() {
			http.Error(w, "sendrawtransaction RPC error: bad-txns-inputs-missingorspent", http.StatusBadRequest)
			return
		}
		tx, err := decodeTx(string(body))
		if err != nil {
			http.Error(w, "bad tx", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.broadcast = append(f.broadcast, string(body))
		f.mu.Unlock()
		_, _ = io.WriteString(w, tx.TxHash().String())
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.failAll.Load() {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeEsplora) {
	t.Helper()
	f, srv := newFakeEsplora(t)
	breakers := ratelimit.NewManager(ratelimit.Rule{TripConsecutiveFailures: 3, Timeout: time.Minute}, nil)
	a := New(newTestDB(t), NewEsplora(srv.URL, 2*time.Second, breakers), breakers)
	require.NoError(t, a.AutoMigrate(context.Background()))
	return a, f
}

func createHandle(t *testing.T, a *Adapter, name string) domain.Handle {
	t.Helper()
	h, err := a.CreateFromXpub(context.Background(), name, bip84Zpub, "mainnet", "p2pkh")
	require.NoError(t, err)
	return h
}

func derive(t *testing.T, a *Adapter, h domain.Handle, branch, index uint32) string {
	t.Helper()
	key, err := a.DeriveKeyAt(context.Background(), h, 0, branch, index)
	require.NoError(t, err)
	return key.Address
}

func TestAdapter_HandleLifecycle(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	h := createHandle(t, a, "watch_only_1")
	assert.Equal(t, "p2wpkh", h.ScriptType, "zpub 强制原生隔离见证")
	assert.Equal(t, chaincfg.MainNetParams.Name, h.Network)

	ok, err := a.HandleExists(ctx, "watch_only_1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = a.CreateFromXpub(ctx, "watch_only_1", bip84Zpub, "mainnet", "p2wpkh")
	assert.True(t, xerr.IsConflict(err))

	_, err = a.CreateFromXpub(ctx, "watch_only_2", "xpub-garbage", "mainnet", "p2wpkh")
	assert.True(t, xerr.IsValidation(err))
	_, err = a.CreateFromXpub(ctx, "watch_only_2", bip84Zpub, "testnet", "p2wpkh")
	assert.True(t, xerr.IsValidation(err), "主网 key 配测试网")

	opened, err := a.OpenHandle(ctx, "watch_only_1")
	require.NoError(t, err)
	assert.Equal(t, h, opened)

	derive(t, a, h, 0, 0)
	require.NoError(t, a.DeleteHandle(ctx, "watch_only_1"))

	_, err = a.OpenHandle(ctx, "watch_only_1")
	assert.True(t, xerr.IsNotFound(err))
	assert.True(t, xerr.IsNotFound(a.DeleteHandle(ctx, "watch_only_1")))

	var n int64
	require.NoError(t, a.store.db.Model(&keyRow{}).Count(&n).Error)
	assert.Zero(t, n, "key 跟着删")
}

func TestAdapter_DeriveKeyAt(t *testing.T) {
	a, _ := newTestAdapter(t)
	h := createHandle(t, a, "w")

	assert.Equal(t, recv0, derive(t, a, h, domain.BranchReceive, 0))
	assert.Equal(t, recv1, derive(t, a, h, domain.BranchReceive, 1))
	assert.Equal(t, change0, derive(t, a, h, domain.BranchChange, 0))
	// 重复派生同一位置
	assert.Equal(t, recv0, derive(t, a, h, domain.BranchReceive, 0))

	keys, err := a.store.keys(context.Background(), h.ID)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "m/84'/0'/0'/0/0", keys[0].Path)
	assert.Equal(t, "m/84'/0'/0'/1/0", keys[2].Path)

	// 清掉缓存，从库里重新加载 xpub
	a.watchers = map[int64]*hdwallet.Watcher{}
	assert.Equal(t, recv1, derive(t, a, h, domain.BranchReceive, 1))

	_, err = a.DeriveKeyAt(context.Background(), h, 1, 0, 0)
	assert.True(t, xerr.IsValidation(err), "账户级 xpub 只能 account 0")
}

func TestAdapter_DeriveKeyAt_ReturnsDerivedPath(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		xpub       string
		network    string
		scriptType string
		branch     uint32
		index      uint32
		wantPath   string
	}{
		{"zpub 主网收款", bip84Zpub, "mainnet", "p2pkh", domain.BranchReceive, 0, "m/84'/0'/0'/0/0"},
		{"zpub 主网找零", bip84Zpub, "mainnet", "p2wpkh", domain.BranchChange, 7, "m/84'/0'/0'/1/7"},
		{"xpub 配 p2pkh", accountXpub(t, &chaincfg.MainNetParams, 44), "mainnet", "p2pkh", domain.BranchReceive, 2, "m/44'/0'/0'/0/2"},
		{"xpub 配 p2sh-p2wpkh", accountXpub(t, &chaincfg.MainNetParams, 49), "mainnet", "p2sh-p2wpkh", domain.BranchReceive, 0, "m/49'/0'/0'/0/0"},
		{"tpub 测试网", accountXpub(t, &chaincfg.TestNet3Params, 84), "testnet", "p2wpkh", domain.BranchReceive, 1, "m/84'/1'/0'/0/1"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := a.CreateFromXpub(ctx, fmt.Sprintf("path_%d", i), tt.xpub, tt.network, tt.scriptType)
			require.NoError(t, err)

			key, err := a.DeriveKeyAt(ctx, h, 0, tt.branch, tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, key.Path)

			keys, err := a.store.keys(ctx, h.ID)
			require.NoError(t, err)
			require.Len(t, keys, 1)
			assert.Equal(t, key.Path, keys[0].Path, "返回的和落库的是同一条路径")
			assert.Equal(t, key.Address, keys[0].Address)
		})
	}
}

func TestAdapter_GetBalance(t *testing.T) {
	a, f := newTestAdapter(t)
	ctx := context.Background()
	h := createHandle(t, a, "w")
	derive(t, a, h, 0, 0)
	derive(t, a, h, 0, 1)
	derive(t, a, h, 1, 0)

	bal, err := a.GetBalance(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.Balance{}, bal)

	f.stats[recv0] = addressStats{
		ChainStats:   chainStats{FundedTxoSum: 150_000, SpentTxoSum: 100_000, TxCount: 2},
		MempoolStats: chainStats{FundedTxoSum: 5_000, TxCount: 1},
	}
	f.stats[change0] = addressStats{ChainStats: chainStats{FundedTxoSum: 40_000, TxCount: 1}}
	// 花费 recv0 并找零到 change0 是同一笔交易
	f.txs[recv0] = []esploraTx{{TxID: "aa"}, {TxID: "bb"}, {TxID: "cc"}}
	f.txs[change0] = []esploraTx{{TxID: "bb"}}

	bal, err = a.GetBalance(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, int64(90_000), bal.Confirmed)
	assert.Equal(t, int64(5_000), bal.Unconfirmed)
	assert.Equal(t, 3, bal.TxCount)

	f.failAll.Store(true)
	_, err = a.GetBalance(ctx, h)
	assert.True(t, xerr.IsUnavailable(err))
}

func TestAdapter_ListTransactions(t *testing.T) {
	a, f := newTestAdapter(t)
	ctx := context.Background()
	h := createHandle(t, a, "w")
	derive(t, a, h, 0, 0)
	derive(t, a, h, 1, 0)

	txs, err := a.ListTransactions(ctx, h)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.NotNil(t, txs)

	older := esploraTx{TxID: "older", Fee: 141, Status: txStatus{Confirmed: true, BlockHeight: 799_990, BlockTime: 1_700_000_000}}
	older.Vin = []txIn{{TxID: "00", Prevout: &prevOut{Address: outsider, Value: 60_000}}}
	older.Vout = []prevOut{{Address: recv0, Value: 50_000}, {Address: outsider, Value: 9_859}}

	newer := esploraTx{TxID: "newer", Status: txStatus{Confirmed: true, BlockHeight: 800_000, BlockTime: 1_700_100_000}}
	newer.Vout = []prevOut{{Address: change0, Value: 1}}
	pending := esploraTx{TxID: "pending"}
	pending.Vin = []txIn{{IsCoinbase: true}}

	f.txs[recv0] = []esploraTx{older, newer}
	f.txs[change0] = []esploraTx{pending, newer}

	txs, err = a.ListTransactions(ctx, h)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, "pending", txs[0].TxID)
	assert.False(t, txs[0].Confirmed)
	assert.Nil(t, txs[0].Date)
	assert.Empty(t, txs[0].Inputs, "coinbase 输入跳过")
	assert.Equal(t, "unconfirmed", txs[0].Status())

	assert.Equal(t, "newer", txs[1].TxID)
	assert.Equal(t, int64(1), txs[1].Confirmations)

	assert.Equal(t, "older", txs[2].TxID)
	assert.Equal(t, int64(11), txs[2].Confirmations)
	require.NotNil(t, txs[2].Date)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), *txs[2].Date)
	assert.Equal(t, []domain.TxIO{{Address: outsider, Value: 60_000}}, txs[2].Inputs)
	assert.Equal(t, int64(141), txs[2].Fee)
}

func TestEsplora_AddressTxsPaging(t *testing.T) {
	var chainCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := func(prefix string, n int) []esploraTx {
			out := make([]esploraTx, n)
			for i := range out {
				out[i] = esploraTx{TxID: fmt.Sprintf("%s%02d", prefix, i), Status: txStatus{Confirmed: true}}
			}
			return out
		}
		var v []esploraTx
		switch {
		case r.URL.Path == "/address/a/txs":
			v = append([]esploraTx{{TxID: "mempool"}}, page("p0-", chainPageSize)...)
		case r.URL.Path == "/address/a/txs/chain/p0-24":
			chainCalls.Add(1)
			v = page("p1-", 3)
		default:
			http.NotFound(w, r)
			return
		}
		b, _ := json.Marshal(v)
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	e := NewEsplora(srv.URL, time.Second, nil)
	txs, err := e.AddressTxs(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, txs, 1+chainPageSize+3)
	assert.Equal(t, int64(1), chainCalls.Load())
}

// fund 给地址造一个 UTXO，同时登记前序交易
func fund(t *testing.T, f *fakeEsplora, addr string, value int64, confirmed bool) wire.OutPoint {
	t.Helper()
	a, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(a)
	require.NoError(t, err)

	prev := wire.NewMsgTx(wire.TxVersion)
	prev.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{byte(value)}, Index: 0}, nil, nil))
	prev.AddTxOut(wire.NewTxOut(value, script))
	var buf bytes.Buffer
	require.NoError(t, prev.Serialize(&buf))

	txid := prev.TxHash().String()
	f.rawTx[txid] = hex.EncodeToString(buf.Bytes())
	f.utxos[addr] = append(f.utxos[addr], utxo{TxID: txid, Vout: 0, Value: value, Status: txStatus{Confirmed: confirmed}})
	return wire.OutPoint{Hash: prev.TxHash(), Index: 0}
}

func scriptOf(t *testing.T, addr string) []byte {
	t.Helper()
	a, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams)
	require.NoError(t, err)
	s, err := txscript.PayToAddrScript(a)
	require.NoError(t, err)
	return s
}

func TestAdapter_CreateUnsignedTx(t *testing.T) {
	a, f := newTestAdapter(t)
	ctx := context.Background()
	h := createHandle(t, a, "w")
	derive(t, a, h, 0, 0)
	derive(t, a, h, 0, 1)
	derive(t, a, h, 1, 0)

	big := fund(t, f, recv0, 100_000, true)
	fund(t, f, recv1, 30_000, true)
	fund(t, f, recv1, 500_000, false)

	b64, err := a.CreateUnsignedTx(ctx, h, domain.UnsignedTxRequest{
		To: outsider, Amount: 60_000, FeeRate: 2, ChangeAddress: change0,
	})
	require.NoError(t, err)

	p, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	require.NoError(t, err)

	// 已确认的大额 UTXO 一个就够
	require.Len(t, p.UnsignedTx.TxIn, 1)
	assert.Equal(t, big, p.UnsignedTx.TxIn[0].PreviousOutPoint)
	require.NotNil(t, p.Inputs[0].WitnessUtxo)
	assert.Equal(t, int64(100_000), p.Inputs[0].WitnessUtxo.Value)
	assert.Equal(t, scriptOf(t, recv0), p.Inputs[0].WitnessUtxo.PkScript)
	assert.Nil(t, p.Inputs[0].RedeemScript)

	require.Len(t, p.UnsignedTx.TxOut, 2)
	var pay, change *wire.TxOut
	for _, o := range p.UnsignedTx.TxOut {
		switch {
		case bytes.Equal(o.PkScript, scriptOf(t, outsider)):
			pay = o
		case bytes.Equal(o.PkScript, scriptOf(t, change0)):
			change = o
		}
	}
	require.NotNil(t, pay)
	require.NotNil(t, change)
	assert.Equal(t, int64(60_000), pay.Value)

	fee := 100_000 - pay.Value - change.Value
	// 1 入 2 出 p2wpkh 约 141 vB
	assert.GreaterOrEqual(t, fee, int64(2*100))
	assert.LessOrEqual(t, fee, int64(2*200))
}

func TestAdapter_CreateUnsignedTx_Errors(t *testing.T) {
	a, f := newTestAdapter(t)
	ctx := context.Background()
	h := createHandle(t, a, "w")
	derive(t, a, h, 0, 0)
	fund(t, f, recv0, 10_000, true)

	_, err := a.CreateUnsignedTx(ctx, h, domain.UnsignedTxRequest{To: outsider, Amount: 10_000, FeeRate: 5, ChangeAddress: change0})
	assert.True(t, xerr.IsValidation(err), "余额刚好等于金额，不够手续费")

	_, err = a.CreateUnsignedTx(ctx, h, domain.UnsignedTxRequest{To: "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", Amount: 1000, FeeRate: 1, ChangeAddress: change0})
	assert.True(t, xerr.IsValidation(err), "测试网地址")
}

func TestAdapter_CreateUnsignedTx_Legacy(t *testing.T) {
	a, f := newTestAdapter(t)
	ctx := context.Background()

	h, err := a.CreateFromXpub(ctx, "legacy", accountXpub(t, &chaincfg.MainNetParams, 44), "mainnet", "p2pkh")
	require.NoError(t, err)
	addr := derive(t, a, h, 0, 0)
	assert.Equal(t, "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA", addr)
	changeAddr := derive(t, a, h, 1, 0)
	fund(t, f, addr, 80_000, true)

	b64, err := a.CreateUnsignedTx(ctx, h, domain.UnsignedTxRequest{To: outsider, Amount: 20_000, FeeRate: 1, ChangeAddress: changeAddr})
	require.NoError(t, err)
	p, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	require.NoError(t, err)
	require.Len(t, p.Inputs, 1)
	require.NotNil(t, p.Inputs[0].NonWitnessUtxo, "legacy 输入带完整前序交易")
	assert.Equal(t, p.UnsignedTx.TxIn[0].PreviousOutPoint.Hash, p.Inputs[0].NonWitnessUtxo.TxHash())
}

func TestAdapter_BroadcastRaw(t *testing.T) {
	a, f := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.BroadcastRaw(ctx, "zz-not-hex")
	assert.True(t, xerr.IsValidation(err))
	assert.Equal(t, int64(0), f.hits.Load(), "格式错误不打后端")

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}, []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(1000, scriptOf(t, outsider)))
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	raw := hex.EncodeToString(buf.Bytes())

	txid, err := a.BroadcastRaw(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash().String(), txid)
	assert.Equal(t, []string{raw}, f.broadcast)

	f.rejectTx.Store(true)
	_, err = a.BroadcastRaw(ctx, raw)
	assert.True(t, xerr.IsValidation(err), "节点拒绝按参数错误处理")
}

func TestEsplora_BreakerOpens(t *testing.T) {
	a, f := newTestAdapter(t)
	ctx := context.Background()
	f.failAll.Store(true)

	for i := 0; i < 3; i++ {
		_, err := a.esplora.TipHeight(ctx)
		assert.True(t, xerr.IsUnavailable(err))
	}
	before := f.hits.Load()

	_, err := a.esplora.TipHeight(ctx)
	assert.True(t, xerr.IsUnavailable(err))
	assert.Equal(t, before, f.hits.Load(), "熔断打开后不再请求后端")

	// 404 是业务结果，不计入熔断
	f.failAll.Store(false)
	for i := 0; i < 4; i++ {
		_, err = a.esplora.TxHex(ctx, "unknown")
		assert.True(t, xerr.IsNotFound(err))
	}
	before = f.hits.Load()
	_, err = a.esplora.TxHex(ctx, "unknown")
	assert.True(t, xerr.IsNotFound(err))
	assert.Equal(t, before+1, f.hits.Load())
}

// accountXpub abandon ... about 助记词的 m/purpose'/coin'/0' 扩展公钥
func accountXpub(t *testing.T, params *chaincfg.Params, purpose uint32) string {
	t.Helper()
	seed := bip39.NewSeed("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", "")
	key, err := hdkeychain.NewMaster(seed, params)
	require.NoError(t, err)
	for _, idx := range []uint32{purpose, params.HDCoinType, 0} {
		key, err = key.Derive(idx + hdkeychain.HardenedKeyStart)
		require.NoError(t, err)
	}
	pub, err := key.Neuter()
	require.NoError(t, err)
	return pub.String()
}
