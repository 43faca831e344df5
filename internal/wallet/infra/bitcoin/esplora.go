package bitcoin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"btcwatch.com/pkg/metrics"
	"btcwatch.com/pkg/ratelimit"
	"btcwatch.com/pkg/trace"
	"btcwatch.com/pkg/xerr"
	"github.com/segmentio/encoding/json"
	"go.opentelemetry.io/otel/attribute"
)

// Esplora 区块浏览器 REST 接口 (blockstream.info / mempool.space 同款)
type Esplora struct {
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	breakers *ratelimit.Manager
}

func NewEsplora(baseURL string, timeout time.Duration, breakers *ratelimit.Manager) *Esplora {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if breakers == nil {
		breakers = ratelimit.NewManager(ratelimit.Rule{}, nil)
	}
	return &Esplora{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		timeout:  timeout,
		breakers: breakers,
	}
}

type chainStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
	TxCount      int   `json:"tx_count"`
}

func (c chainStats) balance() int64 { return c.FundedTxoSum - c.SpentTxoSum }

type addressStats struct {
	Address      string     `json:"address"`
	ChainStats   chainStats `json:"chain_stats"`
	MempoolStats chainStats `json:"mempool_stats"`
}

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type prevOut struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Address      string `json:"scriptpubkey_address"`
	Value        int64  `json:"value"`
}

type txIn struct {
	TxID       string   `json:"txid"`
	Vout       uint32   `json:"vout"`
	Prevout    *prevOut `json:"prevout"` // coinbase 为 null
	IsCoinbase bool     `json:"is_coinbase"`
}

type esploraTx struct {
	TxID   string    `json:"txid"`
	Vin    []txIn    `json:"vin"`
	Vout   []prevOut `json:"vout"`
	Fee    int64     `json:"fee"`
	Status txStatus  `json:"status"`
}

type utxo struct {
	TxID   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  int64    `json:"value"`
	Status txStatus `json:"status"`
}

// 一页确认交易的条数，Esplora 写死 25
const chainPageSize = 25

// 单地址最多翻多少页
const maxTxPages = 40

func (e *Esplora) AddressStats(ctx context.Context, addr string) (*addressStats, error) {
	var out addressStats
	err := e.getJSON(ctx, "esplora.address", "/address/"+url.PathEscape(addr), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddressTxs 先拿第一页 (mempool + 最近 25 笔确认)，再按 last_seen_txid 往前翻
func (e *Esplora) AddressTxs(ctx context.Context, addr string) ([]esploraTx, error) {
	var page []esploraTx
	if err := e.getJSON(ctx, "esplora.address_txs", "/address/"+url.PathEscape(addr)+"/txs", &page); err != nil {
		return nil, err
	}
	all := page

	confirmed := 0
	for _, tx := range page {
		if tx.Status.Confirmed {
			confirmed++
		}
	}
	for i := 0; confirmed == chainPageSize && i < maxTxPages; i++ {
		last := all[len(all)-1].TxID
		var next []esploraTx
		path := fmt.Sprintf("/address/%s/txs/chain/%s", url.PathEscape(addr), url.PathEscape(last))
		if err := e.getJSON(ctx, "esplora.address_txs", path, &next); err != nil {
			return nil, err
		}
		all = append(all, next...)
		confirmed = len(next)
	}
	return all, nil
}

func (e *Esplora) AddressUTXOs(ctx context.Context, addr string) ([]utxo, error) {
	var out []utxo
	if err := e.getJSON(ctx, "esplora.address_utxo", "/address/"+url.PathEscape(addr)+"/utxo", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Esplora) TipHeight(ctx context.Context) (int64, error) {
	body, err := e.getText(ctx, "esplora.tip_height", "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseInt(strings.TrimSpace(body), 10, 64)
	if err != nil {
		return 0, xerr.Wrap(err, xerr.BackendUnavailable, "bad tip height from backend")
	}
	return h, nil
}

func (e *Esplora) TxHex(ctx context.Context, txid string) (string, error) {
	body, err := e.getText(ctx, "esplora.tx_hex", "/tx/"+url.PathEscape(txid)+"/hex")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// PostTx 广播，返回 txid
func (e *Esplora) PostTx(ctx context.Context, txHex string) (string, error) {
	var txid string
	err := e.do(ctx, "esplora.broadcast", http.MethodPost, "/tx", strings.NewReader(txHex), func(body []byte) error {
		txid = strings.TrimSpace(string(body))
		return nil
	})
	return txid, err
}

func (e *Esplora) getJSON(ctx context.Context, method, path string, out interface{}) error {
	return e.do(ctx, method, http.MethodGet, path, nil, func(body []byte) error {
		if err := json.Unmarshal(body, out); err != nil {
			return xerr.Wrap(err, xerr.BackendUnavailable, "decode backend response failed")
		}
		return nil
	})
}

func (e *Esplora) getText(ctx context.Context, method, path string) (string, error) {
	var s string
	err := e.do(ctx, method, http.MethodGet, path, nil, func(body []byte) error {
		s = string(body)
		return nil
	})
	return s, err
}

// do 带超时 + 熔断 + 耗时统计
func (e *Esplora) do(ctx context.Context, method, httpMethod, path string, body io.Reader, handle func([]byte) error) error {
	ctx, span := trace.Start(ctx, method, attribute.String("http.path", path))
	start := time.Now()
	err := e.breakers.Do(method, func() error {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, httpMethod, e.baseURL+path, body)
		if err != nil {
			return xerr.Wrap(err, xerr.ServerCommonError, "build backend request failed")
		}
		if body != nil {
			req.Header.Set("Content-Type", "text/plain")
		}

		resp, err := e.http.Do(req)
		if err != nil {
			return xerr.Wrap(err, xerr.BackendUnavailable, "chain backend unavailable")
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return xerr.Wrap(err, xerr.BackendUnavailable, "read backend response failed")
		}
		if err := statusError(resp.StatusCode, raw); err != nil {
			return err
		}
		return handle(raw)
	})
	metrics.BackendCallDuration.WithLabelValues(method, metrics.Status(err)).Observe(time.Since(start).Seconds())
	trace.End(span, err)
	return err
}

func statusError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	switch {
	case code == http.StatusBadRequest:
		// 广播被节点拒绝 (双花、手续费太低...) 属于请求问题
		return xerr.New(xerr.RequestParamsError, "rejected by backend: "+msg)
	case code == http.StatusNotFound:
		return xerr.New(xerr.RecordNotFound, "not found in backend")
	default:
		return xerr.New(xerr.BackendUnavailable, fmt.Sprintf("chain backend returned status %d: %s", code, msg))
	}
}
