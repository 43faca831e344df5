package coingecko

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/metrics"
	"btcwatch.com/pkg/ratelimit"
	"btcwatch.com/pkg/trace"
	"btcwatch.com/pkg/xerr"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	coinID         = "bitcoin"
)

type Config struct {
	BaseURL string        `mapstructure:"provider_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client CoinGecko 公共行情接口
type Client struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	breakers *ratelimit.Manager
}

var _ domain.PriceProvider = (*Client)(nil)

func New(c Config, breakers *ratelimit.Manager) *Client {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if breakers == nil {
		breakers = ratelimit.NewManager(ratelimit.Rule{}, nil)
	}
	return &Client{
		baseURL:  strings.TrimRight(c.BaseURL, "/"),
		apiKey:   c.APIKey,
		timeout:  c.Timeout,
		http:     &http.Client{},
		breakers: breakers,
	}
}

type market struct {
	ID                       string          `json:"id"`
	CurrentPrice             decimal.Decimal `json:"current_price"`
	PriceChangePercentage24h decimal.Decimal `json:"price_change_percentage_24h"`
	Low24h                   decimal.Decimal `json:"low_24h"`
	High24h                  decimal.Decimal `json:"high_24h"`
}

// Current /coins/markets 一次拿到现价和 24h 统计
func (c *Client) Current(ctx context.Context, currency string) (domain.Quote, error) {
	q := url.Values{}
	q.Set("vs_currency", strings.ToLower(currency))
	q.Set("ids", coinID)

	var markets []market
	if err := c.get(ctx, "coingecko.markets", "/coins/markets", q, &markets); err != nil {
		return domain.Quote{}, err
	}
	for _, m := range markets {
		if m.ID != coinID {
			continue
		}
		return domain.Quote{
			Price:     m.CurrentPrice,
			Change24h: m.PriceChangePercentage24h,
			Low24h:    m.Low24h,
			High24h:   m.High24h,
		}, nil
	}
	return domain.Quote{}, xerr.New(xerr.BackendUnavailable, "price provider returned no bitcoin market")
}

// History /coins/bitcoin/market_chart，prices 是 [毫秒时间戳, 价格] 数组
func (c *Client) History(ctx context.Context, currency string, days int, interval string) ([]domain.PricePoint, error) {
	q := url.Values{}
	q.Set("vs_currency", strings.ToLower(currency))
	q.Set("days", strconv.Itoa(days))
	if interval != "" {
		q.Set("interval", interval)
	}

	var chart struct {
		Prices [][]decimal.Decimal `json:"prices"`
	}
	if err := c.get(ctx, "coingecko.market_chart", "/coins/"+coinID+"/market_chart", q, &chart); err != nil {
		return nil, err
	}

	out := make([]domain.PricePoint, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		if len(p) < 2 {
			continue
		}
		out = append(out, domain.PricePoint{
			Time:  time.UnixMilli(p[0].IntPart()).UTC(),
			Price: p[1],
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, method, path string, q url.Values, out interface{}) error {
	ctx, span := trace.Start(ctx, method, attribute.String("http.path", path))
	start := time.Now()
	err := c.breakers.Do(method, func() error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return xerr.Wrap(err, xerr.ServerCommonError, "build price request failed")
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return xerr.Wrap(err, xerr.BackendUnavailable, "price provider unavailable")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return xerr.New(xerr.BackendUnavailable,
				fmt.Sprintf("price provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return xerr.Wrap(err, xerr.BackendUnavailable, "decode price response failed")
		}
		return nil
	})
	metrics.BackendCallDuration.WithLabelValues(method, metrics.Status(err)).Observe(time.Since(start).Seconds())
	trace.End(span, err)
	return err
}
