package http

import (
	"net/http"
	"time"

	"btcwatch.com/internal/wallet/handler"
	"btcwatch.com/internal/wallet/http/router"
	"btcwatch.com/pkg/middleware"
	"btcwatch.com/pkg/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Options struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Mode         string        `mapstructure:"mode"` // debug | release | test
}

// NewEngine 中间件顺序：trace -> 请求 id -> 用户 -> cors -> recover -> 限流
func NewEngine(h *handler.Wallet, store *ratelimit.Store, withMetrics bool) *gin.Engine {
	r := gin.New()
	if withMetrics {
		p := ginprom.NewPrometheus("btcwatch")
		p.Use(r)
	}
	r.Use(
		otelgin.Middleware("wallet-service"),
		middleware.Trace(),
		middleware.ReqId(),
		middleware.UserID(),
		cors.Default(),
		middleware.Recover(),
	)
	if store != nil {
		r.Use(middleware.RateLimit(store))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := r.Group("/api")
	router.Wallet(api, h)
	router.Transaction(api, h)
	return r
}

func NewServer(o Options, h *handler.Wallet, store *ratelimit.Store) *http.Server {
	if o.Mode != "" {
		gin.SetMode(o.Mode)
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		// 聚合接口要等所有钱包的后端调用
		o.WriteTimeout = 60 * time.Second
	}
	return &http.Server{
		Addr:           o.Addr,
		Handler:        NewEngine(h, store, true),
		ReadTimeout:    o.ReadTimeout,
		WriteTimeout:   o.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
