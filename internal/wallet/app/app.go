package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"btcwatch.com/internal/wallet"
	ghttp "btcwatch.com/internal/wallet/http"
	"btcwatch.com/internal/wallet/handler"
	"btcwatch.com/internal/wallet/infra/bitcoin"
	"btcwatch.com/internal/wallet/infra/coingecko"
	"btcwatch.com/internal/wallet/infra/persistence"
	"btcwatch.com/internal/wallet/service"
	"btcwatch.com/pkg/config"
	"btcwatch.com/pkg/hdwallet"
	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/metrics"
	"btcwatch.com/pkg/orm"
	"btcwatch.com/pkg/ratelimit"
	"btcwatch.com/pkg/safe"
	"btcwatch.com/pkg/trace"
	"btcwatch.com/pkg/xredis"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type App struct {
	cfg *wallet.Cfg

	traceShutdown func(context.Context) error

	db      *gorm.DB
	sqlDB   *sql.DB
	rdb     *redis.Client
	adapter *bitcoin.Adapter
	handler *handler.Wallet
	limiter *ratelimit.Store
}

func New(configName string) (*App, error) {
	if configName == "" {
		configName = "wallet-service"
	}
	cfg := &wallet.Cfg{}
	if _, err := config.LoadAndWatch(configName, cfg,
		config.WithDefaults(wallet.Defaults()),
	); err != nil {
		return nil, fmt.Errorf("load config %s: %w", configName, err)
	}
	return &App{cfg: cfg}, nil
}

// Cfg 启动后的配置快照
func (app *App) Cfg() *wallet.Cfg { return app.cfg }

// StartService 初始化日志、数据库、链后端和行情源，返回需要关闭的资源
func (app *App) StartService(ctx context.Context) (func(), error) {
	logger.InitWithFile(app.cfg.Name, app.cfg.Log.Level, app.cfg.Log.File)
	// 金额/价格按数字输出
	decimal.MarshalJSONWithoutQuotes = true

	shutdown, err := trace.Init(ctx, app.cfg.Name, app.cfg.Trace)
	if err != nil {
		return nil, err
	}
	app.traceShutdown = shutdown

	if err := app.startDB(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.startRedis(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.startWallet(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	app.observePools(ctx)

	return func() {
		app.closeAll()
		logger.Sync()
	}, nil
}

func (app *App) StartHttp() *http.Server {
	return ghttp.NewServer(app.cfg.HTTP, app.handler, app.limiter)
}

func (app *App) startDB(ctx context.Context) error {
	db, err := orm.Open(&app.cfg.Db)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("ping db: %w", err)
	}
	app.db, app.sqlDB = db, sqlDB
	return nil
}

// startRedis 没配 addr 就跳过，地址分配用进程内锁
func (app *App) startRedis(ctx context.Context) error {
	if app.cfg.Redis.Addr == "" {
		logger.Info(ctx, "redis not configured, using local allocation lock")
		return nil
	}
	rdb, err := xredis.NewRedis(ctx, &app.cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	app.rdb = rdb
	return nil
}

func (app *App) startWallet(ctx context.Context) error {
	cfg := app.cfg

	network, err := hdwallet.ParseNetwork(cfg.Bitcoin.Network)
	if err != nil {
		return err
	}
	if _, err := hdwallet.ParseScriptType(cfg.Bitcoin.ScriptType); err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Price.Timezone)
	if err != nil {
		return fmt.Errorf("price timezone %q: %w", cfg.Price.Timezone, err)
	}

	repo := persistence.New(app.db)
	if err := repo.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("migrate wallet tables: %w", err)
	}

	// esplora、coingecko、节点 rpc 共用一组熔断器，按方法名区分
	breakers := ratelimit.NewManager(cfg.Backend.Breaker, cfg.Backend.Rules())

	adapter := bitcoin.New(app.db, bitcoin.NewEsplora(cfg.Bitcoin.EsploraURL, cfg.Backend.Timeout, breakers), breakers)
	if err := adapter.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("migrate backend tables: %w", err)
	}
	if cfg.Bitcoin.RPC.Host != "" {
		if _, err := adapter.WithNode(cfg.Bitcoin.RPC); err != nil {
			return fmt.Errorf("connect bitcoin node: %w", err)
		}
		logger.Info(ctx, "broadcast via bitcoin node", zap.String("host", cfg.Bitcoin.RPC.Host))
	}
	app.adapter = adapter

	var locker service.Locker = service.NewLocalLocker()
	if app.rdb != nil {
		locker = service.NewRedisLocker(app.rdb, 10*time.Second)
	}

	provider := coingecko.New(cfg.Price.Config, breakers)
	prices := service.NewPriceCache(repo, provider, cfg.Price.Currency, cfg.Price.Timeout)
	ledger := service.NewLedger(adapter, prices, repo, cfg.Ledger.Parallelism)
	allocator := service.NewAddressAllocator(repo, adapter, locker)

	svc := service.NewWalletService(repo, adapter, allocator, ledger, prices, provider, service.Options{
		Network:        network,
		ScriptType:     cfg.Bitcoin.ScriptType,
		Currency:       cfg.Price.Currency,
		DefaultFeeRate: cfg.Fee.DefaultRate,
		Location:       loc,
	})
	app.handler = handler.NewWallet(svc)

	if cfg.RateLimit.Enabled {
		app.limiter = ratelimit.NewStore(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst, cfg.RateLimit.TTL)
		app.limiter.StartJanitor(ctx, time.Minute)
	}

	logger.Info(ctx, "wallet service ready",
		zap.String("network", network.Name),
		zap.String("script_type", cfg.Bitcoin.ScriptType),
		zap.String("esplora", cfg.Bitcoin.EsploraURL),
		zap.String("currency", cfg.Price.Currency),
	)
	return nil
}

// observePools 每 5 秒采一次连接池
func (app *App) observePools(ctx context.Context) {
	safe.GoCtx(ctx, func(ctx context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				metrics.ObserveDB(app.sqlDB)
				if app.rdb != nil {
					metrics.ObserveRedis(app.rdb)
				}
			}
		}
	})
}

func (app *App) closeAll() {
	if app.adapter != nil {
		app.adapter.Close()
	}
	if app.rdb != nil {
		if err := app.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			logger.Warn(context.Background(), "close redis", zap.Error(err))
		}
	}
	if app.sqlDB != nil {
		_ = app.sqlDB.Close()
	}
	if app.traceShutdown != nil {
		// 最多给 5 秒 flush trace
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.traceShutdown(ctx); err != nil {
			logger.Warn(ctx, "shutdown tracer", zap.Error(err))
		}
	}
}
