package wallet

import (
	"time"

	"btcwatch.com/internal/wallet/http"
	"btcwatch.com/internal/wallet/infra/bitcoin"
	"btcwatch.com/internal/wallet/infra/coingecko"
	"btcwatch.com/pkg/orm"
	"btcwatch.com/pkg/ratelimit"
	"btcwatch.com/pkg/trace"
	"btcwatch.com/pkg/xredis"
)

type Cfg struct {
	Name      string        `yaml:"name" mapstructure:"name"`
	Log       Log           `yaml:"log" mapstructure:"log"`
	Trace     trace.Config  `yaml:"trace" mapstructure:"trace"`
	HTTP      http.Options  `yaml:"http" mapstructure:"http"`
	Db        orm.Config    `yaml:"db" mapstructure:"db"`
	Redis     xredis.Config `yaml:"redis" mapstructure:"redis"` // addr 为空时用进程内锁
	Bitcoin   Bitcoin       `yaml:"bitcoin" mapstructure:"bitcoin"`
	Backend   Backend       `yaml:"backend" mapstructure:"backend"`
	Price     Price         `yaml:"price" mapstructure:"price"`
	Ledger    Ledger        `yaml:"ledger" mapstructure:"ledger"`
	RateLimit RateLimit     `yaml:"ratelimit" mapstructure:"ratelimit"`
	Fee       Fee           `yaml:"fee" mapstructure:"fee"`
}

type Log struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

type Bitcoin struct {
	Network    string             `yaml:"network" mapstructure:"network"`         // mainnet | testnet | signet | regtest
	ScriptType string             `yaml:"script_type" mapstructure:"script_type"` // p2pkh | p2sh-p2wpkh | p2wpkh
	EsploraURL string             `yaml:"esplora_url" mapstructure:"esplora_url"`
	RPC        bitcoin.NodeConfig `yaml:"rpc" mapstructure:"rpc"` // host 为空时广播走 esplora
}

type Backend struct {
	Timeout   time.Duration  `yaml:"timeout" mapstructure:"timeout"`
	Breaker   ratelimit.Rule `yaml:"breaker" mapstructure:"breaker"`
	PerMethod []MethodRule   `yaml:"per_method" mapstructure:"per_method"`
}

// MethodRule 方法名带点，viper 的 map key 会被拆开，所以用列表
type MethodRule struct {
	Method         string `yaml:"method" mapstructure:"method"`
	ratelimit.Rule `yaml:",inline" mapstructure:",squash"`
}

func (b Backend) Rules() map[string]ratelimit.Rule {
	out := make(map[string]ratelimit.Rule, len(b.PerMethod))
	for _, r := range b.PerMethod {
		out[r.Method] = r.Rule
	}
	return out
}

type Price struct {
	coingecko.Config `yaml:",inline" mapstructure:",squash"`
	Currency         string `yaml:"currency" mapstructure:"currency"`
	Timezone         string `yaml:"timezone" mapstructure:"timezone"`
}

type Ledger struct {
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism"`
}

type RateLimit struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	RPS     float64       `yaml:"rps" mapstructure:"rps"`
	Burst   int           `yaml:"burst" mapstructure:"burst"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type Fee struct {
	DefaultRate int64 `yaml:"default_rate" mapstructure:"default_rate"` // sat/vB
}

// Defaults 配置文件没写的 key
func Defaults() map[string]any {
	return map[string]any{
		"name":                "wallet-service",
		"log.level":           "info",
		"http.addr":           ":8080",
		"http.mode":           "release",
		"db.type":             "mysql",
		"bitcoin.network":     "mainnet",
		"bitcoin.script_type": "p2wpkh",
		"bitcoin.esplora_url": "https://blockstream.info/api",
		"backend.timeout":     "30s",
		"price.provider_url":  "https://api.coingecko.com/api/v3",
		"price.currency":      "brl",
		"price.timeout":       "10s",
		"price.timezone":      "UTC",
		"ledger.parallelism":  4,
		"ratelimit.enabled":   true,
		"ratelimit.rps":       20,
		"ratelimit.burst":     40,
		"ratelimit.ttl":       "10m",
		"fee.default_rate":    2,
	}
}
