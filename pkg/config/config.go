package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type options struct {
	paths    []string
	defaults map[string]any
	onChange func()
}

type Option func(*options)

// WithPaths 替换默认的搜索目录 (./config, .)
func WithPaths(paths ...string) Option {
	return func(o *options) { o.paths = paths }
}

// WithDefaults 配置文件里没写的 key 用这里的值，env 覆盖同样生效
func WithDefaults(defaults map[string]any) Option {
	return func(o *options) { o.defaults = defaults }
}

// OnChange 热更新成功后回调
func OnChange(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}

func LoadAndWatch(service string, out interface{}, opts ...Option) (*viper.Viper, error) {
	o := &options{paths: []string{"./config", "."}}
	for _, opt := range opts {
		opt(o)
	}

	v := viper.New()
	// 约定：config/{service}.yaml
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range o.paths {
		v.AddConfigPath(p)
	}
	for k, val := range o.defaults {
		v.SetDefault(k, val)
	}

	// 环境变量覆盖，例如：
	//   WALLET-SERVICE 前缀会被规整成 WALLET_SERVICE
	//   WALLET_SERVICE_HTTP_ADDR 覆盖 http.addr
	v.SetEnvPrefix(EnvPrefix(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)

		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		if o.onChange != nil {
			o.onChange()
		}
		log.Printf("[%s] config reloaded OK", service)
	})

	return v, nil
}

// EnvPrefix 服务名转环境变量前缀
func EnvPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
