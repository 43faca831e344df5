package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	DbPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_pool_open",
		Help:      "Current open DB connections",
	})
	DbPoolIdle         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_idle"})
	DbPoolInuse        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_inuse"})
	DbPoolWaitCount    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_wait_count"})
	DbPoolWaitDuration = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_wait_seconds"})

	RedisPoolOpen  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_open"})
	RedisPoolIdle  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_idle"})
	RedisPoolHits  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_hits"})
	RedisPoolMiss  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_misses"})
	RedisPoolStale = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_stale_conns"})
)

// ObserveDB 采样一次 sql.DB 连接池
func ObserveDB(db *sql.DB) {
	s := db.Stats()
	DbPoolOpen.Set(float64(s.OpenConnections))
	DbPoolIdle.Set(float64(s.Idle))
	DbPoolInuse.Set(float64(s.InUse))
	DbPoolWaitCount.Set(float64(s.WaitCount))
	DbPoolWaitDuration.Set(s.WaitDuration.Seconds())
}

// ObserveRedis 采样一次 redis 连接池
func ObserveRedis(rdb *redis.Client) {
	s := rdb.PoolStats()
	RedisPoolOpen.Set(float64(s.TotalConns))
	RedisPoolIdle.Set(float64(s.IdleConns))
	RedisPoolHits.Set(float64(s.Hits))
	RedisPoolMiss.Set(float64(s.Misses))
	RedisPoolStale.Set(float64(s.StaleConns))
}
