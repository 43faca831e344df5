package domain

import (
	"context"
	"fmt"
	"time"

	"btcwatch.com/pkg/xerr"
	"github.com/shopspring/decimal"
)

const (
	PriceCacheID = 1
	PriceTTL     = time.Hour
)

// PriceUnavailable 从来没拿到过价格时返回的哨兵值
var PriceUnavailable = decimal.NewFromInt(-1)

// PriceCacheEntry 单行表，id 固定为 1
type PriceCacheEntry struct {
	ID          int64           `gorm:"primaryKey;autoIncrement:false"`
	Price       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	Change24h   decimal.Decimal `gorm:"column:change_24h;type:decimal(10,4);not null;default:0"`
	Low24h      decimal.Decimal `gorm:"column:low_24h;type:decimal(20,2);not null;default:0"`
	High24h     decimal.Decimal `gorm:"column:high_24h;type:decimal(20,2);not null;default:0"`
	LastUpdated *time.Time
}

func (PriceCacheEntry) TableName() string { return "price_cache" }

// Fresh 一小时内且价格非零
func (e *PriceCacheEntry) Fresh(now time.Time) bool {
	if e.LastUpdated == nil || e.Price.IsZero() {
		return false
	}
	return now.Sub(*e.LastUpdated) <= PriceTTL
}

type Quote struct {
	Price     decimal.Decimal `json:"currentPrice"`
	Change24h decimal.Decimal `json:"change24h"`
	Low24h    decimal.Decimal `json:"low24h"`
	High24h   decimal.Decimal `json:"high24h"`
}

func (q Quote) Available() bool { return q.Price.IsPositive() }

type PricePoint struct {
	Time  time.Time
	Price decimal.Decimal
}

// PriceProvider 行情源
type PriceProvider interface {
	Current(ctx context.Context, currency string) (Quote, error)
	History(ctx context.Context, currency string, days int, interval string) ([]PricePoint, error)
}

type Period string

// PeriodSpec days/interval 传给行情源，LabelLayout 给前端画图
type PeriodSpec struct {
	Days        int
	Interval    string
	LabelLayout string
}

var periods = map[Period]PeriodSpec{
	"24h": {Days: 1, Interval: "hourly", LabelLayout: "15:04"},
	"7d":  {Days: 7, Interval: "daily", LabelLayout: "02/01"},
	"1m":  {Days: 30, Interval: "daily", LabelLayout: "02/01"},
	"6m":  {Days: 180, Interval: "daily", LabelLayout: "Jan/2006"},
	"1y":  {Days: 365, Interval: "daily", LabelLayout: "Jan/2006"},
}

func ParsePeriod(p string) (PeriodSpec, error) {
	spec, ok := periods[Period(p)]
	if !ok {
		return PeriodSpec{}, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid period %q", p))
	}
	return spec, nil
}
