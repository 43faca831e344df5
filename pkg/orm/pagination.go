package orm

import "gorm.io/gorm"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Paginate 分页 scope，page 从 1 开始。
// page <= 0 时不分页 (聚合接口要全量)，limit 缺省 20，最大 100
func Paginate(page, limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if page <= 0 {
			return db
		}
		switch {
		case limit <= 0:
			limit = DefaultPageSize
		case limit > MaxPageSize:
			limit = MaxPageSize
		}
		return db.Offset((page - 1) * limit).Limit(limit)
	}
}
