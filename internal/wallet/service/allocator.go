package service

import (
	"context"
	"fmt"
	"math"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/metrics"
	"btcwatch.com/pkg/xerr"
	"go.uber.org/zap"
)

const defaultAllocateAttempts = 3

type addressStore interface {
	domain.Repository
	domain.AddressRepo
}

// AddressAllocator 按 (钱包, 收款/找零) 分配连续的派生序号
type AddressAllocator struct {
	repo        addressStore
	gateway     domain.Gateway
	locker      Locker
	maxAttempts int
}

func NewAddressAllocator(repo addressStore, gateway domain.Gateway, locker Locker) *AddressAllocator {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &AddressAllocator{
		repo:        repo,
		gateway:     gateway,
		locker:      locker,
		maxAttempts: defaultAllocateAttempts,
	}
}

func allocKey(walletID int64, isChange bool) string {
	return fmt.Sprintf("wallet:alloc:%d:%t", walletID, isChange)
}

// Allocate 从当前最大序号 +1 开始派生 count 个地址，按序号升序返回。
// 一次调用的所有地址同事务落库，任何一个失败整批回滚
func (a *AddressAllocator) Allocate(ctx context.Context, w *domain.Wallet, h domain.Handle, count int, isChange bool) ([]*domain.Address, error) {
	if count <= 0 {
		return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("address count must be positive, got %d", count))
	}

	unlock, err := a.locker.Acquire(ctx, allocKey(w.ID, isChange))
	if err != nil {
		return nil, xerr.Wrap(err, xerr.BackendUnavailable, "address allocation busy")
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		addrs, err := a.allocateOnce(ctx, w, h, count, isChange)
		if err == nil {
			return addrs, nil
		}
		if !xerr.IsConflict(err) {
			return nil, err
		}

		// 锁失效或者别的实例没走锁，唯一索引兜住了，重读最大序号再来
		metrics.AllocationConflictTotal.Inc()
		logger.Warn(ctx, "address index conflict",
			zap.Int64("wallet_id", w.ID),
			zap.Bool("is_change", isChange),
			zap.Int("attempt", attempt),
		)
		if attempt >= a.maxAttempts {
			return nil, xerr.Wrap(err, xerr.BackendUnavailable, "address index allocation conflict")
		}
	}
}

func (a *AddressAllocator) allocateOnce(ctx context.Context, w *domain.Wallet, h domain.Handle, count int, isChange bool) ([]*domain.Address, error) {
	highest, err := a.repo.HighestIndex(ctx, w.ID, isChange)
	if err != nil {
		return nil, err
	}
	start := highest + 1

	addrs := make([]*domain.Address, 0, count)
	for i := start; i < start+int64(count); i++ {
		if i > math.MaxUint32 {
			return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("derivation index %d out of range", i))
		}
		// 路径用后端实际派生的，本地不再自己拼
		key, err := a.gateway.DeriveKeyAt(ctx, h, domain.Account, domain.Branch(isChange), uint32(i))
		if err != nil {
			return nil, xerr.Wrap(err, xerr.BackendUnavailable, "derivation failed")
		}
		addrs = append(addrs, &domain.Address{
			WalletID: w.ID,
			IsChange: isChange,
			Index:    uint32(i),
			Path:     key.Path,
			Address:  key.Address,
		})
	}

	err = a.repo.Transaction(ctx, func(ctx context.Context) error {
		return a.repo.CreateAddresses(ctx, addrs)
	})
	if err != nil {
		if xerr.IsConflict(err) {
			return nil, err
		}
		return nil, xerr.Wrap(err, xerr.BackendUnavailable, "derivation failed")
	}

	logger.Info(ctx, "addresses allocated",
		zap.Int64("wallet_id", w.ID),
		zap.Bool("is_change", isChange),
		zap.Int64("from", start),
		zap.Int("count", count),
	)
	return addrs, nil
}
