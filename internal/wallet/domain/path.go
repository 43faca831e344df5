package domain

import (
	"fmt"

	"btcwatch.com/pkg/xerr"
)

// Account 只用账户 0
const Account = 0

const (
	BranchReceive uint32 = 0
	BranchChange  uint32 = 1
)

// Branch isChange -> 0/1
func Branch(isChange bool) uint32 {
	if isChange {
		return BranchChange
	}
	return BranchReceive
}

// BuildPath m/purpose'/coinType'/account'/branch/index
func BuildPath(purpose, coinType, account int, isChange bool, index int64) (string, error) {
	if purpose < 0 || coinType < 0 || account < 0 || index < 0 {
		return "", xerr.New(xerr.RequestParamsError,
			fmt.Sprintf("negative derivation component: %d/%d/%d/%d", purpose, coinType, account, index))
	}
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", purpose, coinType, account, Branch(isChange), index), nil
}
