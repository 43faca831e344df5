package service

import "btcwatch.com/internal/wallet/domain"

type TxType string

const (
	TxSent     TxType = "sent"
	TxReceived TxType = "received"
	TxUnknown  TxType = "unknown"
)

type Classification struct {
	Type     TxType
	NetValue int64 // 所有输出之和，不扣找零
}

// Classify 输入里有本钱包地址算 sent，否则输出里有算 received。
// own 只比较一个地址 (钱包的主地址)
func Classify(tx domain.BackendTx, own string) Classification {
	var total int64
	for _, out := range tx.Outputs {
		total += out.Value
	}

	c := Classification{Type: TxUnknown, NetValue: total}
	if own == "" {
		return c
	}
	for _, in := range tx.Inputs {
		if in.Address == own {
			c.Type = TxSent
			return c
		}
	}
	for _, out := range tx.Outputs {
		if out.Address == own {
			c.Type = TxReceived
			return c
		}
	}
	return c
}
