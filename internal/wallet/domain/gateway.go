package domain

import (
	"context"
	"time"
)

// Handle 链后端里的一个只读钱包
type Handle struct {
	ID         int64
	Name       string
	Network    string
	ScriptType string
}

// Balance 聪
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
	TxCount     int
}

func (b Balance) Total() int64 { return b.Confirmed + b.Unconfirmed }

type TxIO struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

type BackendTx struct {
	TxID          string
	Confirmed     bool
	Confirmations int64
	Date          *time.Time // 未确认交易没有时间
	Inputs        []TxIO
	Outputs       []TxIO
	Fee           int64
}

func (t BackendTx) Status() string {
	if t.Confirmed {
		return "confirmed"
	}
	return "unconfirmed"
}

// DerivedKey 派生出的地址和它实际的派生路径
type DerivedKey struct {
	Address string
	Path    string
}

// UnsignedTxRequest 构造未签名交易
type UnsignedTxRequest struct {
	To            string
	Amount        int64 // 聪
	FeeRate       int64 // sat/vB
	ChangeAddress string
}

// Gateway 链后端。所有方法都是外部调用，必须带超时的 ctx
type Gateway interface {
	CreateFromXpub(ctx context.Context, name, xpub, network, scriptType string) (Handle, error)
	HandleExists(ctx context.Context, name string) (bool, error)
	// OpenHandle 不存在时返回 RecordNotFound
	OpenHandle(ctx context.Context, name string) (Handle, error)
	DeleteHandle(ctx context.Context, name string) error
	// DeriveKeyAt 路径的 purpose/coin type 由后端按 key 的脚本类型和网络决定
	DeriveKeyAt(ctx context.Context, h Handle, account, branch, index uint32) (DerivedKey, error)
	GetBalance(ctx context.Context, h Handle) (Balance, error)
	ListTransactions(ctx context.Context, h Handle) ([]BackendTx, error)
	// CreateUnsignedTx 返回 base64 PSBT
	CreateUnsignedTx(ctx context.Context, h Handle, req UnsignedTxRequest) (string, error)
	BroadcastRaw(ctx context.Context, txHex string) (string, error)
}
