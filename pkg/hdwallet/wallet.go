// 只读钱包：从账户级扩展公钥派生地址，不接触任何私钥
package hdwallet

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

type ScriptType string

const (
	ScriptP2PKH      ScriptType = "p2pkh"       // 1... 传统地址
	ScriptP2SHP2WPKH ScriptType = "p2sh-p2wpkh" // 3... 兼容隔离见证
	ScriptP2WPKH     ScriptType = "p2wpkh"      // bc1q... 原生隔离见证
)

var (
	ErrPrivateKey     = errors.New("hdwallet: extended private key not accepted")
	ErrNetMismatch    = errors.New("hdwallet: extended key is for another network")
	ErrUnknownScript  = errors.New("hdwallet: unknown script type")
	ErrUnknownNetwork = errors.New("hdwallet: unknown network")
)

// ParseNetwork mainnet | testnet | regtest | signet
func ParseNetwork(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
}

func ParseScriptType(s string) (ScriptType, error) {
	switch ScriptType(strings.ToLower(s)) {
	case "", "segwit", ScriptP2WPKH:
		return ScriptP2WPKH, nil
	case "p2sh-segwit", ScriptP2SHP2WPKH:
		return ScriptP2SHP2WPKH, nil
	case "legacy", ScriptP2PKH:
		return ScriptP2PKH, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownScript, s)
	}
}

// PkScriptSize 该脚本类型输出脚本的字节数，给找零估算用
func (s ScriptType) PkScriptSize() int {
	switch s {
	case ScriptP2PKH:
		return txsizes.P2PKHPkScriptSize
	case ScriptP2SHP2WPKH:
		return txsizes.NestedP2WPKHPkScriptSize
	default:
		return txsizes.P2WPKHPkScriptSize
	}
}

// Watcher 持有账户级 xpub (m/purpose'/coin'/account')，只能做非硬化派生
type Watcher struct {
	accountKey *hdkeychain.ExtendedKey
	params     *chaincfg.Params
	script     ScriptType

	mu       sync.Mutex
	branches map[uint32]*hdkeychain.ExtendedKey // branch 级 key 缓存
}

// NewWatcher 解析扩展公钥。
// zpub/vpub 强制 p2wpkh，ypub/upub 强制 p2sh-p2wpkh，xpub/tpub 用调用方给的 script
func NewWatcher(xpub string, params *chaincfg.Params, script ScriptType) (*Watcher, error) {
	xpub = strings.TrimSpace(xpub)
	if len(xpub) < 4 {
		return nil, errors.New("hdwallet: extended key too short")
	}

	prefix := xpub[:4]
	mainnetPrefix := false
	switch prefix {
	case "xprv", "yprv", "zprv", "tprv", "uprv", "vprv":
		return nil, ErrPrivateKey
	case "xpub":
		mainnetPrefix = true
	case "ypub":
		mainnetPrefix, script = true, ScriptP2SHP2WPKH
	case "zpub":
		mainnetPrefix, script = true, ScriptP2WPKH
	case "tpub":
	case "upub":
		script = ScriptP2SHP2WPKH
	case "vpub":
		script = ScriptP2WPKH
	default:
		return nil, fmt.Errorf("hdwallet: unsupported extended key prefix %q", prefix)
	}
	if mainnetPrefix != (params.Net == chaincfg.MainNetParams.Net) {
		return nil, ErrNetMismatch
	}
	if _, err := ParseScriptType(string(script)); err != nil {
		return nil, err
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("hdwallet: parse extended key: %w", err)
	}
	if key.IsPrivate() {
		return nil, ErrPrivateKey
	}

	return &Watcher{
		accountKey: key,
		params:     params,
		script:     script,
		branches:   make(map[uint32]*hdkeychain.ExtendedKey, 2),
	}, nil
}

func (w *Watcher) ScriptType() ScriptType    { return w.script }
func (w *Watcher) Params() *chaincfg.Params { return w.params }

// AddressAt 派生 account/branch/index 的地址。account 只能是 0 (xpub 本身就是账户 key)
func (w *Watcher) AddressAt(account, branch, index uint32) (btcutil.Address, error) {
	if account != 0 {
		return nil, fmt.Errorf("hdwallet: account %d not derivable from account-level key", account)
	}
	pub, err := w.PubKeyAt(branch, index)
	if err != nil {
		return nil, err
	}
	return EncodeAddress(pub.SerializeCompressed(), w.script, w.params)
}

// PubKeyAt branch/index 处的公钥
func (w *Watcher) PubKeyAt(branch, index uint32) (*btcec.PublicKey, error) {
	if branch >= hdkeychain.HardenedKeyStart || index >= hdkeychain.HardenedKeyStart {
		return nil, errors.New("hdwallet: hardened derivation needs a private key")
	}
	branchKey, err := w.branchKey(branch)
	if err != nil {
		return nil, err
	}
	child, err := branchKey.Derive(index)
	if err != nil {
		return nil, err
	}
	return child.ECPubKey()
}

// RedeemScript p2sh-p2wpkh 花费时需要的赎回脚本，其它类型返回 nil
func (w *Watcher) RedeemScript(branch, index uint32) ([]byte, error) {
	if w.script != ScriptP2SHP2WPKH {
		return nil, nil
	}
	pub, err := w.PubKeyAt(branch, index)
	if err != nil {
		return nil, err
	}
	wpkh, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), w.params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(wpkh)
}

// Purpose BIP44/49/84 里对应的 purpose
func (s ScriptType) Purpose() int {
	switch s {
	case ScriptP2PKH:
		return 44
	case ScriptP2SHP2WPKH:
		return 49
	default:
		return 84
	}
}

func (w *Watcher) branchKey(branch uint32) (*hdkeychain.ExtendedKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if k, ok := w.branches[branch]; ok {
		return k, nil
	}
	k, err := w.accountKey.Derive(branch)
	if err != nil {
		return nil, err
	}
	w.branches[branch] = k
	return k, nil
}

// EncodeAddress 压缩公钥 -> 地址
func EncodeAddress(compressedPub []byte, script ScriptType, params *chaincfg.Params) (btcutil.Address, error) {
	hash := btcutil.Hash160(compressedPub)
	switch script {
	case ScriptP2PKH:
		return btcutil.NewAddressPubKeyHash(hash, params)
	case ScriptP2WPKH:
		return btcutil.NewAddressWitnessPubKeyHash(hash, params)
	case ScriptP2SHP2WPKH:
		wpkh, err := btcutil.NewAddressWitnessPubKeyHash(hash, params)
		if err != nil {
			return nil, err
		}
		redeem, err := txscript.PayToAddrScript(wpkh)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(redeem, params)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownScript, script)
	}
}
