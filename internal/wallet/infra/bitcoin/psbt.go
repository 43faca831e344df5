package bitcoin

import (
	"bytes"
	"encoding/hex"
	"errors"
	"sort"

	"btcwatch.com/pkg/hdwallet"
	"btcwatch.com/pkg/xerr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
)

// spendable 一个可花的 UTXO 以及它属于哪个 key
type spendable struct {
	OutPoint  wire.OutPoint
	Value     int64
	PkScript  []byte
	Confirmed bool
	Branch    uint32
	Index     uint32
}

// orderCoins 已确认的优先，同组内大额优先，尽量少用输入
func orderCoins(coins []spendable) {
	sort.SliceStable(coins, func(i, j int) bool {
		if coins[i].Confirmed != coins[j].Confirmed {
			return coins[i].Confirmed
		}
		return coins[i].Value > coins[j].Value
	})
}

// inputSource 按顺序逐个加输入直到够 target
func inputSource(eligible []spendable) txauthor.InputSource {
	total := btcutil.Amount(0)
	inputs := make([]*wire.TxIn, 0, len(eligible))
	scripts := make([][]byte, 0, len(eligible))
	values := make([]btcutil.Amount, 0, len(eligible))

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn, []btcutil.Amount, [][]byte, error) {
		for total < target && len(eligible) != 0 {
			next := eligible[0]
			eligible = eligible[1:]

			op := next.OutPoint
			inputs = append(inputs, wire.NewTxIn(&op, nil, nil))
			scripts = append(scripts, next.PkScript)
			values = append(values, btcutil.Amount(next.Value))
			total += btcutil.Amount(next.Value)
		}
		return total, inputs, values, scripts, nil
	}
}

type unsignedSpec struct {
	Coins        []spendable
	ToScript     []byte
	Amount       int64
	FeeRate      int64 // sat/vB
	ChangeScript []byte
	Watcher      *hdwallet.Watcher
	// PrevTx legacy 输入要带完整前序交易
	PrevTx func(txid string) (*wire.MsgTx, error)
}

// buildPSBT 选币 + 找零 + 导出 PSBT，不签名
func buildPSBT(spec unsignedSpec) (*psbt.Packet, *txauthor.AuthoredTx, error) {
	orderCoins(spec.Coins)
	byOutPoint := make(map[wire.OutPoint]spendable, len(spec.Coins))
	for _, c := range spec.Coins {
		byOutPoint[c.OutPoint] = c
	}

	outputs := []*wire.TxOut{wire.NewTxOut(spec.Amount, spec.ToScript)}
	change := &txauthor.ChangeSource{
		NewScript:  func() ([]byte, error) { return spec.ChangeScript, nil },
		ScriptSize: spec.Watcher.ScriptType().PkScriptSize(),
	}
	// sat/vB -> sat/kvB
	feePerKb := btcutil.Amount(spec.FeeRate * 1000)

	authored, err := txauthor.NewUnsignedTransaction(outputs, feePerKb, inputSource(spec.Coins), change)
	if err != nil {
		var insufficient txauthor.InputSourceError
		if errors.As(err, &insufficient) {
			return nil, nil, xerr.New(xerr.RequestParamsError, "insufficient balance to cover amount and fee")
		}
		return nil, nil, xerr.Wrap(err, xerr.ServerCommonError, "build transaction failed")
	}
	authored.RandomizeChangePosition()

	packet, err := psbt.NewFromUnsignedTx(authored.Tx)
	if err != nil {
		return nil, nil, xerr.Wrap(err, xerr.ServerCommonError, "create psbt failed")
	}

	legacy := spec.Watcher.ScriptType() == hdwallet.ScriptP2PKH
	for i, in := range authored.Tx.TxIn {
		coin := byOutPoint[in.PreviousOutPoint]
		pin := &packet.Inputs[i]

		if legacy {
			prev, err := spec.PrevTx(in.PreviousOutPoint.Hash.String())
			if err != nil {
				return nil, nil, err
			}
			pin.NonWitnessUtxo = prev
		} else {
			pin.WitnessUtxo = wire.NewTxOut(int64(authored.PrevInputValues[i]), authored.PrevScripts[i])
		}

		redeem, err := spec.Watcher.RedeemScript(coin.Branch, coin.Index)
		if err != nil {
			return nil, nil, xerr.Wrap(err, xerr.ServerCommonError, "derive redeem script failed")
		}
		pin.RedeemScript = redeem
	}
	return packet, authored, nil
}

func encodePSBT(p *psbt.Packet) (string, error) {
	s, err := p.B64Encode()
	if err != nil {
		return "", xerr.Wrap(err, xerr.ServerCommonError, "encode psbt failed")
	}
	return s, nil
}

// decodeTx hex -> MsgTx
func decodeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

func parseOutPoint(txid string, vout uint32) (wire.OutPoint, error) {
	h, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return wire.OutPoint{}, err
	}
	return wire.OutPoint{Hash: *h, Index: vout}, nil
}
