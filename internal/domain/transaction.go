package domain

import "fmt"

// TxType is the accounting classification of a transaction.
type TxType string

const (
	TxBuy           TxType = "BUY"
	TxSell          TxType = "SELL"
	TxSwap          TxType = "SWAP"
	TxTransferIn    TxType = "TRANSFER_IN"
	TxTransferOut   TxType = "TRANSFER_OUT"
	TxStakingReward TxType = "STAKING_REWARD"
	TxAirdrop       TxType = "AIRDROP"
	TxMining        TxType = "MINING"
	TxOther         TxType = "OTHER"
)

var allTxTypes = []TxType{
	TxBuy, TxSell, TxSwap, TxTransferIn, TxTransferOut,
	TxStakingReward, TxAirdrop, TxMining, TxOther,
}

// ParseTxType parses a classification string.
func ParseTxType(s string) (TxType, error) {
	for _, t := range allTxTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown transaction type: %q", s)
}

// CreatesLot reports whether the type opens a new acquisition lot.
func (t TxType) CreatesLot() bool {
	switch t {
	case TxBuy, TxTransferIn, TxStakingReward, TxAirdrop, TxMining:
		return true
	}
	return false
}

// ConsumesLots reports whether the type disposes of held quantity.
func (t TxType) ConsumesLots() bool {
	switch t {
	case TxSell, TxSwap, TxTransferOut:
		return true
	}
	return false
}

// IsIncome reports whether the acquisition is recognized as income at fair value.
func (t TxType) IsIncome() bool {
	switch t {
	case TxStakingReward, TxAirdrop, TxMining:
		return true
	}
	return false
}
