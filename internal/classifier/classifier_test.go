package classifier

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

const wallet = "bc1qwallet"

func newTestClassifier() *Classifier {
	return New(Config{
		Epsilons:            map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.00001")},
		StakingContracts:    []string{"0xSTAKE"},
		AirdropDistributors: []string{"0xdrop"},
	})
}

func utxo(inputs, outputs []UTXOOutput) RawTransaction {
	return RawTransaction{Chain: ChainUTXO, UTXO: &UTXOTransaction{
		TxID: "t", Asset: "BTC", Inputs: inputs, Outputs: outputs, Fee: "0.0001",
	}}
}

func mine(v string) UTXOOutput  { return UTXOOutput{Address: wallet, Value: v} }
func other(v string) UTXOOutput { return UTXOOutput{Address: "bc1qother", Value: v} }

func TestClassifyUTXO(t *testing.T) {
	c := newTestClassifier()
	tests := []struct {
		name       string
		tx         RawTransaction
		wantType   domain.TxType
		wantSub    string
		wantAmount string
		confidence float64
	}{
		{"consolidation within epsilon", utxo([]UTXOOutput{mine("0.5"), mine("0.3")}, []UTXOOutput{mine("0.799995")}), domain.TxOther, SubtypeConsolidation, "", 0.95},
		{"exact consolidation", utxo([]UTXOOutput{mine("0.5")}, []UTXOOutput{mine("0.5")}), domain.TxOther, SubtypeConsolidation, "", 0.95},
		{"net positive", utxo([]UTXOOutput{mine("0.5")}, []UTXOOutput{mine("0.6")}), domain.TxTransferOut, SubtypeChangeReturned, "0.1", 0.9},
		{"net negative", utxo([]UTXOOutput{mine("0.5")}, []UTXOOutput{mine("0.2"), other("0.2999")}), domain.TxTransferIn, "", "0.3", 0.7},
		{"spend only", utxo([]UTXOOutput{mine("1.0")}, []UTXOOutput{other("0.9999")}), domain.TxTransferOut, "", "1", 1.0},
		{"receive only", utxo([]UTXOOutput{other("2")}, []UTXOOutput{mine("0.25"), other("1.7")}), domain.TxTransferIn, "", "0.25", 1.0},
		{"not involved", utxo([]UTXOOutput{other("2")}, []UTXOOutput{other("1.9")}), domain.TxOther, "", "", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.tx, wallet)
			if got.Type != tt.wantType || got.Subtype != tt.wantSub {
				t.Fatalf("Classify = %s/%s, want %s/%s (%s)", got.Type, got.Subtype, tt.wantType, tt.wantSub, got.Reasoning)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.confidence)
			}
			if tt.wantAmount != "" {
				amt := got.AmountIn
				if amt == nil {
					amt = got.AmountOut
				}
				if amt == nil || !amt.Equal(decimal.RequireFromString(tt.wantAmount)) {
					t.Errorf("amount = %v, want %s", amt, tt.wantAmount)
				}
			}
			if got.Reasoning == "" {
				t.Error("Reasoning must not be empty")
			}
		})
	}
}

func TestClassifyUTXOEpsilonIsConfigurable(t *testing.T) {
	tx := utxo([]UTXOOutput{mine("0.5")}, []UTXOOutput{mine("0.49")})

	strict := New(Config{})
	if got := strict.Classify(tx, wallet); got.Type != domain.TxTransferIn {
		t.Errorf("without epsilon: %s, want TRANSFER_IN", got.Type)
	}
	loose := New(Config{Epsilons: map[string]decimal.Decimal{"btc": decimal.RequireFromString("0.1")}})
	if got := loose.Classify(tx, wallet); got.Subtype != SubtypeConsolidation {
		t.Errorf("with epsilon 0.1: %s/%s, want consolidation", got.Type, got.Subtype)
	}
}

func TestClassifyUTXOAddressCase(t *testing.T) {
	c := newTestClassifier()
	tests := []struct {
		name     string
		wallet   string
		output   string
		wantType domain.TxType
	}{
		{"bech32 upper-case output", "bc1qwallet", "BC1QWALLET", domain.TxTransferIn},
		{"bech32 mixed-case wallet with spaces", " BC1QWallet ", "bc1qwallet", domain.TxTransferIn},
		{"base58 is case-sensitive", "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", "1boatslrhtknngkdxeeobr76b53lettpyt", domain.TxOther},
		{"base58 exact match", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", domain.TxTransferIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := utxo([]UTXOOutput{other("1")}, []UTXOOutput{{Address: tt.output, Value: "0.4"}})
			if got := c.Classify(tx, tt.wallet); got.Type != tt.wantType {
				t.Errorf("Classify = %s, want %s (%s)", got.Type, tt.wantType, got.Reasoning)
			}
		})
	}
}

func TestClassifyUnparseable(t *testing.T) {
	c := newTestClassifier()
	for name, tx := range map[string]RawTransaction{
		"bad value":    utxo([]UTXOOutput{mine("lots")}, nil),
		"missing body": {Chain: ChainEVM},
		"unknown":      {Chain: "solana"},
	} {
		t.Run(name, func(t *testing.T) {
			got := c.Classify(tx, wallet)
			if got.Type != domain.TxOther || got.Confidence > 0.2 || got.Reasoning == "" {
				t.Errorf("Classify = %+v, want low-confidence OTHER with reasoning", got)
			}
		})
	}
}

const evmWallet = "0xABC"

func evm(mut func(*EVMTransaction)) RawTransaction {
	tx := &EVMTransaction{Hash: "0x1", From: "0xsomeone", To: "0xcontract", Value: "0", Success: true}
	mut(tx)
	return RawTransaction{Chain: ChainEVM, EVM: tx}
}

func TestClassifyEVM(t *testing.T) {
	c := newTestClassifier()
	tests := []struct {
		name     string
		tx       RawTransaction
		wantType domain.TxType
		wantSub  string
	}{
		{"reverted", evm(func(tx *EVMTransaction) { tx.From, tx.Success, tx.Fee = evmWallet, false, "0.002" }), domain.TxOther, SubtypeReverted},
		{"swap", evm(func(tx *EVMTransaction) {
			tx.From, tx.Fee = evmWallet, "0.003"
			tx.Transfers = []TokenTransfer{
				{Token: "UNI", From: evmWallet, To: "0xpool", Amount: "10"},
				{Token: "LINK", From: "0xpool", To: "0xabc", Amount: "7"},
			}
			tx.Events = []string{"Swap"}
		}), domain.TxSwap, ""},
		{"buy with stablecoin", evm(func(tx *EVMTransaction) {
			tx.From = evmWallet
			tx.Transfers = []TokenTransfer{
				{Token: "USDC", From: evmWallet, To: "0xpool", Amount: "1000"},
				{Token: "WETH", From: "0xpool", To: evmWallet, Amount: "0.4"},
			}
		}), domain.TxBuy, ""},
		{"sell for stablecoin", evm(func(tx *EVMTransaction) {
			tx.From = evmWallet
			tx.Transfers = []TokenTransfer{
				{Token: "WETH", From: evmWallet, To: "0xpool", Amount: "0.4"},
				{Token: "USDT", From: "0xpool", To: evmWallet, Amount: "1000"},
			}
		}), domain.TxSell, ""},
		{"staking reward", evm(func(tx *EVMTransaction) {
			tx.Transfers = []TokenTransfer{{Token: "LDO", From: "0xstake", To: evmWallet, Amount: "1.5"}}
		}), domain.TxStakingReward, ""},
		{"airdrop claim", evm(func(tx *EVMTransaction) {
			tx.From, tx.To, tx.Fee = evmWallet, "0xDROP", "0.001"
			tx.Transfers = []TokenTransfer{{Token: "ARB", From: "0xdrop", To: evmWallet, Amount: "625"}}
		}), domain.TxAirdrop, ""},
		{"block reward", evm(func(tx *EVMTransaction) { tx.BlockReward, tx.To, tx.Value = true, evmWallet, "2" }), domain.TxMining, ""},
		{"native receive", evm(func(tx *EVMTransaction) { tx.To, tx.Value = evmWallet, "1.25" }), domain.TxTransferIn, ""},
		{"native send", evm(func(tx *EVMTransaction) { tx.From, tx.Value, tx.Fee = evmWallet, "1.25", "0.0004" }), domain.TxTransferOut, ""},
		{"approve only", evm(func(tx *EVMTransaction) { tx.From, tx.Fee = evmWallet, "0.0004" }), domain.TxOther, SubtypeFeeOnly},
		{"unrelated", evm(func(tx *EVMTransaction) {}), domain.TxOther, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.tx, evmWallet)
			if got.Type != tt.wantType || got.Subtype != tt.wantSub {
				t.Errorf("Classify = %s/%s, want %s/%s (%s)", got.Type, got.Subtype, tt.wantType, tt.wantSub, got.Reasoning)
			}
			if got.Confidence <= 0 || got.Confidence > 1 {
				t.Errorf("Confidence = %v out of range", got.Confidence)
			}
		})
	}
}

func TestClassifyEVMRecordsFee(t *testing.T) {
	c := newTestClassifier()
	got := c.Classify(evm(func(tx *EVMTransaction) { tx.From, tx.Value, tx.Fee = evmWallet, "1", "0.0021" }), evmWallet)
	if got.FeeAsset != "ETH" || got.FeeAmount == nil || !got.FeeAmount.Equal(decimal.RequireFromString("0.0021")) {
		t.Errorf("fee = %s %v, want ETH 0.0021", got.FeeAsset, got.FeeAmount)
	}
	if got.AssetOut != "ETH" || !got.AmountOut.Equal(decimal.NewFromInt(1)) {
		t.Errorf("out = %s %v, want ETH 1", got.AssetOut, got.AmountOut)
	}
}

func TestClassifyBatchPreservesOrder(t *testing.T) {
	c := New(Config{Concurrency: 3})
	txs := make([]RawTransaction, 50)
	for i := range txs {
		txs[i] = RawTransaction{Chain: ChainUTXO, UTXO: &UTXOTransaction{
			TxID: fmt.Sprintf("tx-%d", i), Outputs: []UTXOOutput{mine("1")},
		}}
	}

	got, err := c.ClassifyBatch(context.Background(), txs, wallet)
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	for i, cl := range got {
		if cl.TxID != fmt.Sprintf("tx-%d", i) || cl.Type != domain.TxTransferIn {
			t.Fatalf("result %d = %+v", i, cl)
		}
	}
}

func TestClassifyBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	txs := []RawTransaction{{Chain: ChainUTXO, UTXO: &UTXOTransaction{}}}
	if _, err := New(Config{}).ClassifyBatch(ctx, txs, wallet); err == nil {
		t.Error("expected error for cancelled context")
	}
}
