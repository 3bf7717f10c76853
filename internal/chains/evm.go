package chains

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// evmRPC is the slice of ethclient.Client the verifier needs; tests inject a fake.
type evmRPC interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// EVMVerifier checks native-coin payments on an account-based EVM chain.
// The transfer is valid only when the transaction itself targets the treasury
// address and its receipt reports success.
type EVMVerifier struct {
	client  evmRPC
	timeout time.Duration
	log     *zap.Logger
}

func NewEVMVerifier(rpcURL string, timeout time.Duration, log *zap.Logger) (*EVMVerifier, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return NewEVMVerifierWithClient(client, timeout, log), nil
}

func NewEVMVerifierWithClient(client evmRPC, timeout time.Duration, log *zap.Logger) *EVMVerifier {
	return &EVMVerifier{client: client, timeout: timeout, log: log}
}

func (v *EVMVerifier) Verify(ctx context.Context, txid, expectedAddress string, expectedAmount int64) VerificationResult {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	hash := common.HexToHash(txid)

	tx, pending, err := v.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return failed(txid, CurrencyETH, expectedAddress, "Transaction not found")
	}
	if err != nil {
		return failed(txid, CurrencyETH, expectedAddress, fmt.Sprintf("rpc error: %v", err))
	}
	if pending {
		return failed(txid, CurrencyETH, expectedAddress, "Transaction not yet mined")
	}

	receipt, err := v.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return failed(txid, CurrencyETH, expectedAddress, "Transaction not yet mined")
	}
	if err != nil {
		return failed(txid, CurrencyETH, expectedAddress, fmt.Sprintf("rpc error: %v", err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return failed(txid, CurrencyETH, expectedAddress, "Transaction failed")
	}

	head, err := v.client.BlockNumber(ctx)
	if err != nil {
		return failed(txid, CurrencyETH, expectedAddress, fmt.Sprintf("rpc error: %v", err))
	}
	// A lagging RPC node can report a head behind the receipt's block; the
	// subtraction is unsigned, so guard it rather than wrap around.
	confirmations := 0
	if mined := receipt.BlockNumber.Uint64(); head >= mined {
		confirmations = int(head - mined + 1)
	}

	minConf := CurrencyETH.MinConfirmations()
	if confirmations < minConf {
		r := failed(txid, CurrencyETH, expectedAddress, insufficientConfirmationsErr(confirmations, minConf))
		r.Amount = clampInt64(tx.Value())
		r.Confirmations = confirmations
		return r
	}

	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), expectedAddress) {
		to := "contract creation"
		if tx.To() != nil {
			to = tx.To().Hex()
		}
		r := failed(txid, CurrencyETH, expectedAddress, fmt.Sprintf("wrong recipient: %s", to))
		r.Amount = clampInt64(tx.Value())
		r.Confirmations = confirmations
		return r
	}

	received := tx.Value()
	if !withinToleranceBig(received, expectedAmount) {
		r := failed(txid, CurrencyETH, expectedAddress,
			insufficientAmountErr(clampInt64(received), expectedAmount, "wei"))
		r.Amount = clampInt64(received)
		r.Confirmations = confirmations
		return r
	}

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	result := VerificationResult{
		Verified:         true,
		Txid:             txid,
		Amount:           clampInt64(received),
		Currency:         CurrencyETH,
		Confirmations:    confirmations,
		RecipientAddress: expectedAddress,
	}
	if err == nil {
		result.SenderAddress = sender.Hex()
	}
	return result
}

// withinToleranceBig mirrors withinTolerance for wei amounts that can exceed int64.
func withinToleranceBig(received *big.Int, expected int64) bool {
	e := big.NewInt(expected)
	tol := new(big.Int).Div(e, big.NewInt(100))
	return received.Cmp(new(big.Int).Sub(e, tol)) >= 0
}

func clampInt64(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	return math.MaxInt64
}
