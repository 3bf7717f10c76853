package chains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

var errSolanaTxNotFound = errors.New("transaction not found")

// solanaFetcher abstracts the getTransaction RPC so tests can inject decoded
// transactions directly.
type solanaFetcher interface {
	FetchTransaction(ctx context.Context, txid string) (*solana.Transaction, *rpc.TransactionMeta, *time.Time, error)
}

// solanaRPCFetcher adapts *rpc.Client to solanaFetcher.
type solanaRPCFetcher struct {
	client *rpc.Client
}

func (f *solanaRPCFetcher) FetchTransaction(ctx context.Context, txid string) (*solana.Transaction, *rpc.TransactionMeta, *time.Time, error) {
	sig, err := solana.SignatureFromBase58(txid)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid transaction signature: %w", err)
	}

	out, err := f.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil, nil, errSolanaTxNotFound
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if out == nil || out.Transaction == nil {
		return nil, nil, nil, errSolanaTxNotFound
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode transaction: %w", err)
	}

	var blockTime *time.Time
	if out.BlockTime != nil {
		t := out.BlockTime.Time().UTC()
		blockTime = &t
	}
	return tx, out.Meta, blockTime, nil
}

// SolanaVerifier checks SOL payments by scanning system-program transfer
// instructions. A transaction can carry several transfers to the same
// destination; matches are summed.
type SolanaVerifier struct {
	fetcher solanaFetcher
	timeout time.Duration
	log     *zap.Logger
}

func NewSolanaVerifier(rpcURL string, timeout time.Duration, log *zap.Logger) *SolanaVerifier {
	return NewSolanaVerifierWithFetcher(&solanaRPCFetcher{client: rpc.New(rpcURL)}, timeout, log)
}

func NewSolanaVerifierWithFetcher(fetcher solanaFetcher, timeout time.Duration, log *zap.Logger) *SolanaVerifier {
	return &SolanaVerifier{fetcher: fetcher, timeout: timeout, log: log}
}

func (v *SolanaVerifier) Verify(ctx context.Context, txid, expectedAddress string, expectedAmount int64) VerificationResult {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	dest, err := solana.PublicKeyFromBase58(expectedAddress)
	if err != nil {
		return failed(txid, CurrencySOL, expectedAddress, fmt.Sprintf("invalid treasury address: %v", err))
	}

	tx, meta, blockTime, err := v.fetcher.FetchTransaction(ctx, txid)
	if errors.Is(err, errSolanaTxNotFound) {
		return failed(txid, CurrencySOL, expectedAddress, "Transaction not found")
	}
	if err != nil {
		return failed(txid, CurrencySOL, expectedAddress, fmt.Sprintf("rpc error: %v", err))
	}
	if meta != nil && meta.Err != nil {
		return failed(txid, CurrencySOL, expectedAddress, "Transaction failed")
	}

	var received int64
	var sender string

	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil || !prog.Equals(solana.SystemProgramID) {
			continue
		}

		accountMetas := make([]*solana.AccountMeta, len(inst.Accounts))
		ok := true
		for i, accIdx := range inst.Accounts {
			pub, err := tx.Message.Account(accIdx)
			if err != nil {
				ok = false
				break
			}
			writable, err := tx.Message.IsWritable(pub)
			if err != nil {
				ok = false
				break
			}
			accountMetas[i] = &solana.AccountMeta{
				PublicKey:  pub,
				IsSigner:   tx.Message.IsSigner(pub),
				IsWritable: writable,
			}
		}
		if !ok || len(accountMetas) < 2 {
			continue
		}

		sysInst, err := system.DecodeInstruction(accountMetas, inst.Data)
		if err != nil {
			continue
		}
		transfer, isTransfer := sysInst.Impl.(*system.Transfer)
		if !isTransfer || transfer.Lamports == nil {
			continue
		}

		if accountMetas[1].PublicKey.Equals(dest) {
			received += int64(*transfer.Lamports)
			sender = accountMetas[0].PublicKey.String()
		}
	}

	if received == 0 {
		r := failed(txid, CurrencySOL, expectedAddress, fmt.Sprintf("no transfer found to %s", expectedAddress))
		r.Confirmations = 1
		return r
	}

	if !withinTolerance(received, expectedAmount) {
		r := failed(txid, CurrencySOL, expectedAddress, insufficientAmountErr(received, expectedAmount, "lamports"))
		r.Amount = received
		r.Confirmations = 1
		return r
	}

	// A confirmed-commitment lookup implies at least one confirmation.
	result := VerificationResult{
		Verified:         true,
		Txid:             txid,
		Amount:           received,
		Currency:         CurrencySOL,
		Confirmations:    1,
		RecipientAddress: expectedAddress,
		SenderAddress:    sender,
		Timestamp:        blockTime,
	}
	return result
}
