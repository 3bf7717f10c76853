package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BSVVerifier checks BSV payments against a WhatsOnChain-compatible explorer.
// A single transaction may pay the treasury address in several outputs, so
// every matching output is summed.
type BSVVerifier struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBSVVerifier(baseURL string, timeout time.Duration, log *zap.Logger) *BSVVerifier {
	return &BSVVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type bsvTx struct {
	Confirmations int     `json:"confirmations"`
	Time          int64   `json:"time"`
	Vout          []bsvVout `json:"vout"`
	Vin           []bsvVin  `json:"vin"`
}

type bsvVout struct {
	Value        float64 `json:"value"` // whole BSV
	ScriptPubKey struct {
		Addresses []string `json:"addresses"`
	} `json:"scriptPubKey"`
}

type bsvVin struct {
	Addr string `json:"addr"`
}

func (v *BSVVerifier) Verify(ctx context.Context, txid, expectedAddress string, expectedAmount int64) VerificationResult {
	url := fmt.Sprintf("%s/tx/%s", v.baseURL, txid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failed(txid, CurrencyBSV, expectedAddress, err.Error())
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return failed(txid, CurrencyBSV, expectedAddress, fmt.Sprintf("explorer unavailable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return failed(txid, CurrencyBSV, expectedAddress, "Transaction not found")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failed(txid, CurrencyBSV, expectedAddress,
			fmt.Sprintf("explorer returned %d: %s", resp.StatusCode, string(body)))
	}

	var tx bsvTx
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return failed(txid, CurrencyBSV, expectedAddress, fmt.Sprintf("explorer response decode: %v", err))
	}

	minConf := CurrencyBSV.MinConfirmations()
	if tx.Confirmations < minConf {
		r := failed(txid, CurrencyBSV, expectedAddress, insufficientConfirmationsErr(tx.Confirmations, minConf))
		r.Confirmations = tx.Confirmations
		return r
	}

	// Sum every output whose address set includes the treasury address.
	var received int64
	found := false
	for _, vout := range tx.Vout {
		for _, addr := range vout.ScriptPubKey.Addresses {
			if addr == expectedAddress {
				received += decimal.NewFromFloat(vout.Value).Mul(decimal.New(1, 8)).Round(0).IntPart()
				found = true
				break
			}
		}
	}

	if !found {
		r := failed(txid, CurrencyBSV, expectedAddress, fmt.Sprintf("no output found to address %s", expectedAddress))
		r.Confirmations = tx.Confirmations
		return r
	}

	if !withinTolerance(received, expectedAmount) {
		r := failed(txid, CurrencyBSV, expectedAddress, insufficientAmountErr(received, expectedAmount, "sats"))
		r.Amount = received
		r.Confirmations = tx.Confirmations
		return r
	}

	result := VerificationResult{
		Verified:         true,
		Txid:             txid,
		Amount:           received,
		Currency:         CurrencyBSV,
		Confirmations:    tx.Confirmations,
		RecipientAddress: expectedAddress,
	}
	// Sender from the first input, recorded for audit only.
	if len(tx.Vin) > 0 && tx.Vin[0].Addr != "" {
		result.SenderAddress = tx.Vin[0].Addr
	}
	if tx.Time > 0 {
		ts := time.Unix(tx.Time, 0).UTC()
		result.Timestamp = &ts
	}
	return result
}
