package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TreasuryClient communicates with the wallet executor internal API, the
// service holding the treasury keys. It is the only thing in this codebase
// that can move tokens.
type TreasuryClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewTreasuryClient(baseURL, apiKey string, log *zap.Logger) *TreasuryClient {
	return &TreasuryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// TreasuryBalance returns how many tokens the treasury currently holds.
func (c *TreasuryClient) TreasuryBalance(ctx context.Context) (int64, error) {
	url := fmt.Sprintf("%s/internal/treasury/balance", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executor unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("executor returned %d: %s", resp.StatusCode, string(body))
	}

	var result balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.Balance, nil
}

type transferRequest struct {
	RecipientAddress string `json:"recipient_address"`
	TokenAmount      int64  `json:"token_amount"`
}

// ExecuteTransfer asks the executor to send tokens. A transport error after
// the request was sent is ambiguous (the transfer may have happened), which
// is why the caller treats any failure here as terminal.
func (c *TreasuryClient) ExecuteTransfer(ctx context.Context, recipientAddress string, tokenAmount int64) (*TransferResult, error) {
	body, err := json.Marshal(transferRequest{
		RecipientAddress: recipientAddress,
		TokenAmount:      tokenAmount,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/internal/treasury/transfer", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	c.log.Info("executing token transfer",
		zap.String("recipient", recipientAddress),
		zap.Int64("token_amount", tokenAmount))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("executor returned %d: %s", resp.StatusCode, string(b))
	}

	var result TransferResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *TreasuryClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
