package formance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/config"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	ledgerName string
	currency   string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:    cfg.FormanceAPIURL,
		apiKey:     cfg.FormanceAPIKey,
		ledgerName: cfg.FormanceLedgerName,
		currency:   cfg.FormanceCurrency,
	}
}

// FormanceError represents an error response from Formance API
type FormanceError struct {
	Code    string `json:"errorCode"`
	Message string `json:"errorMessage"`
}

func (e FormanceError) Error() string {
	return fmt.Sprintf("formance error %s: %s", e.Code, e.Message)
}

// CheckLedger verifies the configured ledger exists
func (c *Client) CheckLedger(ctx context.Context) error {
	// Check if ledger exists using the v2 API _info endpoint
	endpoint := fmt.Sprintf("%s/v2/%s/_info", c.baseURL, c.ledgerName)

	if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, nil); err != nil {
		return fmt.Errorf("ledger %s doesn't exist or is not accessible: %w", c.ledgerName, err)
	}

	slog.Info("Formance ledger exists and is accessible", "ledger", c.ledgerName, "url", c.baseURL)
	return nil
}

// GetBalance returns an account's balance in minor units of the ledger currency
func (c *Client) GetBalance(ctx context.Context, account string) (int64, error) {
	// Use v2 API endpoint to get account with volumes expanded
	endpoint := fmt.Sprintf("%s/v2/%s/accounts/%s?expand=volumes", c.baseURL, c.ledgerName, account)

	var response struct {
		Data struct {
			Address string `json:"address"`
			Volumes map[string]struct {
				Input   int64 `json:"input"`
				Output  int64 `json:"output"`
				Balance int64 `json:"balance"`
			} `json:"volumes"`
		} `json:"data"`
	}

	if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return 0, fmt.Errorf("failed to get balance from Formance: %w", err)
	}

	// Check if we have balance data for our currency
	if volumeData, exists := response.Data.Volumes[c.currency]; exists {
		return volumeData.Balance, nil
	}

	// Account doesn't have balance in our currency yet, return 0
	return 0, nil
}

// TransactionRequest represents a transaction request to Formance
type TransactionRequest struct {
	Postings []PostingData     `json:"postings"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TransactionResponse represents a transaction response from Formance v2 API
type TransactionResponse struct {
	Data TransactionData `json:"data"`
}

// CreateTransaction records postings as one transaction. Balance checks are
// disabled: settlement wallets carry debts and go negative.
func (c *Client) CreateTransaction(ctx context.Context, postings []PostingData, metadata map[string]string) (string, error) {
	// Use v2 API endpoint for transactions
	endpoint := fmt.Sprintf("%s/v2/%s/transactions?force=true", c.baseURL, c.ledgerName)

	reqBody := TransactionRequest{
		Postings: postings,
		Metadata: metadata,
	}

	var response TransactionResponse
	if err := c.makeRequest(ctx, http.MethodPost, endpoint, reqBody, &response); err != nil {
		return "", fmt.Errorf("failed to create transaction in Formance: %w", err)
	}

	txID := response.Data.ID
	slog.Info("Created transaction in Formance", "txid", txID, "postings", len(postings))
	return fmt.Sprintf("%d", txID), nil
}

// TransactionData represents a single transaction from Formance
type TransactionData struct {
	ID       int64             `json:"id"`
	Postings []PostingData     `json:"postings"`
	Metadata map[string]string `json:"metadata"`
	Date     string            `json:"timestamp"`
}

// PostingData represents a posting in a transaction
type PostingData struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	Asset       string `json:"asset"`
}

// FindTransactions returns transactions whose metadata match every given
// key and value
func (c *Client) FindTransactions(ctx context.Context, metadata map[string]string) ([]TransactionData, error) {
	conditions := make([]map[string]interface{}, 0, len(metadata))
	for k, v := range metadata {
		conditions = append(conditions, map[string]interface{}{
			"$match": map[string]string{"metadata[" + k + "]": v},
		})
	}
	query := map[string]interface{}{"$and": conditions}

	endpoint := fmt.Sprintf("%s/v2/%s/transactions?pageSize=%d", c.baseURL, c.ledgerName, 100)

	var response struct {
		Cursor struct {
			PageSize int               `json:"pageSize"`
			HasMore  bool              `json:"hasMore"`
			Next     string            `json:"next,omitempty"`
			Data     []TransactionData `json:"data"`
		} `json:"cursor"`
	}

	if err := c.makeRequest(ctx, http.MethodGet, endpoint, query, &response); err != nil {
		return nil, fmt.Errorf("failed to query transactions from Formance: %w", err)
	}
	return response.Cursor.Data, nil
}

// makeRequest is a helper method to make HTTP requests to Formance API
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body interface{}, response interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Check for HTTP errors
	if resp.StatusCode >= 400 {
		var formanceErr FormanceError
		if err := json.Unmarshal(respBody, &formanceErr); err != nil || formanceErr.Code == "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return formanceErr
	}

	// Parse successful response
	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
