package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	dErrors "residuechain/pkg/domain-errors"
)

// HTTPClient anchors hashes to a ledger service over JSON HTTP. Every call
// is bounded by the configured timeout so a slow ledger can never stall
// the anchor worker past it.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type storeRequest struct {
	Hash string `json:"hash"`
}

type storeResponse struct {
	LedgerID        string `json:"ledger_id"`
	ConfirmationRef string `json:"confirmation_ref"`
}

func (c *HTTPClient) Store(ctx context.Context, hash string) (Confirmation, error) {
	body, err := json.Marshal(storeRequest{Hash: hash})
	if err != nil {
		return Confirmation{}, fmt.Errorf("marshal store request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/records", bytes.NewReader(body))
	if err != nil {
		return Confirmation{}, fmt.Errorf("build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Confirmation{}, dErrors.Wrap(dErrors.CodeUnavailable, "ledger unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Confirmation{}, dErrors.New(dErrors.CodeAnchorWriteFailed, fmt.Sprintf("ledger store returned %d", resp.StatusCode))
	}

	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Confirmation{}, fmt.Errorf("decode store response: %w", err)
	}
	return Confirmation{LedgerID: out.LedgerID, ConfirmationRef: out.ConfirmationRef}, nil
}

type getResponse struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *HTTPClient) Get(ctx context.Context, ledgerID string) (Record, error) {
	u := c.baseURL + "/records/" + url.PathEscape(ledgerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Record{}, fmt.Errorf("build get request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Record{}, dErrors.Wrap(dErrors.CodeUnavailable, "ledger unreachable", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Record{}, dErrors.New(dErrors.CodeNotFound, "ledger record not found")
	default:
		return Record{}, dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("ledger get returned %d", resp.StatusCode))
	}

	var out getResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Record{}, fmt.Errorf("decode get response: %w", err)
	}
	return Record{Hash: out.Hash, Timestamp: out.Timestamp}, nil
}
