package arcflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ArcFlow REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// OrchestrateRequest is the payload for a procurement orchestration call.
type OrchestrateRequest struct {
	Prompt       string  `json:"prompt"`
	Budget       float64 `json:"budget"`
	DeadlineDays int     `json:"deadline_days,omitempty"`
	Strategy     string  `json:"strategy,omitempty"`
}

// CartOption is one selected item returned by orchestration.
type CartOption struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Price              float64  `json:"price"`
	VendorName         string   `json:"vendor_name"`
	VendorID           string   `json:"vendor_id"`
	TrustScore         int      `json:"trust_score"`
	DeliveryDays       int      `json:"delivery_days"`
	Score              float64  `json:"ai_score"`
	Reason             string   `json:"reason"`
	AIReason           string   `json:"ai_reason"`
	OriginalPrice      *float64 `json:"original_price,omitempty"`
	NegotiatedDiscount int      `json:"negotiated_discount,omitempty"`
}

// Telemetry mirrors the classifier observability block.
type Telemetry struct {
	Model      string `json:"model"`
	LatencyMS  int64  `json:"latency_ms"`
	TokensUsed int    `json:"tokens_used"`
}

// OrchestrateResponse is the result of a procurement orchestration call.
type OrchestrateResponse struct {
	Categories []string     `json:"categories"`
	Options    []CartOption `json:"options"`
	TotalCost  float64      `json:"total_cost"`
	Degraded   bool         `json:"degraded,omitempty"`
	Telemetry  Telemetry    `json:"telemetry"`
}

// SettleLine is one cart line submitted for settlement.
type SettleLine struct {
	VendorID string  `json:"vendor_id"`
	Price    float64 `json:"price"`
	Name     string  `json:"name,omitempty"`
}

// Receipt summarises a settlement call.
type Receipt struct {
	Status         string   `json:"status"`
	Mode           string   `json:"mode"`
	Logs           []string `json:"logs"`
	TransactionIDs []string `json:"transaction_ids"`
}

// HistoryRecord is one archived procurement event.
type HistoryRecord struct {
	EventID        string   `json:"event_id"`
	Kind           string   `json:"kind"`
	Status         string   `json:"status"`
	Mode           string   `json:"mode"`
	Vendors        []string `json:"vendors"`
	Total          float64  `json:"total"`
	TransactionIDs []string `json:"transaction_ids"`
	Error          string   `json:"error"`
	CreatedAt      int64    `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("arcflow api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("arcflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ArcFlow API. When httpClient is nil,
// a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SetAPIKey stores the credential sent with settlement calls.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently stored credential.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Orchestrate runs a natural language procurement request.
func (c *Client) Orchestrate(ctx context.Context, req OrchestrateRequest) (OrchestrateResponse, error) {
	var resp OrchestrateResponse
	if err := c.post(ctx, "/api/v1/procurement/orchestrate", req, &resp, false); err != nil {
		return OrchestrateResponse{}, err
	}
	return resp, nil
}

// Settle submits the final cart for settlement. The stored API key is attached.
func (c *Client) Settle(ctx context.Context, lines []SettleLine) (Receipt, error) {
	var receipt Receipt
	payload := struct {
		Lines []SettleLine `json:"lines"`
	}{Lines: lines}
	if err := c.post(ctx, "/api/v1/procurement/settle", payload, &receipt, true); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// History fetches the latest archived procurement events.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryRecord, error) {
	endpoint := "/api/v1/procurement/history"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var records []HistoryRecord
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if withAuth {
		if key := c.APIKey(); key != "" {
			req.Header.Set("X-API-Key", key)
		}
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
