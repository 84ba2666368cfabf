package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// StatusCaptured is the gateway's terminal "money received" payment status.
const StatusCaptured = "captured"

type Intent struct {
	OrderRef string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type Payment struct {
	Ref      string `json:"id"`
	OrderRef string `json:"order_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Gateway is the payment processor contract the order core calls into.
// Signature verification is deliberately separate (see signature.go): it
// runs on a locally shared secret and must not require a network call.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, receipt string) (*Intent, error)
	FetchPayment(ctx context.Context, paymentRef string) (*Payment, error)
}

// Client talks to the gateway's REST API with basic-auth key credentials.
type Client struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	HTTP      *http.Client
}

func NewClient(baseURL, keyID, keySecret string) *Client {
	return &Client{
		BaseURL:   baseURL,
		KeyID:     keyID,
		KeySecret: keySecret,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, receipt string) (*Intent, error) {
	body := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}

	var intent Intent
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &intent); err != nil {
		return nil, err
	}
	if intent.OrderRef == "" {
		return nil, fmt.Errorf("gateway: intent response missing order reference")
	}
	return &intent, nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentRef string) (*Payment, error) {
	var p Payment
	path := "/v1/payments/" + url.PathEscape(paymentRef)
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}
	if p.Ref == "" {
		return nil, fmt.Errorf("gateway: payment response missing id")
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("gateway: %s %s: status %d: %s", method, path, res.StatusCode, data)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}
