package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	PayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	PayPalLiveURL    = "https://api-m.paypal.com"

	// refresh tokens this long before PayPal expires them
	tokenExpiryMargin = 60 * time.Second
)

// PayPalConfig holds PayPal REST credentials
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
	BrandName    string
	Timeout      time.Duration
}

// PayPalGateway talks to the PayPal Orders v2 API
type PayPalGateway struct {
	config     PayPalConfig
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	now         func() time.Time
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	Amount paypalAmount `json:"amount"`
}

type paypalAppContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	UserAction         string `json:"user_action,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
}

type paypalOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext *paypalAppContext    `json:"application_context,omitempty"`
}

type paypalOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []Link `json:"links"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
	// OAuth errors use a different shape
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewPayPalGateway creates a PayPal gateway
func NewPayPalGateway(cfg PayPalConfig) (*PayPalGateway, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("paypal client id and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PayPalSandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &PayPalGateway{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}, nil
}

func (g *PayPalGateway) Name() string {
	return "paypal"
}

// Authenticate exchanges the client credentials for an access token
func (g *PayPalGateway) Authenticate(ctx context.Context) error {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(g.config.ClientID, g.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var token paypalTokenResponse
	if err := g.do(req, &token); err != nil {
		return fmt.Errorf("failed to authenticate with paypal: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrNotAuthenticated)
	}

	g.mu.Lock()
	g.accessToken = token.AccessToken
	g.expiresAt = g.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	g.mu.Unlock()
	return nil
}

// CreateOrder creates a CAPTURE-intent order. The buyer approves it at
// Order.ApprovalURL before it can be captured.
func (g *PayPalGateway) CreateOrder(ctx context.Context, amount float64, currency string) (*Order, error) {
	if err := validateOrder(amount, currency); err != nil {
		return nil, err
	}

	body := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			Amount: paypalAmount{
				CurrencyCode: strings.ToUpper(currency),
				Value:        strconv.FormatFloat(amount, 'f', 2, 64),
			},
		}},
	}
	if g.config.ReturnURL != "" || g.config.CancelURL != "" {
		body.ApplicationContext = &paypalAppContext{
			BrandName:          g.config.BrandName,
			ReturnURL:          g.config.ReturnURL,
			CancelURL:          g.config.CancelURL,
			UserAction:         "PAY_NOW",
			ShippingPreference: "NO_SHIPPING",
		}
	}

	var resp paypalOrderResponse
	if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create paypal order: %w", err)
	}

	order := &Order{ID: resp.ID, Status: resp.Status, Links: resp.Links}
	for _, l := range resp.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			order.ApprovalURL = l.Href
			break
		}
	}
	return order, nil
}

// CaptureOrder captures an approved order
func (g *PayPalGateway) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}

	var resp paypalOrderResponse
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := g.call(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to capture paypal order %s: %w", orderID, err)
	}
	return &Capture{ID: resp.ID, Status: resp.Status}, nil
}

// token returns a valid access token, authenticating when needed
func (g *PayPalGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	token, expiresAt := g.accessToken, g.expiresAt
	g.mu.Unlock()

	if token != "" && g.now().Add(tokenExpiryMargin).Before(expiresAt) {
		return token, nil
	}
	if err := g.Authenticate(ctx); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accessToken, nil
}

func (g *PayPalGateway) call(ctx context.Context, method, path string, in, out any) error {
	token, err := g.token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	err = g.do(req, out)
	if err != nil && isAuthError(err) {
		g.mu.Lock()
		g.accessToken = ""
		g.mu.Unlock()
	}
	return err
}

type statusError struct {
	code int
	msg  string
	base error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("paypal returned %d: %s", e.code, e.msg)
}

func (e *statusError) Unwrap() error { return e.base }

func isAuthError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusUnauthorized
}

func (g *PayPalGateway) do(req *http.Request, out any) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, msg: errorMessage(data), base: statusBase(resp.StatusCode)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusBase(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrNotAuthenticated
	case http.StatusNotFound:
		return ErrOrderNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	default:
		return nil
	}
}

func errorMessage(data []byte) string {
	var e paypalErrorResponse
	if err := json.Unmarshal(data, &e); err != nil {
		return strings.TrimSpace(string(data))
	}
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case len(e.Details) > 0 && e.Details[0].Issue != "":
		return e.Details[0].Issue + ": " + e.Details[0].Description
	case e.Message != "":
		return e.Message
	case e.Name != "":
		return e.Name
	}
	return strings.TrimSpace(string(data))
}
