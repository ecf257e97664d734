// Package p24 implements a client for the Przelewy24 REST API.
//
// Every API operation is an authenticated request/response round trip over
// HTTPS with HTTP Basic auth (username = POS id, password = API key). Signed
// operations compute a SHA-384 signature over the per-operation field set
// before sending.
package p24

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alovak/p24flow/internal/money"
	"github.com/alovak/p24flow/internal/sign"
)

const (
	SandboxURL    = "https://sandbox.przelewy24.pl"
	ProductionURL = "https://secure.przelewy24.pl"
)

// Config holds merchant credentials for one gateway environment. A Config is
// immutable for the lifetime of a Client; sandbox and production are never
// mixed within one instance.
type Config struct {
	MerchantID int
	PosID      int
	APIKey     string
	CRCKey     string
	Sandbox    bool

	// BaseURL overrides the environment host. Used by tests.
	BaseURL string
}

func (c Config) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Sandbox {
		return SandboxURL
	}
	return ProductionURL
}

// Client is a Przelewy24 REST API client.
//
// A Client holds no mutable cross-call state beyond the underlying
// *http.Client, which pools connections and is safe for concurrent use; for
// independent in-flight calls either share an http.Client between Client
// instances or use one Client per unit of work and Close it when done.
type Client struct {
	cfg  Config
	base string
	http *http.Client
}

// New returns a client for the environment selected by cfg. When hc is nil
// the client owns its own http.Client with a default timeout.
func New(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, base: cfg.baseURL(), http: hc}
}

// Close releases idle connections held by the underlying http.Client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// do executes one authenticated round trip. Transport failures map to
// ErrCommunication; a response outside ok maps to failKind; a 2xx body that
// does not parse as JSON maps to ErrCommunication.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any, failKind error, ok ...int) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &APIError{Op: op, Kind: ErrCommunication, Cause: err}
		}
		reader = bytes.NewReader(encoded)
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &APIError{Op: op, Kind: ErrCommunication, Cause: err}
	}
	req.SetBasicAuth(strconv.Itoa(c.cfg.PosID), c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Op: op, Kind: ErrCommunication, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Op: op, Kind: ErrCommunication, Cause: err}
	}

	accepted := false
	for _, code := range ok {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: raw, Kind: failKind}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{Op: op, StatusCode: resp.StatusCode, Body: raw, Kind: ErrCommunication, Cause: err}
		}
	}

	return nil
}

// TestAccess checks the API credentials (GET /api/v1/testAccess). Any
// non-200 response means the credentials were rejected.
func (c *Client) TestAccess(ctx context.Context) (bool, error) {
	var out struct {
		Data bool `json:"data"`
	}
	err := c.do(ctx, "test access", http.MethodGet, "/api/v1/testAccess", nil, nil, &out, ErrCredentials, http.StatusOK)
	if err != nil {
		return false, err
	}
	return out.Data, nil
}

// RegisterTransaction registers a new transaction
// (POST /api/v1/transaction/register) and returns the checkout token.
// Registration failure blocks the checkout attempt and is not retried here.
func (c *Client) RegisterTransaction(ctx context.Context, tx RegisterTransaction) (string, error) {
	amount, err := money.ToLowestUnit(tx.Amount)
	if err != nil {
		return "", fmt.Errorf("encoding amount: %w", err)
	}

	payload := registerPayload{
		MerchantID:    c.cfg.MerchantID,
		PosID:         c.cfg.PosID,
		SessionID:     tx.SessionID,
		Amount:        amount,
		Currency:      tx.Currency,
		Description:   tx.Description,
		Email:         tx.Email,
		URLReturn:     tx.URLReturn,
		URLStatus:     tx.URLStatus,
		Country:       tx.Country,
		Language:      tx.Language,
		TimeLimit:     tx.TimeLimit,
		Channel:       tx.Channel,
		WaitForResult: tx.WaitForResult,
		TransferLabel: tx.TransferLabel,
		MethodRefID:   tx.MethodRefID,
		Sign: sign.Sum([]sign.Field{
			{Key: "sessionId", Value: tx.SessionID},
			{Key: "merchantId", Value: c.cfg.MerchantID},
			{Key: "amount", Value: amount},
			{Key: "currency", Value: tx.Currency},
		}, c.cfg.CRCKey),
	}

	var out registerResponse
	err = c.do(ctx, "register transaction", http.MethodPost, "/api/v1/transaction/register",
		nil, payload, &out, ErrLockFailure, http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", err
	}

	return out.Data.Token, nil
}

// VerifyTransaction confirms a notified transaction
// (PUT /api/v1/transaction/verify). The call is mandatory after every
// notification; without it the funds stay in the gateway's advance-payment
// state. Re-verifying an already settled transaction is accepted by the
// gateway, so the call is safe under duplicate notification delivery.
func (c *Client) VerifyTransaction(ctx context.Context, sessionID string, orderID int64, amount decimal.Decimal, currency string) (VerifyResult, error) {
	amountInt, err := money.ToLowestUnit(amount)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("encoding amount: %w", err)
	}

	payload := verifyPayload{
		MerchantID: c.cfg.MerchantID,
		PosID:      c.cfg.PosID,
		SessionID:  sessionID,
		OrderID:    orderID,
		Amount:     amountInt,
		Currency:   currency,
		Sign: sign.Sum([]sign.Field{
			{Key: "sessionId", Value: sessionID},
			{Key: "orderId", Value: orderID},
			{Key: "amount", Value: amountInt},
			{Key: "currency", Value: currency},
		}, c.cfg.CRCKey),
	}

	var out verifyResponse
	err = c.do(ctx, "verify transaction", http.MethodPut, "/api/v1/transaction/verify",
		nil, payload, &out, ErrCommunication, http.StatusOK)
	if err != nil {
		return VerifyResult{}, err
	}

	return out.Data, nil
}

// Refund submits a refund batch (POST /api/v1/transaction/refund). The
// gateway does not require a signature on this endpoint. RequestID and
// refundsUUID must be fresh for every attempt so the gateway can tell
// attempts apart.
func (c *Client) Refund(ctx context.Context, requestID, refundsUUID, urlStatus string, items []RefundItem) (RefundResponse, error) {
	payload := refundPayload{
		RequestID:   requestID,
		RefundsUUID: refundsUUID,
		URLStatus:   urlStatus,
		Refunds:     items,
	}

	var out RefundResponse
	err := c.do(ctx, "refund", http.MethodPost, "/api/v1/transaction/refund",
		nil, payload, &out, ErrRefund, http.StatusOK)
	if err != nil {
		return RefundResponse{}, err
	}

	return out, nil
}

// TransactionBySessionID looks a transaction up by its session id
// (GET /api/v1/transaction/by/sessionId/{sessionId}).
func (c *Client) TransactionBySessionID(ctx context.Context, sessionID string) (TransactionInfo, error) {
	var out transactionInfoResponse
	err := c.do(ctx, "get transaction", http.MethodGet,
		"/api/v1/transaction/by/sessionId/"+url.PathEscape(sessionID),
		nil, nil, &out, ErrCommunication, http.StatusOK)
	if err != nil {
		return TransactionInfo{}, err
	}
	return out.Data, nil
}

// RefundsByOrderID lists refunds for a gateway order
// (GET /api/v1/refund/by/orderId/{orderId}).
func (c *Client) RefundsByOrderID(ctx context.Context, orderID int64) ([]RefundInfo, error) {
	var out refundInfoResponse
	err := c.do(ctx, "get refunds", http.MethodGet,
		"/api/v1/refund/by/orderId/"+strconv.FormatInt(orderID, 10),
		nil, nil, &out, ErrCommunication, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// PaymentMethods lists payment methods for a language
// (GET /api/v1/payment/methods/{lang}). A non-zero amount and currency
// restrict the list to methods available for that amount.
func (c *Client) PaymentMethods(ctx context.Context, lang string, amount int64, currency string) ([]PaymentMethod, error) {
	query := url.Values{}
	if amount > 0 {
		query.Set("amount", strconv.FormatInt(amount, 10))
	}
	if currency != "" {
		query.Set("currency", currency)
	}

	var out paymentMethodsResponse
	err := c.do(ctx, "get payment methods", http.MethodGet,
		"/api/v1/payment/methods/"+url.PathEscape(lang),
		query, nil, &out, ErrCommunication, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// RedirectURL builds the buyer-facing paywall URL for a registered
// transaction token. No network call is made.
func (c *Client) RedirectURL(token string) string {
	return c.base + "/trnRequest/" + token
}
