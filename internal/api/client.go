// Package api is the HMAC-signed HTTP client for the internal mail
// platform's lookup and submission endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/restmail/restmail-receiver/internal/metrics"
)

// requestTimeout bounds each platform call end to end.
const requestTimeout = 30 * time.Second

// Credentials identify this gateway to the platform. They are immutable
// after startup and shared read-only by every connection.
type Credentials struct {
	BaseURL    string
	ServiceKey string
	SecretKey  string
}

// Client performs signed requests against the platform. It does no
// retries: retry and fallback policy belongs to the callers.
type Client struct {
	creds      Credentials
	httpClient *http.Client
}

// New creates a client for the given credentials.
func New(creds Credentials) *Client {
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// LookupDomain asks whether the platform hosts domain and whether it is active.
func (c *Client) LookupDomain(ctx context.Context, domain string) (*DomainLookupResponse, error) {
	var resp DomainLookupResponse
	if err := c.post(ctx, "/internal/lookup/domain", &DomainLookupRequest{Domain: domain}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookupEmail asks whether address belongs to a mailbox.
func (c *Client) LookupEmail(ctx context.Context, address string) (*EmailLookupResponse, error) {
	var resp EmailLookupResponse
	if err := c.post(ctx, "/internal/lookup/email", &EmailLookupRequest{Email: address}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookupAlias asks whether address is an alias for a mailbox.
func (c *Client) LookupAlias(ctx context.Context, address string) (*AliasLookupResponse, error) {
	var resp AliasLookupResponse
	if err := c.post(ctx, "/internal/lookup/alias", &AliasLookupRequest{Email: address}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReceiveEmail submits a received message and returns the per-recipient
// outcome.
func (c *Client) ReceiveEmail(ctx context.Context, req *ReceiveEmailRequest) (*ReceiveEmailResponse, error) {
	var resp ReceiveEmailResponse
	if err := c.post(ctx, "/internal/emails/receive", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post signs and sends one JSON request, decoding a 2xx response into
// respBody. The serialized request bytes are hashed for the signature and
// transmitted unmodified.
func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return &Error{Kind: KindSerialization, err: err}
	}

	timestamp := time.Now().Unix()
	signature := Sign(c.creds.SecretKey, timestamp, http.MethodPost, path, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindTransport, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Key", c.creds.ServiceKey)
	req.Header.Set("X-Service-Signature", signature)
	req.Header.Set("X-Service-Timestamp", strconv.FormatInt(timestamp, 10))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequestDuration.WithLabelValues(path, "transport_error").Observe(time.Since(start).Seconds())
		return &Error{Kind: KindTransport, err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.APIRequestDuration.WithLabelValues(path, "transport_error").Observe(time.Since(start).Seconds())
		return &Error{Kind: KindTransport, err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.APIRequestDuration.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
		return &Error{Kind: KindHTTPStatus, Status: resp.StatusCode, Body: string(respBytes)}
	}
	metrics.APIRequestDuration.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if err := json.Unmarshal(respBytes, respBody); err != nil {
		return &Error{Kind: KindSerialization, err: err}
	}
	return nil
}
