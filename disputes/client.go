package disputes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Gateway is the payment-gateway surface the reconciliation core consumes.
type Gateway interface {
	// ListDisputes returns disputes created strictly after the given epoch
	// second, oldest first.
	ListDisputes(ctx context.Context, createdAfter int64) ([]DisputeRecord, error)
	GetDispute(ctx context.Context, id string) (DisputeRecord, error)
	// UpdateDisputeMetadata merges the given keys into the dispute's
	// metadata and returns the updated record.
	UpdateDisputeMetadata(ctx context.Context, id string, metadata map[string]string) (DisputeRecord, error)
}

// GatewayError is a typed transport/API failure from the payment gateway.
// The client performs no retries; callers decide per the run's policy.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// StripeClient talks to the Stripe-shaped dispute API. The secret key is
// injected at construction; there is no package-level credential state.
type StripeClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
	limiter   <-chan time.Time
	pageLimit int
}

func NewStripeClient(secretKey string) (*StripeClient, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("stripe secret key is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("STRIPE_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("STRIPE_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &StripeClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
		pageLimit: 100,
	}, nil
}

type stripeListResponse struct {
	Object  string          `json:"object"`
	Data    []DisputeRecord `json:"data"`
	HasMore bool            `json:"has_more"`
}

func (c *StripeClient) ListDisputes(ctx context.Context, createdAfter int64) ([]DisputeRecord, error) {
	var all []DisputeRecord
	startingAfter := ""

	for {
		params := url.Values{}
		params.Set("created[gt]", strconv.FormatInt(createdAfter, 10))
		params.Set("limit", strconv.Itoa(c.pageLimit))
		if startingAfter != "" {
			params.Set("starting_after", startingAfter)
		}

		body, err := c.do(ctx, http.MethodGet, "/v1/disputes", params, nil, "ListDisputes")
		if err != nil {
			return all, err
		}

		var page stripeListResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return all, &GatewayError{Op: "ListDisputes", Err: err}
		}

		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
		startingAfter = page.Data[len(page.Data)-1].ID
	}
}

func (c *StripeClient) GetDispute(ctx context.Context, id string) (DisputeRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/disputes/"+url.PathEscape(id), nil, nil, "GetDispute")
	if err != nil {
		return DisputeRecord{}, err
	}
	var dispute DisputeRecord
	if err := json.Unmarshal(body, &dispute); err != nil {
		return DisputeRecord{}, &GatewayError{Op: "GetDispute", Err: err}
	}
	return dispute, nil
}

func (c *StripeClient) UpdateDisputeMetadata(ctx context.Context, id string, metadata map[string]string) (DisputeRecord, error) {
	form := url.Values{}
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/disputes/"+url.PathEscape(id), nil, form, "UpdateDisputeMetadata")
	if err != nil {
		return DisputeRecord{}, err
	}
	var dispute DisputeRecord
	if err := json.Unmarshal(body, &dispute); err != nil {
		return DisputeRecord{}, &GatewayError{Op: "UpdateDisputeMetadata", Err: err}
	}
	return dispute, nil
}

func (c *StripeClient) do(ctx context.Context, method, path string, params url.Values, form url.Values, op string) ([]byte, error) {
	<-c.limiter

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
