package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ringcast/ringcast/internal/apperr"
	"github.com/ringcast/ringcast/internal/reliability"
)

const (
	restTimeout = 10 * time.Second

	maxCreateAttempts = 3
	backoffBase       = 250 * time.Millisecond
	backoffCap        = 2 * time.Second
)

// Client places outbound calls against the provider's REST API.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// CallParams describes one outbound call request.
type CallParams struct {
	To             string
	From           string
	WebhookURL     string
	StatusCallback string
	TimeLimitSec   int
	Record         bool
}

// CallResult is the provider's acknowledgement of a created call.
type CallResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func NewClient(accountSID, authToken, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.twilio.com"
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: restTimeout},
	}
}

// CreateCall asks the provider to originate a call. The time limit is a hard
// ceiling enforced by the provider; machine detection stays disabled so the
// callee hears the agent immediately. Rate-limited and 5xx responses are
// retried with capped backoff; 4xx responses are permanent.
func (c *Client) CreateCall(ctx context.Context, p CallParams) (CallResult, error) {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", p.From)
	form.Set("Url", p.WebhookURL)
	form.Set("StatusCallback", p.StatusCallback)
	form.Set("StatusCallbackEvent", "completed")
	form.Set("MachineDetection", "Disable")
	if p.TimeLimitSec > 0 {
		form.Set("TimeLimit", strconv.Itoa(p.TimeLimitSec))
	}
	if p.Record {
		form.Set("Record", "true")
	}
	encoded := form.Encode()
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return CallResult{}, ctx.Err()
			case <-time.After(reliability.Backoff(attempt-1, backoffBase, backoffCap)):
			}
		}

		res, retryable, err := c.createOnce(ctx, endpoint, encoded)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable {
			return CallResult{}, err
		}
	}
	return CallResult{}, lastErr
}

func (c *Client) createOnce(ctx context.Context, endpoint, encodedForm string) (CallResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encodedForm))
	if err != nil {
		return CallResult{}, false, fmt.Errorf("build call request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures are indistinguishable from transient network
		// trouble, retry unless the context is gone.
		return CallResult{}, ctx.Err() == nil, apperr.Wrap(apperr.KindExternal, apperr.CodeTelephonyFailure, "provider call create failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CallResult{}, true, apperr.Wrap(apperr.KindExternal, apperr.CodeTelephonyFailure, "read provider response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CallResult{}, reliability.RetryableStatus(resp.StatusCode), apperr.New(apperr.KindExternal, apperr.CodeTelephonyFailure,
			fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var res CallResult
	if err := json.Unmarshal(body, &res); err != nil {
		return CallResult{}, false, apperr.Wrap(apperr.KindExternal, apperr.CodeTelephonyFailure, "decode provider response", err)
	}
	if res.SID == "" {
		return CallResult{}, false, apperr.New(apperr.KindExternal, apperr.CodeTelephonyFailure, "provider response missing call sid")
	}
	return res, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
