package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/inventory-sync/utils"
	"golang.org/x/time/rate"
)

// Deliverer sends projected parameters to one external workflow.
type Deliverer interface {
	Deliver(ctx context.Context, workflowID string, params ParameterMap) (Ack, error)
}

// Ack is the workflow platform's reply. A non-zero Code is a failure even on
// HTTP 2xx.
type Ack struct {
	Code      int             `json:"code"`
	Msg       string          `json:"msg"`
	ExecuteID string          `json:"execute_id"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type workflowRunRequest struct {
	WorkflowID string       `json:"workflow_id"`
	Parameters ParameterMap `json:"parameters"`
}

type DeliveryOptions struct {
	BaseURL     string
	Token       string
	MaxAttempts int
	// Timeout bounds each attempt on its own.
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RateLimit is calls per second across all workflows, 0 means unlimited.
	RateLimit  float64
	HTTPClient *http.Client
}

// DeliveryClient posts to {BaseURL}/workflow/run with bearer auth, retrying
// with capped exponential backoff and full jitter.
type DeliveryClient struct {
	endpoint string
	opts     DeliveryOptions
	client   *http.Client
	limiter  *rate.Limiter

	jitter func(max time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewDeliveryClient(opts DeliveryOptions) (*DeliveryClient, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("destination base url %q must be an absolute http(s) url", opts.BaseURL)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}

	limit := rate.Inf
	burst := 1
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
		burst = max(1, int(opts.RateLimit))
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &DeliveryClient{
		endpoint: strings.TrimRight(base.String(), "/") + "/workflow/run",
		opts:     opts,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		jitter:   fullJitter,
		sleep:    sleepContext,
	}, nil
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the wait before the next attempt after `attempt` failures:
// a random duration in [0, min(BackoffMax, BackoffBase*2^(attempt-1))].
func (c *DeliveryClient) backoff(attempt int) time.Duration {
	ceiling := c.opts.BackoffBase
	for i := 1; i < attempt && ceiling < c.opts.BackoffMax; i++ {
		ceiling *= 2
	}
	if ceiling > c.opts.BackoffMax {
		ceiling = c.opts.BackoffMax
	}
	return c.jitter(ceiling)
}

// statusError is a non-2xx response or a 2xx with a failing ack code.
type statusError struct {
	StatusCode int
	AckCode    int
	Body       string
}

func (e *statusError) Error() string {
	if e.AckCode != 0 {
		return fmt.Sprintf("workflow returned code %d: %s", e.AckCode, e.Body)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *DeliveryClient) Deliver(ctx context.Context, workflowID string, params ParameterMap) (Ack, error) {
	body, err := json.Marshal(workflowRunRequest{WorkflowID: workflowID, Parameters: params})
	if err != nil {
		return Ack{}, &DeliveryError{WorkflowID: workflowID, Err: fmt.Errorf("encode request: %w", err)}
	}

	start := time.Now()
	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempts = 1; attempts <= c.opts.MaxAttempts; attempts++ {
		if err := c.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		ack, status, err := c.attempt(ctx, body)
		lastStatus = status
		if err == nil {
			deliveryAttemptsMetric.WithLabelValues(resultSuccess).Inc()
			deliveryDurationMetric.WithLabelValues(resultSuccess).Observe(time.Since(start).Seconds())
			return ack, nil
		}
		lastErr = err

		fields := logrus.Fields{"workflow_id": workflowID, "attempt": attempts, "max_attempts": c.opts.MaxAttempts}
		if status >= 400 && status < 500 {
			deliveryAttemptsMetric.WithLabelValues(resultRejected).Inc()
			utils.ErrorLogger.WithFields(fields).WithField("status", status).
				Warnf("Workflow rejected payload: %v", err)
		} else {
			deliveryAttemptsMetric.WithLabelValues(resultRetry).Inc()
			utils.ErrorLogger.WithFields(fields).Warnf("Delivery attempt failed: %v", err)
		}

		if attempts == c.opts.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff(attempts)); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	deliveryDurationMetric.WithLabelValues(resultFailed).Observe(time.Since(start).Seconds())
	return Ack{}, &DeliveryError{
		WorkflowID: workflowID,
		Attempts:   min(attempts, c.opts.MaxAttempts),
		StatusCode: lastStatus,
		Err:        lastErr,
	}
}

func (c *DeliveryClient) attempt(ctx context.Context, body []byte) (Ack, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Ack{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return Ack{}, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Ack{}, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Ack{}, resp.StatusCode, &statusError{StatusCode: resp.StatusCode, Body: snippet(raw)}
	}

	var ack Ack
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &ack); err != nil {
			// some workflow gateways answer 2xx with plain text
			return Ack{Msg: snippet(raw)}, resp.StatusCode, nil
		}
	}
	if ack.Code != 0 {
		return ack, resp.StatusCode, &statusError{StatusCode: resp.StatusCode, AckCode: ack.Code, Body: ack.Msg}
	}
	return ack, resp.StatusCode, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
