package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/metrics"
	"github.com/Checker-Finance/afp-onboarding/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// StatusError is returned for a non-2xx response when no error handler
// claims it.
type StatusError struct {
	Target string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Target, e.Status)
}

// Temporary reports whether the upstream failed rather than rejected the request.
func (e *StatusError) Temporary() bool { return e.Status >= 500 || e.Status == http.StatusTooManyRequests }

// Options configures an Executor.
type Options struct {
	// Target names the upstream in logs, metrics and errors ("ipfs", "exchange").
	Target   string
	RetryMax int
	// RetryUnsafe allows retrying requests other than GET and HEAD. Only set
	// it for upstreams whose writes are idempotent.
	RetryUnsafe bool
	// ErrorHandler turns a 4xx response into a target-specific error. When
	// nil a *StatusError is returned.
	ErrorHandler func(status int, body []byte) error
	Backoff      func(attempt int) time.Duration
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
type Executor struct {
	logger  *zap.Logger
	rateMgr *rate.Manager
	http    *http.Client
	opts    Options
}

// New creates an Executor.
func New(logger *zap.Logger, rateMgr *rate.Manager, httpClient *http.Client, opts Options) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Backoff == nil {
		opts.Backoff = Backoff
	}
	return &Executor{logger: logger, rateMgr: rateMgr, http: httpClient, opts: opts}
}

// DoJSON executes req and JSON-decodes a 2xx response body into out.
// operation labels the call in logs and metrics.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, operation string, out any) error {
	body, err := e.Do(ctx, req, operation)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			e.logger.Warn(e.opts.Target+".decode_failed",
				zap.String("operation", operation),
				zap.String("url", req.URL.Redacted()),
				zap.ByteString("body", truncate(body, 512)),
				zap.Error(err))
			return fmt.Errorf("%s decode failed: %w", e.opts.Target, err)
		}
	}
	return nil
}

// Do executes req with rate limiting and retries and returns the body of a
// 2xx response. Requests with a body are rewound before each retry.
func (e *Executor) Do(ctx context.Context, req *http.Request, operation string) ([]byte, error) {
	start := time.Now()
	body, err := e.do(ctx, req.WithContext(ctx), operation)
	metrics.ObserveCall(e.opts.Target, operation, start, err)
	return body, err
}

func (e *Executor) do(ctx context.Context, req *http.Request, operation string) ([]byte, error) {
	if err := e.rateMgr.Wait(ctx, e.opts.Target); err != nil {
		return nil, fmt.Errorf("%s rate limit wait: %w", e.opts.Target, err)
	}

	retryMax := e.opts.RetryMax
	if !e.opts.RetryUnsafe && req.Method != http.MethodGet && req.Method != http.MethodHead {
		retryMax = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, attempt-1); err != nil {
				return nil, err
			}
			if err := rewind(req); err != nil {
				return nil, err
			}
		}

		started := time.Now()
		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = err
			e.logger.Warn(e.opts.Target+".http_failed",
				zap.String("operation", operation),
				zap.String("url", req.URL.Redacted()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s %s: %w", e.opts.Target, operation, ctx.Err())
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(started)
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			e.logger.Warn(e.opts.Target+".server_error",
				zap.String("operation", operation),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
				zap.Duration("latency", elapsed))
			lastErr = &StatusError{Target: e.opts.Target, Status: resp.StatusCode, Body: body}
			continue
		case resp.StatusCode >= 400:
			e.logger.Info(e.opts.Target+".client_error",
				zap.String("operation", operation),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", truncate(body, 512)))
			if e.opts.ErrorHandler != nil {
				return nil, e.opts.ErrorHandler(resp.StatusCode, body)
			}
			return nil, &StatusError{Target: e.opts.Target, Status: resp.StatusCode, Body: body}
		}

		e.logger.Debug(e.opts.Target+".http_success",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))
		return body, nil
	}

	return nil, fmt.Errorf("%s request failed after %d attempts: %w", e.opts.Target, retryMax+1, lastErr)
}

func (e *Executor) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(e.opts.Backoff(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s retry: %w", e.opts.Target, ctx.Err())
	}
}

func rewind(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return fmt.Errorf("request body of %s %s cannot be replayed", req.Method, req.URL.Redacted())
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("rewind request body: %w", err)
	}
	req.Body = body
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
