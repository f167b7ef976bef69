// Package ipfs pins JSON documents to an IPFS HTTP API (Kubo-compatible
// /api/v0/add) and returns their CIDv1.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/httpclient"
	"github.com/Checker-Finance/afp-onboarding/internal/rate"
)

// PinError is returned when a document could not be pinned.
type PinError struct {
	Name   string
	Status int
	Err    error
}

func (e *PinError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("pin %s: ipfs returned %d: %v", e.Name, e.Status, e.Err)
	}
	return fmt.Sprintf("pin %s: %v", e.Name, e.Err)
}

func (e *PinError) Unwrap() error { return e.Err }

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

type errorResponse struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
}

// Client talks to the pinning API.
type Client struct {
	baseURL string
	apiKey  string
	exec    *httpclient.Executor
	logger  *zap.Logger
}

// NewClient creates a pinning client. Adds are content addressed, so failed
// uploads are retried.
func NewClient(baseURL, apiKey string, retryMax int, logger *zap.Logger, rateMgr *rate.Manager) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	exec := httpclient.New(logger, rateMgr, &http.Client{Timeout: 60 * time.Second}, httpclient.Options{
		Target:      rate.KeyIPFS,
		RetryMax:    retryMax,
		RetryUnsafe: true,
		ErrorHandler: func(status int, body []byte) error {
			var resp errorResponse
			_ = json.Unmarshal(body, &resp)
			msg := resp.Message
			if msg == "" {
				msg = strings.TrimSpace(string(body))
			}
			return &PinError{Status: status, Err: errors.New(msg)}
		},
	})
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, exec: exec, logger: logger}
}

// PinJSON encodes v as JSON, adds and pins it, and returns its CID.
func (c *Client) PinJSON(ctx context.Context, name string, v any) (string, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return "", &PinError{Name: name, Err: fmt.Errorf("encode document: %w", err)}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", &PinError{Name: name, Err: err}
	}
	if _, err := part.Write(doc); err != nil {
		return "", &PinError{Name: name, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &PinError{Name: name, Err: err}
	}

	url := c.baseURL + "/api/v0/add?pin=true&cid-version=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body.Bytes()))
	if err != nil {
		return "", &PinError{Name: name, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var resp addResponse
	if err := c.exec.DoJSON(ctx, req, "add", &resp); err != nil {
		var pinErr *PinError
		if errors.As(err, &pinErr) {
			pinErr.Name = name
			return "", pinErr
		}
		return "", &PinError{Name: name, Err: err}
	}
	if resp.Hash == "" {
		return "", &PinError{Name: name, Err: errors.New("response carries no CID")}
	}

	c.logger.Info("ipfs.pinned", zap.String("name", name), zap.String("cid", resp.Hash), zap.Int("bytes", len(doc)))
	return resp.Hash, nil
}
