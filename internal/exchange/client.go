// Package exchange is the admin client of the AFP exchange: it lists and
// reveals products and serves the specifications of registered products.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/httpclient"
	"github.com/Checker-Finance/afp-onboarding/internal/rate"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

// APIError is a non-2xx exchange response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("exchange returned %d: %s: %s", e.Status, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("exchange returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("exchange returned %d", e.Status)
}

// ReasonCode returns the structured error code of the response.
func (e *APIError) ReasonCode() string { return e.Code }

// Client is an authenticated exchange client.
type Client struct {
	baseURL string
	token   string
	exec    *httpclient.Executor
	logger  *zap.Logger
}

// NewClient creates an exchange client. Only reads are retried.
func NewClient(baseURL, token string, retryMax int, logger *zap.Logger, rateMgr *rate.Manager) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	exec := httpclient.New(logger, rateMgr, &http.Client{Timeout: 30 * time.Second}, httpclient.Options{
		Target:   rate.KeyExchange,
		RetryMax: retryMax,
		ErrorHandler: func(status int, body []byte) error {
			apiErr := &APIError{Status: status}
			if err := json.Unmarshal(body, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
				apiErr.Message = strings.TrimSpace(string(body))
			}
			return apiErr
		},
	})
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, exec: exec, logger: logger}
}

// ListProduct lists a registered product.
// POST /admin/products/{id}/list
func (c *Client) ListProduct(ctx context.Context, id spec.ProductID) error {
	return c.post(ctx, "/admin/products/"+id.Hex()+"/list", "list")
}

// RevealProduct reveals a listed product.
// POST /admin/products/{id}/reveal
func (c *Client) RevealProduct(ctx context.Context, id spec.ProductID) error {
	return c.post(ctx, "/admin/products/"+id.Hex()+"/reveal", "reveal")
}

// FetchSpecification returns the specification document of a registered
// product. Unknown products are reported with spec.ErrProductNotFound.
// GET /products/{id}
func (c *Client) FetchSpecification(ctx context.Context, id spec.ProductID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products/"+id.Hex(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	body, err := c.exec.Do(ctx, req, "get_product")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("product %s: %w", id.Hex(), spec.ErrProductNotFound)
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path, operation string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	if _, err := c.exec.Do(ctx, req, operation); err != nil {
		return err
	}
	c.logger.Info("exchange."+operation, zap.String("path", path))
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
