package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

var productID = spec.ProductID{0xab, 0xcd}

func TestListAndRevealPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", 0, nil, nil)
	require.NoError(t, c.ListProduct(context.Background(), productID))
	require.NoError(t, c.RevealProduct(context.Background(), productID))

	assert.Equal(t, []string{
		"/admin/products/" + productID.Hex() + "/list",
		"/admin/products/" + productID.Hex() + "/reveal",
	}, paths)
}

func TestAPIError_Structured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"PRODUCT_ALREADY_LISTED","message":"Product already listed"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok", 0, nil, nil).ListProduct(context.Background(), productID)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "PRODUCT_ALREADY_LISTED", apiErr.ReasonCode())
	assert.Contains(t, err.Error(), "Product already listed")
}

func TestAPIError_PlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("product already revealed\n"))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok", 0, nil, nil).RevealProduct(context.Background(), productID)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Empty(t, apiErr.ReasonCode())
	assert.Equal(t, "product already revealed", apiErr.Message)
}

func TestPostNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok", 3, nil, nil).ListProduct(context.Background(), productID)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchSpecification(t *testing.T) {
	doc := `{"product":{"base":{}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/products/"+productID.Hex(), r.URL.Path)
		_, _ = w.Write([]byte(doc))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL+"/", "tok", 0, nil, nil).FetchSpecification(context.Background(), productID)
	require.NoError(t, err)
	assert.JSONEq(t, doc, string(got))
}

func TestFetchSpecification_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"PRODUCT_NOT_FOUND","message":"no such product"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tok", 0, nil, nil).FetchSpecification(context.Background(), productID)
	assert.ErrorIs(t, err, spec.ErrProductNotFound)
}

func TestFetchSpecification_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tok", 0, nil, nil).FetchSpecification(context.Background(), productID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, spec.ErrProductNotFound)
}
