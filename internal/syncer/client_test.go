package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydeck/helmsman/pkg/clients"
)

func TestUpsertContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/contacts", r.URL.Path)
		assert.Equal(t, "Bearer service-token", r.Header.Get("Authorization"))

		var req struct {
			AccountID string `json:"account_id"`
			Handle    string `json:"handle"`
			Source    string `json:"source"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acct-1", req.AccountID)
		assert.Equal(t, "jane", req.Handle)
		assert.Equal(t, "comment", req.Source)

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-token")
	require.NoError(t, c.UpsertContact(context.Background(), "acct-1", "jane", "comment"))
}

func TestUpsertContactAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-token")
	err := c.UpsertContact(context.Background(), "acct-1", "jane", "comment")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
}

func TestUpsertContactRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := clients.DefaultHTTPExecutorConfig()
	cfg.MaxRetries = 2
	cfg.BaseDelay = time.Millisecond

	c := NewClient(srv.URL, "service-token", WithHTTPExecutorConfig(cfg))
	require.NoError(t, c.UpsertContact(context.Background(), "acct-1", "jane", "comment"))
	assert.Equal(t, 2, attempts)
}
