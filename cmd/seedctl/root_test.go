package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--url", srv.URL, "--secret", "s3cret"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLossCommandSendsTradeID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/seed-improver/loss", r.URL.Path)
		assert.Equal(t, "s3cret", r.Header.Get("X-Internal-Service"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "t-9", body["trade_id"])
		assert.Equal(t, "BTC/USDT", body["pair"])

		_, _ = w.Write([]byte(`{
			"status": "completed",
			"run_id": "r-1",
			"trigger_type": "loss",
			"summary": "Phases 0–6 complete.",
			"recommendations_count": 1,
			"top_recommendations": [{"priority": "high", "category": "risk", "change_summary": "Widen stops"}],
			"verdicts_summary": {"approve": 0, "reject": 0, "defer": 1},
			"implementations_summary": {"implemented": 0, "failed": 0, "skipped": 0}
		}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv, "loss", "t-9", "--pair", "BTC/USDT")
	require.NoError(t, err)
	assert.Contains(t, out, "run r-1 (loss): completed")
	assert.Contains(t, out, "defer=1")
	assert.Contains(t, out, "1. [high/risk] Widen stops")
}

func TestStatusCommandReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"run not found"}`))
	}))
	defer srv.Close()

	_, err := execute(t, srv, "status", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestRunsCommandPrintsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"runs":[],"count":0}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv, "runs", "--limit", "5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"runs":[],"count":0}`, out)
}

func TestLossCommandRequiresTradeID(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := execute(t, srv, "loss")
	assert.Error(t, err)
}
