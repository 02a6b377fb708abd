package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
)

func TestPermanentStatus(t *testing.T) {
	t.Parallel()

	permanent := []int{400, 401, 403, 404, 410, 422}
	for _, code := range permanent {
		require.True(t, permanentStatus(code), "code %d", code)
	}

	retryable := []int{408, 425, 429, 500, 502, 503, 504}
	for _, code := range retryable {
		require.False(t, permanentStatus(code), "code %d", code)
	}
}

func TestBackoffFor(t *testing.T) {
	t.Parallel()

	base := 10 * time.Second
	max := 5 * time.Minute

	require.Equal(t, 10*time.Second, backoffFor(base, max, 0))
	require.Equal(t, 20*time.Second, backoffFor(base, max, 1))
	require.Equal(t, 40*time.Second, backoffFor(base, max, 2))
	require.Equal(t, 160*time.Second, backoffFor(base, max, 4))
	require.Equal(t, max, backoffFor(base, max, 5))
	require.Equal(t, max, backoffFor(base, max, 50))
}

func deliverTo(t *testing.T, handler http.HandlerFunc, token string) (bool, error) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conf := &config.Config{WorkerURL: server.URL, WorkerToken: token}
	request := &db.DispatchRequest{
		ID:      db.NewUUID(),
		JobID:   db.NewUUID(),
		Payload: []byte(`{"job_id":"j1","source_ref":"bucket/key"}`),
	}
	return deliver(context.Background(), server.Client(), conf, request)
}

func TestDeliver_Success(t *testing.T) {
	t.Parallel()

	var gotAuth, gotBody string
	permanent, err := deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}, "secret-token")

	require.NoError(t, err)
	require.False(t, permanent)
	require.Equal(t, "Bearer secret-token", gotAuth)
	require.JSONEq(t, `{"job_id":"j1","source_ref":"bucket/key"}`, gotBody)
}

func TestDeliver_NoTokenMeansNoHeader(t *testing.T) {
	t.Parallel()

	var sawAuth bool
	_, err := deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization") != ""
		w.WriteHeader(http.StatusOK)
	}, "")

	require.NoError(t, err)
	require.False(t, sawAuth)
}

func TestDeliver_ServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	permanent, err := deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "generation upstream unavailable", http.StatusBadGateway)
	}, "")

	require.Error(t, err)
	require.False(t, permanent)
	require.Contains(t, err.Error(), "502")
	require.Contains(t, err.Error(), "generation upstream unavailable")
}

func TestDeliver_OverCapacityIsRetryable(t *testing.T) {
	t.Parallel()

	permanent, err := deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "all workers busy", http.StatusTooManyRequests)
	}, "")

	require.Error(t, err)
	require.False(t, permanent)
}

func TestDeliver_ValidationFailureIsPermanent(t *testing.T) {
	t.Parallel()

	permanent, err := deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown job", http.StatusUnprocessableEntity)
	}, "")

	require.Error(t, err)
	require.True(t, permanent)
}

func TestDeliver_TransportErrorIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	conf := &config.Config{WorkerURL: server.URL}
	request := &db.DispatchRequest{ID: db.NewUUID(), JobID: db.NewUUID(), Payload: []byte(`{}`)}

	permanent, err := deliver(context.Background(), &http.Client{Timeout: time.Second}, conf, request)
	require.Error(t, err)
	require.False(t, permanent)
}
