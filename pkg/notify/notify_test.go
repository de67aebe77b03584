package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() WebhookConfig {
	return WebhookConfig{
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}
}

func TestWebhookClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v1", body["vendorId"])
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.Client(), fastConfig(), nil)
	err := c.Send(context.Background(), Webhook{
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
		Payload: map[string]string{"vendorId": "v1"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestWebhookClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.Client(), fastConfig(), nil)
	err := c.Send(context.Background(), Webhook{URL: srv.URL, Method: "put"})

	var werr *WebhookError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, 3, werr.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, werr.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestWebhookClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.Client(), fastConfig(), nil)
	err := c.Send(context.Background(), Webhook{URL: srv.URL})

	var werr *WebhookError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, 1, werr.Attempts)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWebhookClient_AttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxAttempts = 2
	c := NewWebhookClient(srv.Client(), cfg, nil)

	start := time.Now()
	err := c.Send(context.Background(), Webhook{URL: srv.URL})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.SendAlert(context.Background(), Alert{Subject: "a"}))
	r.FailWith(errors.New("smtp down"))
	assert.Error(t, r.SendAlert(context.Background(), Alert{Subject: "b"}))
	assert.Len(t, r.Alerts(), 1)
}

func TestWebhookAlerter(t *testing.T) {
	got := make(chan Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		_ = json.NewDecoder(r.Body).Decode(&a)
		got <- a
	}))
	defer srv.Close()

	a := NewWebhookAlerter(NewWebhookClient(srv.Client(), fastConfig(), nil), srv.URL)
	require.NoError(t, a.SendAlert(context.Background(), Alert{Subject: "SLA breached", CaseNumber: "CASE-1"}))
	assert.Equal(t, "CASE-1", (<-got).CaseNumber)
}
