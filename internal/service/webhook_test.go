package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/smartcity/trafficcore/internal/domain"
)

func TestWebhookNotifier_PostsResult(t *testing.T) {
	var (
		mu   sync.Mutex
		got  domain.ControlResult
		kind string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		kind = r.Header.Get("Content-Type")
		_ = sonnet.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(time.Second)
	result := domain.ControlResult{ControllerID: "GS_C", Status: domain.StatusVerifiedAndRunning}
	require.NoError(t, n.Notify(context.Background(), srv.URL, result))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", kind)
	assert.Equal(t, result.ControllerID, got.ControllerID)
	assert.Equal(t, result.Status, got.Status)
}

func TestWebhookNotifier_Non2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(time.Second)
	err := n.Notify(context.Background(), srv.URL, domain.ControlResult{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookNotifier_AsyncIsTracked(t *testing.T) {
	calls := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- struct{}{}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(time.Second)
	n.NotifyAsync(srv.URL, domain.ControlResult{ControllerID: "GS_C"})
	n.NotifyAsync("", domain.ControlResult{ControllerID: "GS_C"})
	n.WaitBackground()

	assert.Len(t, calls, 1)
}
