package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendWebhookSuccess(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewProviderBridge(time.Second, zap.NewNop())
	err := b.SendWebhook(context.Background(), srv.URL, []byte(`{"event_id":"e1"}`))
	require.NoError(t, err)
	require.Equal(t, "e1", got["event_id"])
}

func TestSendWebhookThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewProviderBridge(time.Second, zap.NewNop())
	err := b.SendWebhook(context.Background(), srv.URL, []byte(`{}`))

	var tErr *ThrottleError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, 2*time.Second, tErr.RetryAfter)
}

func TestSendWebhookStatusTaxonomy(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		b := NewProviderBridge(time.Second, zap.NewNop())
		err := b.SendWebhook(context.Background(), srv.URL, []byte(`{}`))
		srv.Close()

		var dErr *DeliveryError
		require.ErrorAs(t, err, &dErr)
		require.Equal(t, tc.status, dErr.Status)
		require.Equal(t, tc.permanent, dErr.Permanent(), "status %d", tc.status)
	}
}

func TestSendUserUnstableRecipient(t *testing.T) {
	b := NewProviderBridge(time.Second, zap.NewNop())

	var dErr *DeliveryError
	err := b.SendUser(context.Background(), "unstable.recipient", Notification{EventID: "e1"})
	require.ErrorAs(t, err, &dErr)
	require.Equal(t, "push", dErr.Provider)
}

func TestSendUserContextCancelled(t *testing.T) {
	b := NewProviderBridge(time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.SendUser(ctx, "agent-1", Notification{EventID: "e1"})
	require.ErrorIs(t, err, context.Canceled)
}
