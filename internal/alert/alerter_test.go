package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kigalipay/momoguard/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlert() Alert {
	return Alert{
		Type:     AlertTypeHighRisk,
		Category: "payment_out",
		TxID:     "22004556853",
		Title:    "High risk transaction",
		Message:  "risk score 0.90 (high)",
		Fields: map[string]string{
			"rules":  "duplicate_txid,amount_anomaly",
			"amount": "1,500,000 RWF",
		},
	}
}

func TestMultiAlerterFansOutToAllChannels(t *testing.T) {
	var slackReceived atomic.Int32
	var webhookReceived atomic.Int32

	slackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slackReceived.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer slackSrv.Close()

	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookReceived.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookSrv.Close()

	multi := NewMultiAlerter(time.Hour, testLogger(),
		NewSlackAlerter(slackSrv.URL), NewWebhookAlerter(webhookSrv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))

	assert.Equal(t, int32(1), slackReceived.Load())
	assert.Equal(t, int32(1), webhookReceived.Load())
}

func TestMultiAlerterCooldownDedup(t *testing.T) {
	var received atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(srv.URL))

	a := testAlert()
	require.NoError(t, multi.Send(context.Background(), a))
	require.NoError(t, multi.Send(context.Background(), a))

	assert.Equal(t, int32(1), received.Load(), "second send inside the cooldown window should be suppressed")
}

func TestMultiAlerterCooldownKeyedByTypeAndCategory(t *testing.T) {
	var received atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(srv.URL))

	a := testAlert()
	require.NoError(t, multi.Send(context.Background(), a))

	// Different category same type is not deduped.
	b := testAlert()
	b.Category = "withdrawal"
	require.NoError(t, multi.Send(context.Background(), b))

	// Different type same category is not deduped either.
	c := testAlert()
	c.Type = AlertTypeDuplicateTxID
	require.NoError(t, multi.Send(context.Background(), c))

	assert.Equal(t, int32(3), received.Load())
}

func TestWebhookAlerterPayload(t *testing.T) {
	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	webhook := NewWebhookAlerter(srv.URL)
	require.NoError(t, webhook.Send(context.Background(), testAlert()))

	assert.Equal(t, "HIGH_RISK", got["type"])
	assert.Equal(t, "payment_out", got["category"])
	assert.Equal(t, "22004556853", got["tx_id"])
}

func TestWebhookAlerterNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	webhook := NewWebhookAlerter(srv.URL)
	assert.Error(t, webhook.Send(context.Background(), testAlert()))
}

func TestWebhookAlerterBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	webhook := NewWebhookAlerter(srv.URL)
	for i := 0; i < 5; i++ {
		assert.Error(t, webhook.Send(context.Background(), testAlert()))
	}
	assert.Equal(t, 5, hits)

	err := webhook.Send(context.Background(), testAlert())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 5, hits)
}

func TestNoopAlerter(t *testing.T) {
	t.Parallel()
	var n NoopAlerter
	assert.NoError(t, n.Send(context.Background(), testAlert()))
}
