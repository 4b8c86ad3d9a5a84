package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kigalipay/momoguard/internal/alert"
	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/fraud"
	"github.com/kigalipay/momoguard/internal/ingest"
	"github.com/kigalipay/momoguard/internal/parser"
	"github.com/kigalipay/momoguard/internal/resolver"
	"github.com/kigalipay/momoguard/internal/store/memory"
	redisstream "github.com/kigalipay/momoguard/internal/store/redis"
	"github.com/kigalipay/momoguard/internal/verify"
)

const (
	testVerifyCode = "1043577"
	paymentMsg     = "TxId: 22004556853. Your payment of 1,100 RWF to Assia Itangishaka 047700 has been completed at 2025-07-30 19:49:59. Your new balance: 641 RWF. Fee was 0 RWF."
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	logger := testLogger()
	st := memory.New()

	ing := ingest.NewService(
		parser.NewExtractor(),
		fraud.New(fraud.Config{}, logger),
		st, st,
		redisstream.NewInMemoryTransport(),
		&alert.NoopAlerter{},
		logger,
	)
	ver := verify.NewService(resolver.New(st, resolver.Config{}, logger), st, 16, time.Minute, logger)

	srv := httptest.NewServer(NewServer(ing, ver, st, st, testVerifyCode, nil, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestProcessEndpoint(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/sms/process", map[string]string{"message": paymentMsg})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := decodeBody[processResponse](t, resp)
	assert.Equal(t, "22004556853", got.TxID)
	assert.Equal(t, "payment_out", got.Category)
	assert.Equal(t, "1100", got.Amount)
	assert.Equal(t, "safe", got.Level)
	assert.False(t, got.Duplicate)

	_, err := st.Get(context.Background(), "22004556853")
	require.NoError(t, err)
}

func TestProcessEndpointDuplicateConflict(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/sms/process", map[string]string{"message": paymentMsg})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/sms/process", map[string]string{"message": paymentMsg})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	got := decodeBody[processResponse](t, resp)
	assert.True(t, got.Duplicate)
}

func TestProcessEndpointRejectsGarbage(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/sms/process", map[string]string{"message": "see you at the meeting tomorrow"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/sms/process", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestVerifyEndpointCodeGate(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/verify", map[string]string{
		"code":  "wrong",
		"query": "22004556853",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestVerifyEndpoint(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	seedVerifiable(t, st)

	resp := postJSON(t, srv.URL+"/api/verify", map[string]string{
		"code":  testVerifyCode,
		"query": "22004556853",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[verify.Result](t, resp)
	assert.Equal(t, model.VerificationVerified, got.Status)
	assert.Equal(t, model.MatchExact, got.Match)
	require.NotNil(t, got.Record)
	assert.Equal(t, "22004556853", got.Record.TxID)
}

func TestVerifyEndpointExpectedAmountMismatch(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	seedVerifiable(t, st)

	resp := postJSON(t, srv.URL+"/api/verify", map[string]string{
		"code":            testVerifyCode,
		"query":           "22004556853",
		"expected_amount": "9,999",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[verify.Result](t, resp)
	assert.Equal(t, model.VerificationFailed, got.Status)
	assert.True(t, got.AmountMismatch)
}

func TestRecentEndpoint(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	seedVerifiable(t, st)

	resp, err := http.Get(srv.URL + "/api/transactions/recent?hours=48&limit=10")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[[]recordResponse](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "22004556853", got[0].TxID)

	resp, err = http.Get(srv.URL + "/api/transactions/recent?hours=abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	seedVerifiable(t, st)

	resp, err := http.Get(srv.URL + "/api/transactions/search?q=jane")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[[]recordResponse](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "Jane Doe", got[0].Counterparty)

	resp, err = http.Get(srv.URL + "/api/transactions/search?q=nomatch")
	require.NoError(t, err)
	got = decodeBody[[]recordResponse](t, resp)
	assert.Empty(t, got)

	resp, err = http.Get(srv.URL + "/api/transactions/search")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	seedVerifiable(t, st)
	require.NoError(t, st.InsertAttempt(context.Background(), &model.VerificationAttempt{
		Query:  "x",
		Status: model.VerificationFailed,
	}))

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[statsResponse](t, resp)
	assert.Equal(t, int64(1), got.Records[model.CategoryPaymentOut])
	assert.Equal(t, int64(1), got.Verifications[model.VerificationFailed])
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", got["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestBodySizeCap(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	huge := bytes.Repeat([]byte("a"), maxRequestBodyBytes+1024)
	body, err := json.Marshal(map[string]string{"message": string(huge)})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/sms/process", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func seedVerifiable(t *testing.T, st *memory.Store) {
	t.Helper()
	err := st.InsertIfAbsent(context.Background(), &model.Record{
		TxID:              "22004556853",
		Category:          model.CategoryPaymentOut,
		Amount:            decimal.NewFromInt(1100),
		CounterpartyName:  "Jane Doe",
		CounterpartyPhone: "250788953573",
		Timestamp:         time.Now().UTC().Add(-time.Hour),
		RawMessage:        "TxId: 22004556853. Your payment of 1,100 RWF to Jane Doe.",
	})
	require.NoError(t, err)
}

func TestRateLimiterThrottles(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(testLogger())
	defer rl.Stop()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(rl.Wrap(inner))
	defer srv.Close()

	// The verify rule allows a burst of 5.
	var tooMany bool
	for i := 0; i < 10; i++ {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/verify", nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			tooMany = true
			assert.Equal(t, "60", resp.Header.Get("Retry-After"))
			break
		}
	}
	assert.True(t, tooMany, "burst should exhaust within 10 requests")
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(testLogger())
	defer rl.Stop()

	srv := httptest.NewServer(rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	defer srv.Close()

	// Exhaust the bucket for one client.
	for i := 0; i < 10; i++ {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/verify", nil)
		req.Header.Set("X-Forwarded-For", "198.51.100.1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	// A different client is unaffected.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/verify", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.GreaterOrEqual(t, rl.EntryCount(), 2)
}

func TestClientIPExtraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		xff    string
		xri    string
		remote string
		want   string
	}{
		{"forwarded single", "203.0.113.9", "", "10.0.0.1:1234", "203.0.113.9"},
		{"forwarded list takes first", "203.0.113.9, 10.0.0.2", "", "10.0.0.1:1234", "203.0.113.9"},
		{"real ip", "", "203.0.113.10", "10.0.0.1:1234", "203.0.113.10"},
		{"remote addr", "", "", "10.0.0.1:1234", "10.0.0.1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}
