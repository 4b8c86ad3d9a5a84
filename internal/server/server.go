// Package server exposes the HTTP API: message submission, verification with
// the shared-code gate, and the read endpoints for dashboards.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/ingest"
	"github.com/kigalipay/momoguard/internal/parser"
	"github.com/kigalipay/momoguard/internal/store"
	"github.com/kigalipay/momoguard/internal/verify"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

const (
	defaultRecentHours = 24
	maxRecentLimit     = 200
	searchWindow       = 30 * 24 * time.Hour
	searchScanLimit    = 500
)

// Pinger reports store liveness for the health endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server handles the public API.
type Server struct {
	ingest     *ingest.Service
	verify     *verify.Service
	records    store.RecordRepository
	attempts   store.VerificationRepository
	verifyCode string
	pinger     Pinger
	logger     *slog.Logger
}

// NewServer builds the API server. verifyCode gates POST /api/verify; an
// empty code disables the gate. pinger may be nil when no database backs the
// store.
func NewServer(
	ing *ingest.Service,
	ver *verify.Service,
	records store.RecordRepository,
	attempts store.VerificationRepository,
	verifyCode string,
	pinger Pinger,
	logger *slog.Logger,
) *Server {
	return &Server{
		ingest:     ing,
		verify:     ver,
		records:    records,
		attempts:   attempts,
		verifyCode: verifyCode,
		pinger:     pinger,
		logger:     logger.With("component", "api"),
	}
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sms/process", s.handleProcess)
	mux.HandleFunc("POST /api/verify", s.handleVerify)
	mux.HandleFunc("GET /api/transactions/recent", s.handleRecent)
	mux.HandleFunc("GET /api/transactions/search", s.handleSearch)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v. Returns false
// (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

type processRequest struct {
	Message    string `json:"message"`
	ReceivedAt string `json:"received_at,omitempty"` // RFC3339, defaults to now
}

type processResponse struct {
	TxID      string    `json:"tx_id"`
	Category  string    `json:"category"`
	Amount    string    `json:"amount"`
	Fee       string    `json:"fee"`
	RiskScore float64   `json:"risk_score"`
	Level     string    `json:"level"`
	Duplicate bool      `json:"duplicate"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
		return
	}

	receivedAt := time.Now().UTC()
	if req.ReceivedAt != "" {
		t, err := time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			http.Error(w, `{"error":"received_at must be RFC3339"}`, http.StatusBadRequest)
			return
		}
		receivedAt = t.UTC()
	}

	res, err := s.ingest.Process(r.Context(), req.Message, receivedAt)
	if err != nil {
		var extractErr *parser.ExtractionFailure
		var normErr *parser.NormalizationError
		switch {
		case errors.As(err, &extractErr):
			http.Error(w, `{"error":"message matched no known template"}`, http.StatusUnprocessableEntity)
		case errors.As(err, &normErr):
			http.Error(w, `{"error":"message fields could not be normalized"}`, http.StatusUnprocessableEntity)
		default:
			s.logger.Error("process failed", "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		}
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusConflict
	}
	writeJSON(w, status, processResponse{
		TxID:      res.Record.TxID,
		Category:  string(res.Record.Category),
		Amount:    res.Record.Amount.String(),
		Fee:       res.Record.Fee.String(),
		RiskScore: res.Assessment.RiskScore,
		Level:     string(res.Assessment.Level),
		Duplicate: res.Duplicate,
		Timestamp: res.Record.Timestamp,
	})
}

type verifyRequest struct {
	Code           string `json:"code"`
	Query          string `json:"query"`
	ExpectedAmount string `json:"expected_amount,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if s.verifyCode != "" && req.Code != s.verifyCode {
		http.Error(w, `{"error":"invalid verification code"}`, http.StatusForbidden)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
		return
	}

	var expected *decimal.Decimal
	if req.ExpectedAmount != "" {
		d, err := decimal.NewFromString(strings.ReplaceAll(req.ExpectedAmount, ",", ""))
		if err != nil || d.IsNegative() {
			http.Error(w, `{"error":"expected_amount must be a non-negative number"}`, http.StatusBadRequest)
			return
		}
		expected = &d
	}

	res, err := s.verify.Verify(r.Context(), req.Query, expected, clientIP(r))
	if err != nil {
		s.logger.Error("verify failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type recordResponse struct {
	TxID         string    `json:"tx_id"`
	Category     string    `json:"category"`
	Amount       string    `json:"amount"`
	Fee          string    `json:"fee"`
	Counterparty string    `json:"counterparty,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func toRecordResponse(rec *model.Record) recordResponse {
	label := rec.CounterpartyName
	if label == "" {
		label = rec.CounterpartyPhone
	}
	if label == "" {
		label = rec.CounterpartyCode
	}
	return recordResponse{
		TxID:         rec.TxID,
		Category:     string(rec.Category),
		Amount:       rec.Amount.String(),
		Fee:          rec.Fee.String(),
		Counterparty: label,
		Timestamp:    rec.Timestamp,
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	hours := defaultRecentHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"hours must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		hours = n
	}
	limit := maxRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		if n < limit {
			limit = n
		}
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	recs, err := s.records.ScanSince(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("recent scan failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]recordResponse, len(recs))
	for i := range recs {
		resp[i] = toRecordResponse(&recs[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		http.Error(w, `{"error":"q query param required"}`, http.StatusBadRequest)
		return
	}

	since := time.Now().UTC().Add(-searchWindow)
	recs, err := s.records.ScanSince(r.Context(), since, searchScanLimit)
	if err != nil {
		s.logger.Error("search scan failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]recordResponse, 0)
	for i := range recs {
		if matchesQuery(&recs[i], q) {
			resp = append(resp, toRecordResponse(&recs[i]))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func matchesQuery(rec *model.Record, q string) bool {
	for _, field := range []string{
		rec.TxID,
		rec.CounterpartyName,
		rec.CounterpartyPhone,
		rec.CounterpartyCode,
		rec.AgentName,
	} {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

type statsResponse struct {
	Records       map[model.Category]int64           `json:"records"`
	Verifications map[model.VerificationStatus]int64 `json:"verifications"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	byCategory, err := s.records.CountByCategory(r.Context())
	if err != nil {
		s.logger.Error("stats category count failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	byStatus, err := s.attempts.CountByStatus(r.Context())
	if err != nil {
		s.logger.Error("stats verification count failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Records: byCategory, Verifications: byStatus})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  "store unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
