// Package verify is the read-side boundary: a customer-supplied transaction
// ID (possibly mistyped) in, a verification verdict out. Every attempt is
// persisted for audit regardless of outcome.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kigalipay/momoguard/internal/cache"
	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/metrics"
	"github.com/kigalipay/momoguard/internal/resolver"
	"github.com/kigalipay/momoguard/internal/store"
	"github.com/kigalipay/momoguard/internal/tracing"
)

// RecordSummary is the record view returned to verification clients. The raw
// message stays internal.
type RecordSummary struct {
	TxID         string    `json:"tx_id"`
	Category     string    `json:"category"`
	Amount       string    `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
	Counterparty string    `json:"counterparty,omitempty"`
}

// Result is the verdict for one verification attempt.
type Result struct {
	Status         model.VerificationStatus `json:"status"`
	Match          model.MatchStatus        `json:"match"`
	Confidence     float64                  `json:"confidence"`
	Record         *RecordSummary           `json:"record,omitempty"`
	Candidates     []RecordSummary          `json:"candidates,omitempty"`
	AmountMismatch bool                     `json:"amount_mismatch,omitempty"`
}

type Service struct {
	resolver *resolver.Resolver
	attempts store.VerificationRepository
	cache    *cache.LRU[string, model.MatchResult]
	logger   *slog.Logger
}

// NewService builds a verify service. cacheSize/cacheTTL bound the resolver
// result cache; a zero size disables caching.
func NewService(res *resolver.Resolver, attempts store.VerificationRepository, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Service {
	var c *cache.LRU[string, model.MatchResult]
	if cacheSize > 0 {
		c = cache.New[string, model.MatchResult](cacheSize, cacheTTL)
	}
	return &Service{
		resolver: res,
		attempts: attempts,
		cache:    c,
		logger:   logger.With("component", "verify"),
	}
}

// Verify resolves query and, when expectedAmount is set, cross-checks it
// against the matched record. clientIP is recorded with the audit row.
func (s *Service) Verify(ctx context.Context, query string, expectedAmount *decimal.Decimal, clientIP string) (*Result, error) {
	ctx, span := tracing.Tracer("verify").Start(ctx, "verify.verify")
	defer span.End()

	match, err := s.resolve(ctx, query)
	if err != nil {
		return nil, err
	}

	res := s.verdict(match, expectedAmount)
	span.SetAttributes(
		attribute.String("match", string(res.Match)),
		attribute.String("status", string(res.Status)),
	)
	metrics.VerificationsTotal.WithLabelValues(string(res.Status)).Inc()

	att := &model.VerificationAttempt{
		Query:      query,
		Status:     res.Status,
		Confidence: res.Confidence,
		ClientIP:   clientIP,
	}
	if res.Record != nil {
		att.TxID = res.Record.TxID
	}
	if err := s.attempts.InsertAttempt(ctx, att); err != nil {
		return nil, fmt.Errorf("verify: persist attempt: %w", err)
	}

	s.logger.Info("verification attempt",
		"status", res.Status,
		"match", res.Match,
		"confidence", res.Confidence)
	return res, nil
}

func (s *Service) resolve(ctx context.Context, query string) (model.MatchResult, error) {
	key := resolver.NormalizeQuery(query)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			metrics.VerifyCacheHits.Inc()
			return cached, nil
		}
	}

	start := time.Now()
	match, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("verify: resolve %q: %w", query, err)
	}
	metrics.ResolverLookupsTotal.WithLabelValues(string(match.Status)).Inc()
	metrics.ResolverLatency.WithLabelValues(string(match.Status)).Observe(time.Since(start).Seconds())

	if s.cache != nil && key != "" {
		s.cache.Put(key, match)
	}
	return match, nil
}

// verdict maps a resolution onto a verification status. A matched record
// whose amount contradicts the claimed amount fails verification; the match
// is still returned so support staff can see what the ID resolved to.
func (s *Service) verdict(match model.MatchResult, expectedAmount *decimal.Decimal) *Result {
	res := &Result{
		Match:      match.Status,
		Confidence: match.Confidence,
	}

	switch match.Status {
	case model.MatchExact, model.MatchFuzzy:
		res.Status = model.VerificationVerified
		res.Record = summarize(match.Record)
		if expectedAmount != nil && !expectedAmount.Equal(match.Record.Amount) {
			res.Status = model.VerificationFailed
			res.AmountMismatch = true
			res.Confidence = match.Confidence / 2
		}
	case model.MatchAmbiguous:
		res.Status = model.VerificationAmbiguous
		res.Candidates = make([]RecordSummary, 0, len(match.Candidates))
		for i := range match.Candidates {
			res.Candidates = append(res.Candidates, *summarize(&match.Candidates[i]))
		}
	default:
		res.Status = model.VerificationFailed
	}
	return res
}

func summarize(rec *model.Record) *RecordSummary {
	return &RecordSummary{
		TxID:         rec.TxID,
		Category:     string(rec.Category),
		Amount:       rec.Amount.String(),
		Timestamp:    rec.Timestamp,
		Counterparty: counterpartyLabel(rec),
	}
}

func counterpartyLabel(rec *model.Record) string {
	switch {
	case rec.CounterpartyName != "" && rec.CounterpartyPhone != "":
		return rec.CounterpartyName + " (" + rec.CounterpartyPhone + ")"
	case rec.CounterpartyName != "":
		return rec.CounterpartyName
	case rec.CounterpartyPhone != "":
		return rec.CounterpartyPhone
	case rec.AgentName != "":
		return rec.AgentName
	}
	return rec.CounterpartyCode
}
