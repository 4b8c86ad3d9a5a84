// Package ingest is the write-side boundary: one raw SMS in, one committed
// record, its fraud assessment, and the downstream notifications out.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kigalipay/momoguard/internal/alert"
	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/fraud"
	"github.com/kigalipay/momoguard/internal/metrics"
	"github.com/kigalipay/momoguard/internal/parser"
	"github.com/kigalipay/momoguard/internal/store"
	redisstream "github.com/kigalipay/momoguard/internal/store/redis"
	"github.com/kigalipay/momoguard/internal/tracing"
)

// RecordStream is the stream name processed-record events are published to.
const RecordStream = "momoguard:records"

// Result is the outcome of processing one message.
type Result struct {
	Record     *model.Record
	Assessment model.FraudAssessment
	// Duplicate is set when a record with the same tx_id was already
	// committed; the original is retained and Record holds the rejected
	// parse.
	Duplicate bool
}

// RecordEvent is the JSON payload published per processed message.
type RecordEvent struct {
	TxID      string    `json:"tx_id"`
	Category  string    `json:"category"`
	Amount    string    `json:"amount"`
	RiskScore float64   `json:"risk_score"`
	Level     string    `json:"level"`
	Duplicate bool      `json:"duplicate"`
	Timestamp time.Time `json:"ts"`
}

type Service struct {
	extractor *parser.Extractor
	scorer    *fraud.Scorer
	records   store.RecordRepository
	alerts    store.FraudAlertRepository
	transport redisstream.MessageTransport
	alerter   alert.Alerter
	logger    *slog.Logger
}

func NewService(
	extractor *parser.Extractor,
	scorer *fraud.Scorer,
	records store.RecordRepository,
	alerts store.FraudAlertRepository,
	transport redisstream.MessageTransport,
	alerter alert.Alerter,
	logger *slog.Logger,
) *Service {
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	return &Service{
		extractor: extractor,
		scorer:    scorer,
		records:   records,
		alerts:    alerts,
		transport: transport,
		alerter:   alerter,
		logger:    logger.With("component", "ingest"),
	}
}

// Process parses raw, commits the record, scores it, and fans out alerts and
// stream events. Parse failures return the typed parser errors with nothing
// stored. A duplicate tx_id is not an error: the original record stays, the
// duplicate is assessed (feeding the duplicate rule) and reported.
func (s *Service) Process(ctx context.Context, raw string, receivedAt time.Time) (*Result, error) {
	ctx, span := tracing.Tracer("ingest").Start(ctx, "ingest.process")
	defer span.End()
	start := time.Now()

	fields, err := s.extractor.Extract(raw)
	if err != nil {
		s.observe(start, "parse_error")
		metrics.ParserFailuresTotal.Inc()
		s.logger.Warn("message matched no template", "length", len(raw))
		return nil, err
	}

	rec, err := parser.Normalize(fields, receivedAt)
	if err != nil {
		s.observe(start, "normalize_error")
		metrics.ParserFailuresTotal.Inc()
		s.logger.Warn("normalization failed", "category", fields.Category, "error", err)
		return nil, err
	}
	metrics.ParserExtractionsTotal.WithLabelValues(string(rec.Category)).Inc()
	if rec.TimestampFallback {
		metrics.ParserTimestampFallbacks.Inc()
	}
	span.SetAttributes(
		attribute.String("category", string(rec.Category)),
		attribute.String("tx_id", rec.TxID),
	)

	duplicate := false
	if err := s.records.InsertIfAbsent(ctx, rec); err != nil {
		if !errors.Is(err, store.ErrDuplicateTxID) {
			s.observe(start, "store_error")
			return nil, fmt.Errorf("ingest: store record: %w", err)
		}
		duplicate = true
	}

	assessment, err := s.scorer.Assess(ctx, rec, s.records)
	if err != nil {
		s.observe(start, "score_error")
		return nil, fmt.Errorf("ingest: assess record: %w", err)
	}
	metrics.FraudAssessments.WithLabelValues(string(assessment.Level)).Inc()
	for _, hit := range assessment.TriggeredRules {
		metrics.FraudRulesTriggered.WithLabelValues(hit.Rule).Inc()
	}

	if err := s.persistRuleHits(ctx, rec, assessment); err != nil {
		s.observe(start, "store_error")
		return nil, err
	}

	s.publish(ctx, rec, assessment, duplicate)
	s.notify(ctx, rec, assessment, duplicate)

	outcome := "stored"
	if duplicate {
		outcome = "duplicate"
	}
	s.observe(start, outcome)
	s.logger.Info("message processed",
		"tx_id", rec.TxID,
		"category", rec.Category,
		"level", assessment.Level,
		"duplicate", duplicate)

	return &Result{Record: rec, Assessment: assessment, Duplicate: duplicate}, nil
}

func (s *Service) persistRuleHits(ctx context.Context, rec *model.Record, a model.FraudAssessment) error {
	for _, hit := range a.TriggeredRules {
		err := s.alerts.InsertAlert(ctx, &model.FraudAlert{
			TxID:      rec.TxID,
			Rule:      hit.Rule,
			RiskScore: a.RiskScore,
			Level:     a.Level,
			Detail:    hit.Detail,
		})
		if err != nil {
			return fmt.Errorf("ingest: persist fraud alert: %w", err)
		}
	}
	return nil
}

// publish emits the processed-record event. Stream failures are logged, not
// returned: the record is already committed and losing one event is cheaper
// than failing the request.
func (s *Service) publish(ctx context.Context, rec *model.Record, a model.FraudAssessment, duplicate bool) {
	if s.transport == nil {
		return
	}
	ev := RecordEvent{
		TxID:      rec.TxID,
		Category:  string(rec.Category),
		Amount:    rec.Amount.String(),
		RiskScore: a.RiskScore,
		Level:     string(a.Level),
		Duplicate: duplicate,
		Timestamp: rec.Timestamp,
	}
	if _, err := s.transport.PublishJSON(ctx, RecordStream, ev); err != nil {
		metrics.StreamPublishesTotal.WithLabelValues(RecordStream, "error").Inc()
		s.logger.Warn("stream publish failed", "tx_id", rec.TxID, "error", err)
		return
	}
	metrics.StreamPublishesTotal.WithLabelValues(RecordStream, "ok").Inc()
}

func (s *Service) notify(ctx context.Context, rec *model.Record, a model.FraudAssessment, duplicate bool) {
	if a.Level == model.RiskHigh || a.Level == model.RiskCritical {
		s.send(ctx, alert.Alert{
			Type:     alert.AlertTypeHighRisk,
			Category: string(rec.Category),
			TxID:     rec.TxID,
			Title:    "High risk transaction",
			Message:  fmt.Sprintf("risk score %.2f (%s)", a.RiskScore, a.Level),
			Fields: map[string]string{
				"amount": rec.Amount.String() + " RWF",
				"rules":  ruleNames(a),
			},
		})
	}
	if duplicate || a.Triggered(fraud.RuleDuplicateTxID) {
		s.send(ctx, alert.Alert{
			Type:     alert.AlertTypeDuplicateTxID,
			Category: string(rec.Category),
			TxID:     rec.TxID,
			Title:    "Duplicate transaction ID",
			Message:  "a record with this tx_id is already committed; the original was retained",
		})
	}
	if a.Triggered(fraud.RuleMessageTamper) {
		s.send(ctx, alert.Alert{
			Type:     alert.AlertTypeTamperSuspect,
			Category: string(rec.Category),
			TxID:     rec.TxID,
			Title:    "Message tampering suspected",
			Message:  ruleDetail(a, fraud.RuleMessageTamper),
		})
	}
}

func (s *Service) send(ctx context.Context, a alert.Alert) {
	if err := s.alerter.Send(ctx, a); err != nil {
		s.logger.Warn("alert dispatch failed", "type", a.Type, "tx_id", a.TxID, "error", err)
	}
}

func (s *Service) observe(start time.Time, outcome string) {
	metrics.IngestMessagesTotal.WithLabelValues(outcome).Inc()
	metrics.IngestLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func ruleNames(a model.FraudAssessment) string {
	names := make([]string, 0, len(a.TriggeredRules))
	for _, hit := range a.TriggeredRules {
		names = append(names, hit.Rule)
	}
	return strings.Join(names, ",")
}

func ruleDetail(a model.FraudAssessment, rule string) string {
	for _, hit := range a.TriggeredRules {
		if hit.Rule == rule {
			return hit.Detail
		}
	}
	return ""
}
