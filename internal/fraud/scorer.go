// Package fraud scores parsed transaction records against behavioral rules.
// Rules run in a fixed order, each contributing a fixed weight; the final
// score is the clamped sum. The scorer never writes to the store.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/store"
)

// Rule names as persisted in fraud alerts.
const (
	RuleDuplicateTxID        = "duplicate_txid"
	RuleAmountAnomaly        = "amount_anomaly"
	RuleRapidSuccession      = "rapid_succession"
	RuleBalanceInconsistency = "balance_inconsistency"
	RuleMessageTamper        = "message_tamper"
)

// Per-rule score contributions.
const (
	weightDuplicateTxID        = 0.60
	weightAmountAnomaly        = 0.30
	weightRapidSuccession      = 0.30
	weightBalanceInconsistency = 0.45
	weightMessageTamper        = 0.15
)

// Config holds the rule thresholds. Zero values are replaced by defaults in
// New, so callers can override selectively.
type Config struct {
	// HistoryWindow bounds the counterparty history consulted by the
	// amount-anomaly rule.
	HistoryWindow time.Duration
	// MinHistory is the number of prior counterparty records required
	// before the amount-anomaly multiplier check applies.
	MinHistory int
	// AnomalyMultiplier flags amounts exceeding this multiple of the
	// counterparty mean.
	AnomalyMultiplier float64
	// AmountCeiling flags any amount at or above this value regardless of
	// history.
	AmountCeiling decimal.Decimal

	// RapidWindow and RapidThreshold flag RapidThreshold-or-more prior
	// records to the same counterparty within RapidWindow.
	RapidWindow    time.Duration
	RapidThreshold int

	// BalanceWindow bounds the lookback for the previous balance-bearing
	// record; BalanceTolerance is the absolute mismatch tolerated.
	BalanceWindow    time.Duration
	BalanceTolerance decimal.Decimal

	// TamperResidualLen is the unmatched-text length on a matched template
	// that counts as a structural tamper signal. Genuine carrier messages
	// carry promotional tails well under this.
	TamperResidualLen int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:     30 * 24 * time.Hour,
		MinHistory:        1,
		AnomalyMultiplier: 10.0,
		AmountCeiling:     decimal.NewFromInt(1_000_000),
		RapidWindow:       10 * time.Minute,
		RapidThreshold:    1,
		BalanceWindow:     24 * time.Hour,
		BalanceTolerance:  decimal.NewFromInt(1),
		TamperResidualLen: 120,
	}
}

// Scorer evaluates records against the rule set.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Scorer {
	def := DefaultConfig()
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.AnomalyMultiplier <= 0 {
		cfg.AnomalyMultiplier = def.AnomalyMultiplier
	}
	if cfg.AmountCeiling.IsZero() {
		cfg.AmountCeiling = def.AmountCeiling
	}
	if cfg.RapidWindow <= 0 {
		cfg.RapidWindow = def.RapidWindow
	}
	if cfg.RapidThreshold <= 0 {
		cfg.RapidThreshold = def.RapidThreshold
	}
	if cfg.BalanceWindow <= 0 {
		cfg.BalanceWindow = def.BalanceWindow
	}
	if cfg.BalanceTolerance.IsZero() {
		cfg.BalanceTolerance = def.BalanceTolerance
	}
	if cfg.TamperResidualLen <= 0 {
		cfg.TamperResidualLen = def.TamperResidualLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, logger: logger.With("component", "fraud")}
}

// Assess runs every rule against rec and returns the aggregate assessment.
// A record with no history scores zero on the history rules; store read
// failures are returned to the caller.
func (s *Scorer) Assess(ctx context.Context, rec *model.Record, view store.RecordReadView) (model.FraudAssessment, error) {
	var out model.FraudAssessment

	rules := []func(context.Context, *model.Record, store.RecordReadView) (*model.RuleHit, error){
		s.duplicateTxID,
		s.amountAnomaly,
		s.rapidSuccession,
		s.balanceInconsistency,
		s.messageTamper,
	}
	for _, rule := range rules {
		hit, err := rule(ctx, rec, view)
		if err != nil {
			return model.FraudAssessment{}, err
		}
		if hit != nil {
			out.TriggeredRules = append(out.TriggeredRules, *hit)
			out.RiskScore += hit.Contribution
		}
	}

	if out.RiskScore > 1 {
		out.RiskScore = 1
	}
	out.Level = model.LevelFromScore(out.RiskScore)

	if len(out.TriggeredRules) > 0 {
		s.logger.Debug("rules triggered",
			"tx_id", rec.TxID,
			"score", out.RiskScore,
			"level", out.Level.String(),
			"rules", len(out.TriggeredRules))
	}
	return out, nil
}

// duplicateTxID fires when the store already holds a record with this tx_id
// built from a different raw message. A byte-identical raw is a carrier
// redelivery, not fraud.
func (s *Scorer) duplicateTxID(ctx context.Context, rec *model.Record, view store.RecordReadView) (*model.RuleHit, error) {
	existing, err := view.Get(ctx, rec.TxID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fraud: duplicate lookup: %w", err)
	}
	if existing.RawMessage == rec.RawMessage {
		return nil, nil
	}
	return &model.RuleHit{
		Rule:         RuleDuplicateTxID,
		Contribution: weightDuplicateTxID,
		Detail:       fmt.Sprintf("tx_id %s already recorded with different message text", rec.TxID),
	}, nil
}

// amountAnomaly fires when the amount dwarfs the counterparty's recent mean,
// or exceeds the absolute ceiling outright.
func (s *Scorer) amountAnomaly(ctx context.Context, rec *model.Record, view store.RecordReadView) (*model.RuleHit, error) {
	if rec.Amount.GreaterThanOrEqual(s.cfg.AmountCeiling) {
		return &model.RuleHit{
			Rule:         RuleAmountAnomaly,
			Contribution: weightAmountAnomaly,
			Detail:       fmt.Sprintf("amount %s at or above ceiling %s", rec.Amount, s.cfg.AmountCeiling),
		}, nil
	}

	key := rec.CounterpartyKey()
	if key == "" {
		return nil, nil
	}
	history, err := view.ScanCounterparty(ctx, key, rec.Timestamp.Add(-s.cfg.HistoryWindow))
	if err != nil {
		return nil, fmt.Errorf("fraud: counterparty history: %w", err)
	}

	sum := decimal.Zero
	n := 0
	for _, prev := range history {
		if prev.TxID == rec.TxID || prev.Timestamp.After(rec.Timestamp) {
			continue
		}
		sum = sum.Add(prev.Amount)
		n++
	}
	if n < s.cfg.MinHistory {
		return nil, nil
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	limit := mean.Mul(decimal.NewFromFloat(s.cfg.AnomalyMultiplier))
	if rec.Amount.LessThanOrEqual(limit) || mean.IsZero() {
		return nil, nil
	}
	return &model.RuleHit{
		Rule:         RuleAmountAnomaly,
		Contribution: weightAmountAnomaly,
		Detail:       fmt.Sprintf("amount %s exceeds %.0fx counterparty mean %s over %d records", rec.Amount, s.cfg.AnomalyMultiplier, mean, n),
	}, nil
}

// rapidSuccession fires when the counterparty saw RapidThreshold or more
// records inside RapidWindow before this one.
func (s *Scorer) rapidSuccession(ctx context.Context, rec *model.Record, view store.RecordReadView) (*model.RuleHit, error) {
	key := rec.CounterpartyKey()
	if key == "" {
		return nil, nil
	}
	recent, err := view.ScanCounterparty(ctx, key, rec.Timestamp.Add(-s.cfg.RapidWindow))
	if err != nil {
		return nil, fmt.Errorf("fraud: rapid succession scan: %w", err)
	}

	n := 0
	for _, prev := range recent {
		if prev.TxID == rec.TxID || prev.Timestamp.After(rec.Timestamp) {
			continue
		}
		n++
	}
	if n < s.cfg.RapidThreshold {
		return nil, nil
	}
	return &model.RuleHit{
		Rule:         RuleRapidSuccession,
		Contribution: weightRapidSuccession,
		Detail:       fmt.Sprintf("%d records to %s within %s", n, key, s.cfg.RapidWindow),
	}, nil
}

// balanceInconsistency compares the reported new balance against the previous
// balance-bearing record adjusted by this record's flow. Interleaved activity
// on other channels makes this a heuristic, hence the tolerance.
func (s *Scorer) balanceInconsistency(ctx context.Context, rec *model.Record, view store.RecordReadView) (*model.RuleHit, error) {
	if rec.NewBalance == nil {
		return nil, nil
	}
	window, err := view.ScanSince(ctx, rec.Timestamp.Add(-s.cfg.BalanceWindow), 0)
	if err != nil {
		return nil, fmt.Errorf("fraud: balance scan: %w", err)
	}

	// Newest-first scan: the first balance-bearing record strictly older
	// than rec is the comparison point.
	var prev *model.Record
	for i := range window {
		cand := &window[i]
		if cand.TxID == rec.TxID || cand.NewBalance == nil || !cand.Timestamp.Before(rec.Timestamp) {
			continue
		}
		prev = cand
		break
	}
	if prev == nil {
		return nil, nil
	}

	delta := rec.Amount.Add(rec.Fee)
	expected := prev.NewBalance.Add(delta)
	if rec.Outgoing() {
		expected = prev.NewBalance.Sub(delta)
	}
	diff := rec.NewBalance.Sub(expected).Abs()
	if diff.LessThanOrEqual(s.cfg.BalanceTolerance) {
		return nil, nil
	}
	return &model.RuleHit{
		Rule:         RuleBalanceInconsistency,
		Contribution: weightBalanceInconsistency,
		Detail:       fmt.Sprintf("balance %s, expected %s from previous %s (diff %s)", rec.NewBalance, expected, prev.NewBalance, diff),
	}, nil
}

var (
	// Letters masquerading as digits inside a numeric run, the classic
	// manual edit of a forwarded message.
	homoglyphRun = regexp.MustCompile(`\d[OolI]{1,3}\d`)
	// Zero-width and bidi control characters never occur in carrier SMS.
	controlChars = regexp.MustCompile("[\u200b-\u200f\u202a-\u202e\ufeff]")
)

// messageTamper inspects the raw text for edit artifacts: invisible
// characters, homoglyphs in numeric runs, and text spliced around the
// matched template.
func (s *Scorer) messageTamper(_ context.Context, rec *model.Record, _ store.RecordReadView) (*model.RuleHit, error) {
	var detail string
	switch {
	case controlChars.MatchString(rec.RawMessage):
		detail = "invisible control characters in message body"
	case homoglyphRun.MatchString(rec.RawMessage):
		detail = "letter/digit homoglyphs inside a numeric run"
	case rec.Residual >= s.cfg.TamperResidualLen:
		detail = fmt.Sprintf("%d characters outside the matched template span", rec.Residual)
	default:
		return nil, nil
	}
	return &model.RuleHit{
		Rule:         RuleMessageTamper,
		Contribution: weightMessageTamper,
		Detail:       detail,
	}, nil
}
