package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kigalipay/momoguard/internal/domain/model"
)

// NormalizationError is returned when a matched template carries a required
// field that cannot be parsed. It is surfaced to the caller rather than
// defaulted: a wrong default on a monetary field is unacceptable.
type NormalizationError struct {
	Field string
	Value string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// timestampLayouts are tried in order against extracted timestamp strings.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Normalize coerces extracted fields into a canonical immutable Record.
// receivedAt stamps records whose message carried no parseable timestamp;
// such records are flagged via TimestampFallback for downstream consumers.
func Normalize(f ExtractedFields, receivedAt time.Time) (*model.Record, error) {
	amount, err := parseAmount(f.Fields[FieldAmount])
	if err != nil {
		return nil, &NormalizationError{Field: FieldAmount, Value: f.Fields[FieldAmount], Err: err}
	}

	fee := decimal.Zero
	if v, ok := f.Fields[FieldFee]; ok {
		fee, err = parseAmount(v)
		if err != nil {
			return nil, &NormalizationError{Field: FieldFee, Value: v, Err: err}
		}
	}

	var balance *decimal.Decimal
	if v, ok := f.Fields[FieldBalance]; ok {
		b, err := parseAmount(v)
		if err != nil {
			return nil, &NormalizationError{Field: FieldBalance, Value: v, Err: err}
		}
		balance = &b
	}

	ts, fallback := parseTimestamp(f.Fields[FieldTimestamp], receivedAt)

	txID := f.Fields[FieldTxID]
	if txID == "" {
		// Some legitimate templates (transfers) carry no provider TxId.
		// Derive a deterministic message-scoped identifier so the record
		// still satisfies the unique non-empty key invariant.
		txID = syntheticTxID(f.Raw)
	}

	rec := &model.Record{
		ID:                uuid.New(),
		TxID:              txID,
		Category:          f.Category,
		Amount:            amount,
		Fee:               fee,
		NewBalance:        balance,
		CounterpartyName:  f.Fields[FieldName],
		CounterpartyPhone: NormalizePhone(f.Fields[FieldPhone]),
		CounterpartyCode:  f.Fields[FieldCode],
		AgentName:         f.Fields[FieldAgentName],
		AgentPhone:        NormalizePhone(f.Fields[FieldAgentPhone]),
		Timestamp:         ts,
		TimestampFallback: fallback,
		RawMessage:        f.Raw,
		ExternalReference: f.Fields[FieldExternalRef],
		Token:             f.Fields[FieldToken],
		Residual:          f.Residual,
	}

	if err := rec.Validate(); err != nil {
		return nil, &NormalizationError{Field: "record", Value: txID, Err: err}
	}
	return rec, nil
}

// parseAmount strips thousands separators and spacing, then parses a
// non-negative fixed-point decimal.
func parseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount")
	}
	return d, nil
}

// parseTimestamp tries the known layouts; on failure it falls back to
// receivedAt and reports the fallback.
func parseTimestamp(s string, receivedAt time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s != "" {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, false
			}
		}
	}
	return receivedAt, true
}

// NormalizePhone canonicalizes Rwandan MSISDNs to digit-only 2507XXXXXXXX.
// Malformed or masked numbers are kept as the raw string rather than dropped.
func NormalizePhone(s string) string {
	if s == "" {
		return ""
	}
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case len(d) == 12 && strings.HasPrefix(d, "250"):
		return d
	case len(d) == 10 && strings.HasPrefix(d, "0"):
		return "25" + d
	case len(d) == 9 && strings.HasPrefix(d, "7"):
		return "250" + d
	default:
		// Masked ("***361") or non-subscriber numbers: keep verbatim.
		return s
	}
}

func syntheticTxID(raw string) string {
	sum := sha256.Sum256([]byte(flatten(raw)))
	return "MSG-" + strings.ToUpper(hex.EncodeToString(sum[:6]))
}
