package main

import (
	"fmt"

	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Expectation is the golden outcome for one corpus message.
type Expectation struct {
	TxID     string `json:"tx_id"`
	Category string `json:"category"`
	Amount   string `json:"amount"`
	Fee      string `json:"fee,omitempty"`
}

// CorpusEntry is one line of the replay corpus.
type CorpusEntry struct {
	Message  string       `json:"message"`
	Expected *Expectation `json:"expected,omitempty"`
}

// Divergence records a field-level mismatch between a parsed record and its
// expectation.
type Divergence struct {
	TxID  string `json:"tx_id"`
	Field string `json:"field"`
	Got   string `json:"got"`
	Want  string `json:"want"`
}

// CompareResult summarizes one replay run.
type CompareResult struct {
	Matching   int          `json:"matching"`
	ParseFails []string     `json:"parse_fails,omitempty"`
	Divergent  []Divergence `json:"divergent,omitempty"`
}

// HasMismatch reports whether the run found any failure or divergence.
func (r *CompareResult) HasMismatch() bool {
	return len(r.ParseFails) > 0 || len(r.Divergent) > 0
}

// compareRecord checks a parsed record against its expectation and appends
// any field mismatches to the result.
func compareRecord(res *CompareResult, rec *model.Record, want *Expectation) {
	if want == nil {
		res.Matching++
		return
	}

	diverged := false
	check := func(field, got, expected string) {
		if expected != "" && got != expected {
			diverged = true
			res.Divergent = append(res.Divergent, Divergence{
				TxID:  rec.TxID,
				Field: field,
				Got:   got,
				Want:  expected,
			})
		}
	}

	check("tx_id", rec.TxID, want.TxID)
	check("category", string(rec.Category), want.Category)
	check("amount", rec.Amount.String(), canonicalDecimal(want.Amount))
	check("fee", rec.Fee.String(), canonicalDecimal(want.Fee))

	if !diverged {
		res.Matching++
	}
}

// canonicalDecimal renders an expected decimal the way decimal.String does,
// so "100.00" and "100" compare equal. Unparseable input passes through and
// will surface as a divergence.
func canonicalDecimal(s string) string {
	if s == "" {
		return ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.String()
}

func summarize(res *CompareResult) string {
	return fmt.Sprintf("matching=%d parse_fails=%d divergent=%d",
		res.Matching, len(res.ParseFails), len(res.Divergent))
}
