// Package resolver maps user-supplied transaction IDs, including mistyped
// ones, onto stored records. Resolution runs staged: exact match, bounded
// fuzzy match, then a digit-overlap fallback over recent records.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agext/levenshtein"

	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/store"
)

// Config holds the resolution thresholds. Zero values take defaults in New.
type Config struct {
	// FuzzyThreshold is the minimum levenshtein similarity accepted by the
	// fuzzy stage.
	FuzzyThreshold float64
	// TieMargin widens the best fuzzy score into a band; multiple
	// candidates inside the band make the result ambiguous.
	TieMargin float64
	// CandidateWindow bounds how far back the fuzzy stage scans.
	CandidateWindow time.Duration
	// CandidateLimit caps the records scanned per query (0 = no cap).
	CandidateLimit int

	// FallbackWindow and FallbackMinDigits control the digit-overlap
	// stage; FallbackCap bounds its reported confidence.
	FallbackWindow    time.Duration
	FallbackMinDigits int
	FallbackCap       float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:    0.80,
		TieMargin:         0.05,
		CandidateWindow:   48 * time.Hour,
		CandidateLimit:    500,
		FallbackWindow:    24 * time.Hour,
		FallbackMinDigits: 6,
		FallbackCap:       0.60,
	}
}

// Resolver resolves queries against a read-only record view.
type Resolver struct {
	view   store.RecordReadView
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(view store.RecordReadView, cfg Config, logger *slog.Logger) *Resolver {
	def := DefaultConfig()
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = def.FuzzyThreshold
	}
	if cfg.TieMargin <= 0 {
		cfg.TieMargin = def.TieMargin
	}
	if cfg.CandidateWindow <= 0 {
		cfg.CandidateWindow = def.CandidateWindow
	}
	if cfg.CandidateLimit < 0 {
		cfg.CandidateLimit = def.CandidateLimit
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = def.FallbackWindow
	}
	if cfg.FallbackMinDigits <= 0 {
		cfg.FallbackMinDigits = def.FallbackMinDigits
	}
	if cfg.FallbackCap <= 0 {
		cfg.FallbackCap = def.FallbackCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		view:   view,
		cfg:    cfg,
		logger: logger.With("component", "resolver"),
		now:    time.Now,
	}
}

// Resolve runs the staged lookup for query. It returns not_found, never an
// error, for queries that normalize to nothing.
func (r *Resolver) Resolve(ctx context.Context, query string) (model.MatchResult, error) {
	q := NormalizeQuery(query)
	if q == "" {
		return model.MatchResult{Status: model.MatchNotFound}, nil
	}

	// Exact stage is an unconditional store lookup, no window: the raw
	// trimmed query first, then the key shapes the normalized query can
	// denote (a digit run, or an MSG-prefixed digest).
	keys := []string{strings.TrimSpace(query)}
	for _, k := range normalizedKeys(q) {
		if k != keys[0] {
			keys = append(keys, k)
		}
	}
	for _, key := range keys {
		rec, err := r.view.Get(ctx, key)
		if err == nil {
			return model.MatchResult{Status: model.MatchExact, Record: rec, Confidence: 1}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.MatchResult{}, fmt.Errorf("resolver: exact lookup: %w", err)
		}
	}

	now := r.now().UTC()
	candidates, err := r.view.ScanSince(ctx, now.Add(-r.cfg.CandidateWindow), r.cfg.CandidateLimit)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("resolver: candidate scan: %w", err)
	}

	if res, ok := r.fuzzy(q, candidates); ok {
		return res, nil
	}
	if res, ok := r.digitFallback(q, now, candidates); ok {
		return res, nil
	}
	return model.MatchResult{Status: model.MatchNotFound}, nil
}

// normalizedKeys lists the stored tx_id shapes a normalized query can refer
// to. Stored IDs carry no punctuation except the synthetic MSG- prefix, whose
// dash normalization strips.
func normalizedKeys(q string) []string {
	keys := []string{q}
	if rest, ok := strings.CutPrefix(q, "MSG"); ok && rest != "" {
		keys = append(keys, "MSG-"+rest)
	}
	return keys
}

type scored struct {
	rec   model.Record
	score float64
}

// fuzzy ranks candidates by levenshtein similarity. Candidates within
// TieMargin of the best score are tied; more than one tied candidate makes
// the result ambiguous.
func (r *Resolver) fuzzy(q string, candidates []model.Record) (model.MatchResult, bool) {
	ranked := make([]scored, 0, len(candidates))
	for _, cand := range candidates {
		sim := levenshtein.Similarity(q, NormalizeQuery(cand.TxID), nil)
		if sim >= r.cfg.FuzzyThreshold {
			ranked = append(ranked, scored{rec: cand, score: sim})
		}
	}
	if len(ranked) == 0 {
		return model.MatchResult{}, false
	}

	// Candidates arrive newest first; the stable sort preserves recency
	// order inside equal scores, keeping results input-order independent.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	best := ranked[0]
	tied := []model.Record{best.rec}
	for _, s := range ranked[1:] {
		if best.score-s.score <= r.cfg.TieMargin {
			tied = append(tied, s.rec)
		}
	}
	if len(tied) > 1 {
		r.logger.Debug("ambiguous fuzzy match", "query", q, "candidates", len(tied))
		return model.MatchResult{
			Status:     model.MatchAmbiguous,
			Candidates: tied,
			Confidence: best.score,
		}, true
	}
	return model.MatchResult{
		Status:     model.MatchFuzzy,
		Record:     &best.rec,
		Confidence: best.score,
	}, true
}

// digitFallback matches on the longest shared digit run against records from
// the last FallbackWindow. Confidence is proportional to the overlap and
// capped well below the fuzzy stage.
func (r *Resolver) digitFallback(q string, now time.Time, candidates []model.Record) (model.MatchResult, bool) {
	qDigits := digitsOf(q)
	if len(qDigits) < r.cfg.FallbackMinDigits {
		return model.MatchResult{}, false
	}
	cutoff := now.Add(-r.cfg.FallbackWindow)

	var best *model.Record
	bestOverlap := 0
	for i := range candidates {
		cand := &candidates[i]
		if cand.Timestamp.Before(cutoff) {
			continue
		}
		overlap := longestCommonRun(qDigits, digitsOf(cand.TxID))
		if overlap < r.cfg.FallbackMinDigits {
			continue
		}
		// Newest-first input: strict greater keeps the most recent of
		// equal overlaps.
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = cand
		}
	}
	if best == nil {
		return model.MatchResult{}, false
	}

	conf := float64(bestOverlap) / float64(len(qDigits))
	if conf > r.cfg.FallbackCap {
		conf = r.cfg.FallbackCap
	}
	rec := *best
	return model.MatchResult{Status: model.MatchFuzzy, Record: &rec, Confidence: conf}, true
}

// NormalizeQuery canonicalizes a user-supplied transaction ID: label prefixes
// stripped, case folded, non-alphanumerics dropped.
func NormalizeQuery(query string) string {
	s := strings.TrimSpace(query)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"txid:", "txid", "tx id:", "transaction id:", "id:"} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	return b.String()
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// longestCommonRun returns the length of the longest common substring of a
// and b. Inputs are short ID strings, so the quadratic table is fine.
func longestCommonRun(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}
