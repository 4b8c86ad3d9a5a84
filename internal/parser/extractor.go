package parser

import (
	"regexp"
	"strings"

	"github.com/kigalipay/momoguard/internal/domain/model"
)

// ExtractedFields is the raw result of matching a message against the
// template catalog, before normalization.
type ExtractedFields struct {
	Category model.Category
	Fields   map[string]string
	// Residual counts characters of the message that fall outside the matched
	// span. Legitimate messages carry short promotional tails; a large
	// residual on a matched template is a tamper signal.
	Residual int
	Raw      string
}

// ExtractionFailure is returned when no template matches. It is an expected
// outcome, logged with the raw text for future template authoring.
type ExtractionFailure struct {
	Raw string
}

func (e *ExtractionFailure) Error() string {
	return "sms parser: no template matched"
}

// txidHints are secondary identifier patterns scanned when a matched template
// carries no TxId group of its own (e.g. transfer notifications).
var txidHints = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\*162\*TxId:\s*(\d+)`),
	regexp.MustCompile(`(?i)Financial Transaction Id:\s*(\d+)`),
	regexp.MustCompile(`(?i)External Transaction Id:\s*(\d+)`),
	regexp.MustCompile(`(?i)Transaction Id:\s*(\d+)`),
	regexp.MustCompile(`(?i)TxId:\s*(\d+)`),
}

// Extractor matches raw SMS text against an ordered template catalog.
// It is a pure function of its input plus the static catalog and is safe for
// concurrent use.
type Extractor struct {
	catalog []TemplateDef
}

// NewExtractor returns an extractor over the built-in catalog.
func NewExtractor() *Extractor {
	return &Extractor{catalog: DefaultCatalog()}
}

// NewExtractorWithCatalog returns an extractor over a caller-supplied catalog,
// tried in the given order.
func NewExtractorWithCatalog(defs []TemplateDef) *Extractor {
	return &Extractor{catalog: defs}
}

// Extract matches raw against the catalog in priority order and returns the
// fields of the first matching template. Returns *ExtractionFailure when no
// template matches.
func (e *Extractor) Extract(raw string) (ExtractedFields, error) {
	msg := flatten(raw)

	for _, def := range e.catalog {
		for _, re := range def.Patterns {
			loc := re.FindStringSubmatchIndex(msg)
			if loc == nil {
				continue
			}

			fields := make(map[string]string)
			for i, name := range re.SubexpNames() {
				if name == "" || loc[2*i] < 0 {
					continue
				}
				v := strings.TrimSpace(msg[loc[2*i]:loc[2*i+1]])
				if v != "" {
					fields[name] = v
				}
			}

			if _, ok := fields[FieldTxID]; !ok {
				if hint := scanTxIDHint(msg); hint != "" {
					fields[FieldTxID] = hint
				}
			}

			return ExtractedFields{
				Category: def.Category,
				Fields:   fields,
				Residual: len(msg) - (loc[1] - loc[0]),
				Raw:      raw,
			}, nil
		}
	}

	return ExtractedFields{}, &ExtractionFailure{Raw: raw}
}

// scanTxIDHint returns the first secondary transaction identifier found in the
// message, or empty.
func scanTxIDHint(msg string) string {
	for _, re := range txidHints {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1]
		}
	}
	return ""
}

// flatten collapses line breaks so multi-line forwarded messages match
// single-line patterns.
func flatten(raw string) string {
	msg := strings.ReplaceAll(raw, "\r", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return strings.TrimSpace(msg)
}
