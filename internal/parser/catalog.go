package parser

import (
	"fmt"
	"io"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/kigalipay/momoguard/internal/domain/model"
)

// Field names used by template capture groups. The field-map of a template is
// carried by the named groups of its patterns, so the catalog stays pure data.
const (
	FieldTxID        = "txid"
	FieldAmount      = "amount"
	FieldFee         = "fee"
	FieldBalance     = "balance"
	FieldName        = "name"
	FieldPhone       = "phone"
	FieldCode        = "code"
	FieldAgentName   = "agent_name"
	FieldAgentPhone  = "agent_phone"
	FieldTimestamp   = "ts"
	FieldToken       = "token"
	FieldExternalRef = "extref"
)

// TemplateDef pairs a category with its alternative message patterns.
// Patterns are tried in order; within the catalog, definitions are tried in
// priority order with the most specific template family first.
type TemplateDef struct {
	Category model.Category
	Patterns []*regexp.Regexp
}

const tsPat = `(?P<ts>\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}(?::\d{2})?)`

// DefaultCatalog returns the built-in template catalog, ordered most specific
// first. Template families overlap lexically ("payment of X RWF" appears in
// several), so first-match-wins ordering keeps extraction deterministic.
func DefaultCatalog() []TemplateDef {
	return []TemplateDef{
		{
			Category: model.CategoryElectricity,
			Patterns: compile(
				`(?is)\*162\*TxId:\s*(?P<txid>\d+)\*S\*\s*Your payment of\s*(?P<amount>[\d,]+)\s*RWF to\s*(?P<name>.+?)\s+with token\s*(?P<token>[\d-]+)\s*and External Transaction Id:\s*(?P<extref>\S+(?:\s+\S+)?)\s+has been completed at\s*`+tsPat+`\s*\.\s*Fee was\s*(?P<fee>[\d,]+)\s*RWF\.\s*Your new balance:\s*(?P<balance>[\d,]+)\s*RWF\s*\.?\s*Message:\s*-?\s*Electricity units:\s*[\d.]+\s*kwH`,
			),
		},
		{
			Category: model.CategoryAirtime,
			Patterns: compile(
				`(?is)\*162\*TxId:\s*(?P<txid>\d+)\*S\*\s*Your payment of\s*(?P<amount>[\d,]+)\s*RWF to\s*(?P<name>Bundles and Packs|Airtime)\s*(?:with token\s*(?P<token>\S*)\s*)?and External Transaction Id:\s*(?P<extref>\d+)\s+has been completed at\s*`+tsPat+`\s*\.\s*Fee was\s*(?P<fee>[\d,]+)\s*RWF\.\s*Your new balance:\s*(?P<balance>[\d,]+)\s*RWF`,
				`(?is)TxId:\s*(?P<txid>\d+)\*S\*\s*Your payment of\s*(?P<amount>[\d,]+)\s*RWF to\s*(?P<name>Bundles and Packs|Airtime)\s*(?:with token\s*(?P<token>\S*)\s*)?and External Transaction Id:\s*(?P<extref>\d+)\s+has been completed at\s*`+tsPat,
			),
		},
		{
			Category: model.CategoryWithdrawal,
			Patterns: compile(
				`(?is)You\s+(?P<name>[^(]+?)\s*\([^)]*\)\s*have via agent:\s*(?P<agent_name>[^(]+?)\s*\((?P<agent_phone>\d+)\),\s*withdrawn\s*(?P<amount>[\d,]+)\s*RWF from your mobile money account:?\s*(?P<phone>\d+)\s*at\s*`+tsPat+`\s*and you can now collect your money in cash\.\s*Your new balance:\s*(?P<balance>[\d,]+)\s*RWF\.\s*Fee paid:\s*(?P<fee>[\d,]+)\s*RWF\..*?Financial Transaction Id:\s*(?P<txid>\d+)`,
			),
		},
		{
			Category: model.CategoryTransferOut,
			Patterns: compile(
				`(?is)(?:\*165\*S\*)?(?P<amount>[\d,]+)\s*RWF transferred to\s*(?P<name>[^(]+?)\s*\((?P<phone>\d+)\)\s*from\s*\d+\s*at\s*`+tsPat+`\s*\.?\s*Fee was:?\s*(?P<fee>[\d,]+)\s*RWF\.\s*New balance:\s*(?P<balance>[\d,]+)\s*RWF`,
			),
		},
		{
			Category: model.CategoryTransferIn,
			Patterns: compile(
				`(?is)(?:\*165\*R\*)?(?P<amount>[\d,]+)\s*RWF transferred to you from\s*(?P<name>[^(]+?)\s*\((?P<phone>\d+)\)\s*at\s*`+tsPat+`\s*\.?\s*New balance:\s*(?P<balance>[\d,]+)\s*RWF(?:.*?Financial Transaction Id:\s*(?P<txid>\d+))?`,
			),
		},
		{
			Category: model.CategoryPaymentOut,
			Patterns: compile(
				`(?is)TxId:\s*(?P<txid>\d+)\.\s*Your payment of\s*(?P<amount>[\d,]+)\s*RWF to\s*(?P<name>.+?)\s+(?P<code>\d{4,})\s+has been completed at\s*`+tsPat+`\s*\.\s*Your new balance:\s*(?P<balance>[\d,]+)\s*RWF\.\s*Fee was\s*(?P<fee>[\d,]+)\s*RWF`,
				`(?is)TxId:\s*(?P<txid>\d+)\.\s*Your payment of\s*(?P<amount>[\d,]+)\s*RWF to\s*(?P<name>.+?)\s+has been completed at\s*`+tsPat+`\s*\.\s*Your new balance:\s*(?P<balance>[\d,]+)\s*RWF\.\s*Fee was\s*(?P<fee>[\d,]+)\s*RWF`,
			),
		},
		{
			Category: model.CategoryPaymentIn,
			Patterns: compile(
				`(?is)You have received\s*(?P<amount>[\d,]+)\s*RWF from\s*(?P<name>.+?)\s*\((?P<phone>[^)]*)\)\s*on your mobile money account at\s*`+tsPat+`\s*\.\s*Message from sender:\s*[^.]*\.\s*Your new balance:\s*(?P<balance>[\d,]+)\s*RWF\.\s*Financial Transaction Id:\s*(?P<txid>\d+)`,
			),
		},
	}
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// catalogFile is the YAML shape of an external template catalog.
type catalogFile []struct {
	Category string   `yaml:"category"`
	Patterns []string `yaml:"patterns"`
}

// LoadCatalog reads a template catalog from YAML. Entry order in the file is
// the priority order used at extraction time. Adding a transaction category is
// a data addition, not a code change.
func LoadCatalog(r io.Reader) ([]TemplateDef, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(file) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	defs := make([]TemplateDef, 0, len(file))
	for i, entry := range file {
		cat := model.Category(entry.Category)
		if !cat.Valid() {
			return nil, fmt.Errorf("catalog entry %d: unknown category %q", i, entry.Category)
		}
		if len(entry.Patterns) == 0 {
			return nil, fmt.Errorf("catalog entry %d (%s): no patterns", i, entry.Category)
		}
		def := TemplateDef{Category: cat}
		for _, p := range entry.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("catalog entry %d (%s): compile pattern: %w", i, entry.Category, err)
			}
			def.Patterns = append(def.Patterns, re)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
