package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kigalipay/momoguard/internal/domain/model"
)

func TestDefaultCatalogOrdering(t *testing.T) {
	t.Parallel()

	defs := DefaultCatalog()
	require.NotEmpty(t, defs)

	// Specific *162* templates must precede the generic payment templates,
	// since "Your payment of X RWF" appears in several families.
	var order []model.Category
	for _, d := range defs {
		order = append(order, d.Category)
		assert.NotEmpty(t, d.Patterns, d.Category)
	}
	idx := func(c model.Category) int {
		for i, v := range order {
			if v == c {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx(model.CategoryElectricity), idx(model.CategoryPaymentOut))
	assert.Less(t, idx(model.CategoryAirtime), idx(model.CategoryPaymentOut))
	assert.Less(t, idx(model.CategoryTransferOut), idx(model.CategoryPaymentOut))
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	src := `
- category: payment_out
  patterns:
    - 'TxId:\s*(?P<txid>\d+)\.\s*Your payment of\s*(?P<amount>[\d,]+)\s*RWF'
- category: airtime
  patterns:
    - '\*162\*TxId:(?P<txid>\d+)\*S\*'
`
	defs, err := LoadCatalog(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, model.CategoryPaymentOut, defs[0].Category)
	assert.Equal(t, model.CategoryAirtime, defs[1].Category)

	e := NewExtractorWithCatalog(defs)
	got, err := e.Extract("TxId: 999. Your payment of 1,000 RWF to X")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryPaymentOut, got.Category)
	assert.Equal(t, "999", got.Fields[FieldTxID])
}

func TestLoadCatalogRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{"unknown category", "- category: cheque\n  patterns: ['abc']\n"},
		{"no patterns", "- category: payment_out\n  patterns: []\n"},
		{"bad regexp", "- category: payment_out\n  patterns: ['(']\n"},
		{"empty file", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadCatalog(strings.NewReader(tc.src))
			assert.Error(t, err)
		})
	}
}
