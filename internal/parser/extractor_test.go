package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kigalipay/momoguard/internal/domain/model"
)

const (
	samplePaymentOut  = "TxId: 22004556853. Your payment of 1,100 RWF to Assia Itangishaka 047700 has been completed at 2025-07-30 19:49:59. Your new balance: 641 RWF. Fee was 0 RWF."
	samplePaymentIn   = "You have received 150000 RWF from Alphonsine NYIRANZAKIZWANAYO (***361) on your mobile money account at 2025-08-07 10:04:31. Message from sender: . Your new balance:150041 RWF. Financial Transaction Id: 22147479754."
	sampleTransferOut = "*165*S*100 RWF transferred to Jeannette MUKARUSINE (250788953573) from 27827750 at 2025-07-30 16:30:40 . Fee was: 20 RWF. New balance: 1741 RWF. Kugura ama inite cg interineti kuri MoMo, Kanda *182*2*1# .*EN#"
	sampleTransferIn  = "*165*R*5000 RWF transferred to you from Aline UWASE (250788123456) at 2025-08-02 09:30:00. New balance: 15000 RWF."
	sampleWithdrawal  = "You Jean Bosco HABIMANA (*778*) have via agent: Agent Claudine (250790123456), withdrawn 20000 RWF from your mobile money account: 36521870 at 2025-08-01 10:15:00 and you can now collect your money in cash. Your new balance: 4500 RWF. Fee paid: 100 RWF. Message from agent: . Financial Transaction Id: 22099887766."
	sampleAirtime     = "*162*TxId:22046418814*S*Your payment of 2,000 RWF to Airtime with token  and External Transaction Id: 22046418814 has been completed at 2025-07-31 12:00:00. Fee was 0 RWF. Your new balance: 8000 RWF . Message: - *EN#"
	sampleElectricity = "*162*TxId:22151988166*S*Your payment of 20000 RWF to MTN Cash Power with token 10988-19437-05970-52010 and External Transaction Id: 10988-19437-05970-52010 a1bde4d7-ff2f-3548-8580-3d85b9cb0351 has been completed at 2025-08-07 14:08:02. Fee was 0 RWF. Your new balance: 153041 RWF . Message: - Electricity units: 82.7kwH.. *EN#"
)

func TestExtractByCategory(t *testing.T) {
	t.Parallel()

	e := NewExtractor()

	tests := []struct {
		name     string
		raw      string
		category model.Category
		fields   map[string]string
	}{
		{
			name:     "payment out with merchant code",
			raw:      samplePaymentOut,
			category: model.CategoryPaymentOut,
			fields: map[string]string{
				FieldTxID:      "22004556853",
				FieldAmount:    "1,100",
				FieldName:      "Assia Itangishaka",
				FieldCode:      "047700",
				FieldTimestamp: "2025-07-30 19:49:59",
				FieldBalance:   "641",
				FieldFee:       "0",
			},
		},
		{
			name:     "payment in with masked sender",
			raw:      samplePaymentIn,
			category: model.CategoryPaymentIn,
			fields: map[string]string{
				FieldTxID:   "22147479754",
				FieldAmount: "150000",
				FieldName:   "Alphonsine NYIRANZAKIZWANAYO",
				FieldPhone:  "***361",
			},
		},
		{
			name:     "transfer out",
			raw:      sampleTransferOut,
			category: model.CategoryTransferOut,
			fields: map[string]string{
				FieldAmount:  "100",
				FieldName:    "Jeannette MUKARUSINE",
				FieldPhone:   "250788953573",
				FieldFee:     "20",
				FieldBalance: "1741",
			},
		},
		{
			name:     "transfer in",
			raw:      sampleTransferIn,
			category: model.CategoryTransferIn,
			fields: map[string]string{
				FieldAmount: "5000",
				FieldName:   "Aline UWASE",
				FieldPhone:  "250788123456",
			},
		},
		{
			name:     "withdrawal via agent",
			raw:      sampleWithdrawal,
			category: model.CategoryWithdrawal,
			fields: map[string]string{
				FieldTxID:       "22099887766",
				FieldAmount:     "20000",
				FieldName:       "Jean Bosco HABIMANA",
				FieldAgentName:  "Agent Claudine",
				FieldAgentPhone: "250790123456",
				FieldFee:        "100",
			},
		},
		{
			name:     "airtime with empty token",
			raw:      sampleAirtime,
			category: model.CategoryAirtime,
			fields: map[string]string{
				FieldTxID:        "22046418814",
				FieldAmount:      "2,000",
				FieldName:        "Airtime",
				FieldExternalRef: "22046418814",
			},
		},
		{
			name:     "electricity with token",
			raw:      sampleElectricity,
			category: model.CategoryElectricity,
			fields: map[string]string{
				FieldTxID:   "22151988166",
				FieldAmount: "20000",
				FieldName:   "MTN Cash Power",
				FieldToken:  "10988-19437-05970-52010",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Extract(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.category, got.Category)
			for k, want := range tc.fields {
				assert.Equal(t, want, got.Fields[k], "field %s", k)
			}
		})
	}
}

func TestExtractNoTemplateMatched(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	_, err := e.Extract("Welcome to MTN MoMo. Dial *182# to get started.")
	require.Error(t, err)

	var ef *ExtractionFailure
	require.True(t, errors.As(err, &ef))
	assert.Contains(t, ef.Raw, "Welcome to MTN MoMo")
}

func TestExtractToleratesLineBreaks(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	wrapped := "TxId: 22004556853.\nYour payment of 1,100 RWF to Assia Itangishaka 047700 has been completed at\n2025-07-30 19:49:59. Your new balance: 641 RWF. Fee was 0 RWF."

	got, err := e.Extract(wrapped)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryPaymentOut, got.Category)
	assert.Equal(t, "22004556853", got.Fields[FieldTxID])
}

func TestExtractDeterministic(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	first, err := e.Extract(sampleElectricity)
	require.NoError(t, err)
	second, err := e.Extract(sampleElectricity)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractResidualOnCleanMessage(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	got, err := e.Extract(samplePaymentOut)
	require.NoError(t, err)
	// The whole message is template text; only trailing punctuation may remain.
	assert.Less(t, got.Residual, 10)
}

func TestScanTxIDHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want string
	}{
		{"Financial Transaction Id: 22147479754.", "22147479754"},
		{"*162*TxId:22151988166*S*", "22151988166"},
		{"TxId: 22004556853.", "22004556853"},
		{"no identifier here", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, scanTxIDHint(tc.msg), tc.msg)
	}
}
