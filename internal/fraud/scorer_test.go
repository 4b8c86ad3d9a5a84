package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/store/memory"
)

func record(txID string, amount int64, ts time.Time, phone string) *model.Record {
	return &model.Record{
		TxID:              txID,
		Category:          model.CategoryPaymentOut,
		Amount:            decimal.NewFromInt(amount),
		Timestamp:         ts,
		CounterpartyPhone: phone,
		RawMessage:        "TxId: " + txID + ". Your payment of X RWF to Y.",
	}
}

func balancePtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestAssessEmptyHistory(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil)
	rec := record("100", 5000, time.Now().UTC(), "250788000001")

	got, err := s.Assess(context.Background(), rec, memory.New())
	require.NoError(t, err)
	assert.Zero(t, got.RiskScore)
	assert.Equal(t, model.RiskSafe, got.Level)
	assert.Empty(t, got.TriggeredRules)
}

func TestDuplicateTxID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	ts := time.Now().UTC()

	orig := record("200", 1000, ts, "250788000001")
	require.NoError(t, st.InsertIfAbsent(ctx, orig))

	s := New(Config{}, nil)

	// Same tx_id, different message text.
	dup := record("200", 9000, ts.Add(time.Hour), "250788000002")
	dup.RawMessage = "TxId: 200. Your payment of 9,000 RWF to Z."
	got, err := s.Assess(ctx, dup, st)
	require.NoError(t, err)
	assert.True(t, got.Triggered(RuleDuplicateTxID))
	assert.InDelta(t, 0.60, got.RiskScore, 1e-9)
	assert.Equal(t, model.RiskMedium, got.Level)

	// Byte-identical redelivery does not fire.
	replay := record("200", 1000, ts, "250788000001")
	got, err = s.Assess(ctx, replay, st)
	require.NoError(t, err)
	assert.False(t, got.Triggered(RuleDuplicateTxID))
}

func TestAmountAnomalyAgainstHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	base := time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC)
	const phone = "250788000001"

	for i, amt := range []int64{1000, 1200, 800} {
		rec := record(string(rune('a'+i))+"-hist", amt, base.Add(time.Duration(i)*24*time.Hour), phone)
		require.NoError(t, st.InsertIfAbsent(ctx, rec))
	}

	s := New(Config{}, nil)

	// 50,000 against a ~1,000 mean fires.
	spike := record("spike", 50_000, base.Add(5*24*time.Hour), phone)
	got, err := s.Assess(ctx, spike, st)
	require.NoError(t, err)
	assert.True(t, got.Triggered(RuleAmountAnomaly))

	// 3,000 stays under the 10x multiplier.
	normal := record("normal", 3000, base.Add(5*24*time.Hour), phone)
	got, err = s.Assess(ctx, normal, st)
	require.NoError(t, err)
	assert.False(t, got.Triggered(RuleAmountAnomaly))
}

func TestAmountAnomalyCeiling(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil)
	rec := record("big", 2_000_000, time.Now().UTC(), "250788000001")

	got, err := s.Assess(context.Background(), rec, memory.New())
	require.NoError(t, err)
	assert.True(t, got.Triggered(RuleAmountAnomaly))
}

func TestRapidSuccession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	base := time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC)
	const phone = "250788000009"

	for i := 0; i < 3; i++ {
		rec := record(string(rune('p'+i))+"-burst", 1000, base.Add(time.Duration(i)*time.Minute), phone)
		require.NoError(t, st.InsertIfAbsent(ctx, rec))
	}

	s := New(Config{}, nil)
	next := record("burst-4", 1000, base.Add(4*time.Minute), phone)
	got, err := s.Assess(ctx, next, st)
	require.NoError(t, err)
	assert.True(t, got.Triggered(RuleRapidSuccession))

	// Same burst an hour later is outside the window.
	later := record("later", 1000, base.Add(2*time.Hour), phone)
	got, err = s.Assess(ctx, later, st)
	require.NoError(t, err)
	assert.False(t, got.Triggered(RuleRapidSuccession))
}

func TestBackToBackSpikeFiresBothHistoryRules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	base := time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC)
	const phone = "250788000005"

	require.NoError(t, st.InsertIfAbsent(ctx, record("first", 100, base, phone)))

	// A second record to the same counterparty ten seconds later, 100x the
	// amount: rapid succession and amount anomaly both fire.
	s := New(Config{}, nil)
	spike := record("second", 10_000, base.Add(10*time.Second), phone)
	got, err := s.Assess(ctx, spike, st)
	require.NoError(t, err)
	assert.True(t, got.Triggered(RuleRapidSuccession))
	assert.True(t, got.Triggered(RuleAmountAnomaly))
	assert.InDelta(t, 0.60, got.RiskScore, 1e-9)
	assert.Equal(t, model.RiskMedium, got.Level)
}

func TestBalanceInconsistency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	base := time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC)

	prev := record("bal-1", 1000, base, "250788000001")
	prev.Fee = decimal.NewFromInt(100)
	prev.NewBalance = balancePtr(10_000)
	require.NoError(t, st.InsertIfAbsent(ctx, prev))

	s := New(Config{}, nil)

	// Outgoing 2,000 + fee 50 from 10,000 should leave 7,950.
	consistent := record("bal-2", 2000, base.Add(time.Hour), "250788000001")
	consistent.Fee = decimal.NewFromInt(50)
	consistent.NewBalance = balancePtr(7950)
	got, err := s.Assess(ctx, consistent, st)
	require.NoError(t, err)
	assert.False(t, got.Triggered(RuleBalanceInconsistency))

	// Reported balance far off the expected figure fires.
	wrong := record("bal-3", 2000, base.Add(time.Hour), "250788000001")
	wrong.Fee = decimal.NewFromInt(50)
	wrong.NewBalance = balancePtr(25_000)
	got, err = s.Assess(ctx, wrong, st)
	require.NoError(t, err)
	assert.True(t, got.Triggered(RuleBalanceInconsistency))

	// No reported balance, no rule.
	none := record("bal-4", 2000, base.Add(time.Hour), "250788000001")
	got, err = s.Assess(ctx, none, st)
	require.NoError(t, err)
	assert.False(t, got.Triggered(RuleBalanceInconsistency))
}

func TestMessageTamper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"clean", "TxId: 22004556853. Your payment of 1,100 RWF.", false},
		{"homoglyph digits", "TxId: 22OO4556853. Your payment of 1,100 RWF.", true},
		{"zero width space", "TxId: 220\u200b04556853. Your payment.", true},
		{"plain words with O", "Payment TO JOHN OK", false},
	}

	s := New(Config{}, nil)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := record("tamper", 1000, time.Now().UTC(), "250788000001")
			rec.RawMessage = tt.raw
			got, err := s.Assess(context.Background(), rec, memory.New())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Triggered(RuleMessageTamper))
		})
	}
}

func TestMessageTamperResidual(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil)

	// A short promotional tail is normal; a long unmatched stretch on an
	// otherwise matching message is a splice artifact.
	promo := record("res-1", 1000, time.Now().UTC(), "250788000001")
	promo.Residual = 64
	got, err := s.Assess(context.Background(), promo, memory.New())
	require.NoError(t, err)
	assert.False(t, got.Triggered(RuleMessageTamper))

	spliced := record("res-2", 1000, time.Now().UTC(), "250788000001")
	spliced.Residual = 200
	got, err = s.Assess(context.Background(), spliced, memory.New())
	require.NoError(t, err)
	assert.True(t, got.Triggered(RuleMessageTamper))
	assert.InDelta(t, 0.15, got.RiskScore, 1e-9)
}

func TestScoreAdditiveAndClamped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	base := time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC)
	const phone = "250788000001"

	// Burst history so rapid succession fires.
	for i := 0; i < 3; i++ {
		rec := record(string(rune('x'+i))+"-pre", 1000, base.Add(time.Duration(i)*time.Minute), phone)
		require.NoError(t, st.InsertIfAbsent(ctx, rec))
	}

	s := New(Config{}, nil)

	// Rapid succession (0.30) plus ceiling-level amount (0.30) lands on 0.60.
	rec := record("combo", 1_500_000, base.Add(4*time.Minute), phone)
	got, err := s.Assess(ctx, rec, st)
	require.NoError(t, err)
	assert.True(t, got.Triggered(RuleAmountAnomaly))
	assert.True(t, got.Triggered(RuleRapidSuccession))
	assert.InDelta(t, 0.60, got.RiskScore, 1e-9)
	assert.Equal(t, model.RiskMedium, got.Level)
	assert.LessOrEqual(t, got.RiskScore, 1.0)
}
