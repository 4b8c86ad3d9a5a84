package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/store"
)

// VerificationRepo persists verification attempts for audit.
type VerificationRepo struct {
	db *DB
}

func NewVerificationRepo(db *DB) *VerificationRepo {
	return &VerificationRepo{db: db}
}

var _ store.VerificationRepository = (*VerificationRepo)(nil)

func (r *VerificationRepo) InsertAttempt(ctx context.Context, att *model.VerificationAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	id := att.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_attempts (id, query, tx_id, status, confidence, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, att.Query, att.TxID, att.Status, att.Confidence, att.ClientIP)
	if err != nil {
		return fmt.Errorf("insert verification attempt: %w", err)
	}
	att.ID = id
	return nil
}

func (r *VerificationRepo) CountByStatus(ctx context.Context) (map[model.VerificationStatus]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM verification_attempts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count verification attempts: %w", err)
	}
	defer rows.Close()

	out := make(map[model.VerificationStatus]int64)
	for rows.Next() {
		var status model.VerificationStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// FraudAlertRepo persists triggered scoring rules.
type FraudAlertRepo struct {
	db *DB
}

func NewFraudAlertRepo(db *DB) *FraudAlertRepo {
	return &FraudAlertRepo{db: db}
}

var _ store.FraudAlertRepository = (*FraudAlertRepo)(nil)

func (r *FraudAlertRepo) InsertAlert(ctx context.Context, alert *model.FraudAlert) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	id := alert.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fraud_alerts (id, tx_id, rule, risk_score, level, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, alert.TxID, alert.Rule, alert.RiskScore, alert.Level, alert.Detail)
	if err != nil {
		return fmt.Errorf("insert fraud alert: %w", err)
	}
	alert.ID = id
	return nil
}

func (r *FraudAlertRepo) ListByTxID(ctx context.Context, txID string) ([]model.FraudAlert, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tx_id, rule, risk_score, level, detail, created_at
		FROM fraud_alerts
		WHERE tx_id = $1
		ORDER BY created_at ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("list fraud alerts: %w", err)
	}
	defer rows.Close()

	out := make([]model.FraudAlert, 0)
	for rows.Next() {
		var a model.FraudAlert
		if err := rows.Scan(&a.ID, &a.TxID, &a.Rule, &a.RiskScore, &a.Level, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fraud alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
