package model

import (
	"time"

	"github.com/google/uuid"
)

// FraudAlert is a persisted row for a scoring rule that fired during
// ingestion, kept for operator review and duplicate-lineage queries.
type FraudAlert struct {
	ID        uuid.UUID `db:"id"`
	TxID      string    `db:"tx_id"`
	Rule      string    `db:"rule"`
	RiskScore float64   `db:"risk_score"`
	Level     RiskLevel `db:"level"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

// VerificationStatus classifies the outcome of one verification attempt.
type VerificationStatus string

const (
	VerificationVerified  VerificationStatus = "verified"
	VerificationAmbiguous VerificationStatus = "ambiguous"
	VerificationFailed    VerificationStatus = "failed"
)

// VerificationAttempt is the audit row written for every verification call,
// successful or not.
type VerificationAttempt struct {
	ID         uuid.UUID          `db:"id"`
	Query      string             `db:"query"`
	TxID       string             `db:"tx_id"` // resolved tx_id, empty when not found
	Status     VerificationStatus `db:"status"`
	Confidence float64            `db:"confidence"`
	ClientIP   string             `db:"client_ip"`
	CreatedAt  time.Time          `db:"created_at"`
}
