package store

import (
	"context"
	"errors"
	"time"

	"github.com/kigalipay/momoguard/internal/domain/model"
)

// ErrNotFound is returned by Get when no record carries the given tx_id.
var ErrNotFound = errors.New("store: record not found")

// ErrDuplicateTxID is returned by InsertIfAbsent when a record with the same
// tx_id is already committed. The original record is always retained.
var ErrDuplicateTxID = errors.New("store: duplicate tx_id")

// RecordReadView is the read-only store view handed to the fraud scorer and
// the resolver. All methods are safe for concurrent use and snapshot-consistent
// within a single call.
type RecordReadView interface {
	// Get returns the record keyed by txID, or ErrNotFound.
	Get(ctx context.Context, txID string) (*model.Record, error)

	// ScanSince returns records with Timestamp >= since, newest first,
	// capped at limit (0 means no cap). Used as the bounded candidate
	// window for fuzzy resolution and history-based scoring.
	ScanSince(ctx context.Context, since time.Time, limit int) ([]model.Record, error)

	// ScanCounterparty returns records for one counterparty key since the
	// given time, newest first.
	ScanCounterparty(ctx context.Context, key string, since time.Time) ([]model.Record, error)
}

// RecordRepository provides full access to transaction records.
type RecordRepository interface {
	RecordReadView

	// InsertIfAbsent atomically commits rec keyed by its TxID. Exactly one
	// of two concurrent inserts for the same tx_id succeeds; the loser
	// receives ErrDuplicateTxID.
	InsertIfAbsent(ctx context.Context, rec *model.Record) error

	// CountByCategory returns the number of committed records per category.
	CountByCategory(ctx context.Context) (map[model.Category]int64, error)
}

// VerificationRepository persists verification attempts for audit.
type VerificationRepository interface {
	InsertAttempt(ctx context.Context, att *model.VerificationAttempt) error
	CountByStatus(ctx context.Context) (map[model.VerificationStatus]int64, error)
}

// FraudAlertRepository persists triggered scoring rules.
type FraudAlertRepository interface {
	InsertAlert(ctx context.Context, alert *model.FraudAlert) error
	ListByTxID(ctx context.Context, txID string) ([]model.FraudAlert, error)
}
