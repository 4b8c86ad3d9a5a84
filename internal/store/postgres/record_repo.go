package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/store"
)

type RecordRepo struct {
	db *DB
}

func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

var _ store.RecordRepository = (*RecordRepo)(nil)

const recordColumns = `id, tx_id, category, amount, fee, new_balance,
	counterparty_name, counterparty_phone, counterparty_code,
	agent_name, agent_phone, ts, ts_fallback, raw_message,
	external_reference, token, residual_len, created_at`

// counterpartyKeyExpr mirrors model.Record.CounterpartyKey: phone when known,
// otherwise name, otherwise merchant code.
const counterpartyKeyExpr = `COALESCE(NULLIF(counterparty_phone, ''), NULLIF(counterparty_name, ''), counterparty_code)`

// InsertIfAbsent commits rec unless a record with the same tx_id exists. The
// unique constraint makes the race-free decision; a conflicting insert
// surfaces store.ErrDuplicateTxID and leaves the original untouched.
func (r *RecordRepo) InsertIfAbsent(ctx context.Context, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var committed uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO records (id, tx_id, category, amount, fee, new_balance,
			counterparty_name, counterparty_phone, counterparty_code,
			agent_name, agent_phone, ts, ts_fallback, raw_message,
			external_reference, token, residual_len)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (tx_id) DO NOTHING
		RETURNING id
	`, id, rec.TxID, rec.Category, rec.Amount, rec.Fee, nullDecimal(rec.NewBalance),
		rec.CounterpartyName, rec.CounterpartyPhone, rec.CounterpartyCode,
		rec.AgentName, rec.AgentPhone, rec.Timestamp, rec.TimestampFallback,
		rec.RawMessage, rec.ExternalReference, rec.Token, rec.Residual,
	).Scan(&committed)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrDuplicateTxID
	}
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	rec.ID = committed
	return nil
}

func (r *RecordRepo) Get(ctx context.Context, txID string) (*model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE tx_id = $1`, txID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (r *RecordRepo) ScanSince(ctx context.Context, since time.Time, limit int) ([]model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	q := `SELECT ` + recordColumns + ` FROM records WHERE ts >= $1 ORDER BY ts DESC, tx_id ASC`
	args := []any{since}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *RecordRepo) ScanCounterparty(ctx context.Context, key string, since time.Time) ([]model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE `+counterpartyKeyExpr+` = $1 AND ts >= $2
		ORDER BY ts DESC, tx_id ASC
	`, key, since)
	if err != nil {
		return nil, fmt.Errorf("scan counterparty records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *RecordRepo) CountByCategory(ctx context.Context) (map[model.Category]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM records GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Category]int64)
	for rows.Next() {
		var cat model.Category
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		out[cat] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var rec model.Record
	var balance decimal.NullDecimal
	err := row.Scan(
		&rec.ID, &rec.TxID, &rec.Category, &rec.Amount, &rec.Fee, &balance,
		&rec.CounterpartyName, &rec.CounterpartyPhone, &rec.CounterpartyCode,
		&rec.AgentName, &rec.AgentPhone, &rec.Timestamp, &rec.TimestampFallback,
		&rec.RawMessage, &rec.ExternalReference, &rec.Token, &rec.Residual, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if balance.Valid {
		rec.NewBalance = &balance.Decimal
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]model.Record, error) {
	out := make([]model.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
