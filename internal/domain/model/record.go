package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category identifies the SMS template family a record was parsed from.
type Category string

const (
	CategoryPaymentOut  Category = "payment_out"
	CategoryPaymentIn   Category = "payment_in"
	CategoryTransferOut Category = "transfer_out"
	CategoryTransferIn  Category = "transfer_in"
	CategoryWithdrawal  Category = "withdrawal"
	CategoryAirtime     Category = "airtime"
	CategoryElectricity Category = "electricity"
)

func (c Category) String() string {
	return string(c)
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPaymentOut, CategoryPaymentIn, CategoryTransferOut,
		CategoryTransferIn, CategoryWithdrawal, CategoryAirtime, CategoryElectricity:
		return true
	}
	return false
}

// Record is a parsed mobile-money transaction. A Record is immutable once
// built: corrections require a new parse, never an in-place edit.
type Record struct {
	ID       uuid.UUID `db:"id"`
	TxID     string    `db:"tx_id"`
	Category Category  `db:"category"`

	Amount     decimal.Decimal  `db:"amount"`
	Fee        decimal.Decimal  `db:"fee"`
	NewBalance *decimal.Decimal `db:"new_balance"`

	CounterpartyName  string `db:"counterparty_name"`
	CounterpartyPhone string `db:"counterparty_phone"`
	CounterpartyCode  string `db:"counterparty_code"`
	AgentName         string `db:"agent_name"`
	AgentPhone        string `db:"agent_phone"`

	// Timestamp is the transaction time parsed from the message, or the
	// processing time when the message carried none (TimestampFallback set).
	Timestamp         time.Time `db:"ts"`
	TimestampFallback bool      `db:"ts_fallback"`

	RawMessage        string `db:"raw_message"`
	ExternalReference string `db:"external_reference"`
	Token             string `db:"token"`

	// Residual counts characters of the raw message outside the span the
	// template matched. Legitimate messages carry short promotional tails;
	// a large residual feeds the tamper rule.
	Residual int `db:"residual_len"`

	CreatedAt time.Time `db:"created_at"`
}

// Validate checks the record invariants before it is handed to the store.
func (r *Record) Validate() error {
	if r.TxID == "" {
		return fmt.Errorf("record: empty tx_id")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("record: invalid category %q", r.Category)
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("record: negative amount %s", r.Amount)
	}
	if r.Fee.IsNegative() {
		return fmt.Errorf("record: negative fee %s", r.Fee)
	}
	if r.RawMessage == "" {
		return fmt.Errorf("record: empty raw message")
	}
	return nil
}

// CounterpartyKey returns the identifier used to group history for a record's
// counterparty: phone when known, otherwise name, otherwise merchant code.
func (r *Record) CounterpartyKey() string {
	if r.CounterpartyPhone != "" {
		return r.CounterpartyPhone
	}
	if r.CounterpartyName != "" {
		return r.CounterpartyName
	}
	return r.CounterpartyCode
}

// Outgoing reports whether the record moves money out of the account.
func (r *Record) Outgoing() bool {
	switch r.Category {
	case CategoryPaymentOut, CategoryTransferOut, CategoryWithdrawal,
		CategoryAirtime, CategoryElectricity:
		return true
	}
	return false
}
