package store

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal columns are stored as TEXT. String() on a shopspring decimal is
// exact, and NewFromString round-trips it exactly, so no precision is
// lost crossing the persistence boundary.

func decToText(d decimal.Decimal) string {
	return d.String()
}

func decFromText(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid stored decimal %q: %w", s, err)
	}
	return d, nil
}

func nullableDecToText(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableDecFromText(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decFromText(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
