package sqlutil

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Helper functions for converting between Go types and pgtype values

// ToText converts a Go string to pgtype.Text, treating "" as NULL
func ToText(val string) pgtype.Text {
	if val == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: val, Valid: true}
}

// FromText converts pgtype.Text to a Go string, NULL becoming ""
func FromText(val pgtype.Text) string {
	if !val.Valid {
		return ""
	}
	return val.String
}
