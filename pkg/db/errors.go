package db

import "strings"

// IsUniqueViolation reports whether the provided error references a unique
// constraint violation. When constraintName is provided, the helper looks for
// the constraint text in the error message. The sqlite message shape is
// covered because tests run against an in-memory sqlite database.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
