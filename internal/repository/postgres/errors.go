package postgres

import "strings"

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

// isSerializationFailure checks for serialization or deadlock failures
// (SQLSTATE 40001, 40P01). These are the retryable outcomes of a
// serializable transaction losing against a concurrent one.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") || strings.Contains(msg, "40P01")
}
