package common

import (
	"errors"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation распознаёт нарушение уникального индекса PostgreSQL.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}
