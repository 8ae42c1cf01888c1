package domain

import "fmt"

const (
	outSuffix      = "OUT"
	rollbackSuffix = "ROLLBACK"
)

// OutKey derives the out-leg key of a base idempotency key.
func OutKey(key string) string {
	return fmt.Sprintf("%s_%s", key, outSuffix)
}

// RollbackKey derives the rollback-leg key of a base idempotency key.
func RollbackKey(key string) string {
	return fmt.Sprintf("%s_%s", key, rollbackSuffix)
}
