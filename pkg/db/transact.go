package db

import (
	"context"
	"strings"
	"time"

	"rewards-platform/pkg/errutil"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxConflictRetries = 3

// Transact runs fn inside a database transaction with a bounded retry loop for
// lock and serialization conflicts. Business-rule errors pass through
// untouched; a conflict that survives every attempt surfaces as
// CONCURRENCY_CONFLICT so callers can tell transient failures apart from
// rejections.
func Transact(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	backoff := retry.WithMaxRetries(maxConflictRetries-1, retry.NewConstant(25*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		txErr := db.WithContext(ctx).Transaction(fn)
		if txErr == nil {
			return nil
		}
		if IsConflict(txErr) {
			zap.L().Warn("transaction conflict, retrying", zap.Error(txErr))
			return retry.RetryableError(txErr)
		}
		return txErr
	})
	if err == nil {
		return nil
	}

	if IsConflict(err) {
		return errutil.ConcurrencyConflict("operation conflicted with a concurrent update", errutil.WithErr(err))
	}

	return err
}

// IsConflict reports whether err is a transient lock/serialization failure
// worth retrying. Covers postgres serialization/deadlock SQLSTATEs, mysql lock
// waits and sqlite busy errors.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"SQLSTATE 40001",          // postgres: serialization_failure
		"SQLSTATE 40P01",          // postgres: deadlock_detected
		"could not serialize",     // postgres
		"deadlock detected",       // postgres
		"Deadlock found",          // mysql 1213
		"Lock wait timeout",       // mysql 1205
		"database is locked",      // sqlite
		"database table is locked",
		"SQLITE_BUSY",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
