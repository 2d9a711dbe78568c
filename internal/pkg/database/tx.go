package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqlerr "github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// ErrRetriesExhausted wraps the last transient error once WithTx gives up.
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// TxOptions controls the retry loop of WithTx.
type TxOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultTxOptions = TxOptions{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond}

// WithTx runs fn in a transaction and re-runs the whole transaction when it
// fails on a deadlock, lock wait timeout or a dropped connection. fn must not
// have side effects outside tx, it may run more than once.
func WithTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return WithTxOptions(ctx, db, DefaultTxOptions, fn)
}

func WithTxOptions(ctx context.Context, db *gorm.DB, opts TxOptions, fn func(tx *gorm.DB) error) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		delay := opts.BaseDelay * time.Duration(1<<(attempt-1))
		log.Warnf("[Database] Transient transaction error (attempt %d/%d), retrying in %v: %v", attempt, opts.MaxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
}

// IsRetryable reports whether err is a transient storage failure worth
// retrying at the transaction boundary.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysqlerr.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqlerr.ErrInvalidConn) {
		return true
	}
	// sqlite reports lock contention only through the message
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsTransient reports whether err should make the caller ask for redelivery.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRetriesExhausted) || IsRetryable(err)
}
