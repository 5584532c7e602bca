package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
	"github.com/zatekoja/healthcare-scheduling/pkg/retry"
)

// TxConfig bounds the serializable transactions run by the adapters
type TxConfig struct {
	// MaxAttempts is the total number of tries when the store reports a serialization failure
	MaxAttempts int
	Timeout     time.Duration
	RetryDelay  time.Duration
}

// txRunner runs serializable transactions for the adapters
type txRunner struct {
	client  *postgres.Client
	cfg     TxConfig
	metrics *observability.Metrics
}

func newTxRunner(client *postgres.Client, cfg TxConfig, metrics *observability.Metrics) txRunner {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 20 * time.Millisecond
	}
	return txRunner{client: client, cfg: cfg, metrics: metrics}
}

// serializable runs fn in a SERIALIZABLE transaction, retrying the whole
// transaction on serialization failures and deadlocks.
func (r txRunner) serializable(ctx context.Context, operation string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	cfg := retry.Config{
		MaxAttempts:   r.cfg.MaxAttempts,
		InitialDelay:  r.cfg.RetryDelay,
		MaxDelay:      10 * r.cfg.RetryDelay,
		BackoffFactor: 2.0,
		RetryIf:       postgres.IsSerializationFailure,
	}

	err := retry.DoWithLog(ctx, cfg, operation, func() error {
		return r.inTx(ctx, fn)
	}, func(attempt int, err error, nextDelay time.Duration) {
		observability.RecordSerializationRetry(ctx, r.metrics, operation)
		observability.LoggerFromContext(ctx).Debug().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("next_delay", nextDelay).
			Msg("Serialization failure, retrying transaction")
	})
	if err == nil {
		return nil
	}

	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	if postgres.IsSerializationFailure(err) {
		return &apperrors.AppError{
			Type:    apperrors.ErrorTypeConflict,
			Message: fmt.Sprintf("concurrent update prevented %s after %d attempts", operation, r.cfg.MaxAttempts),
			Err:     err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewUnavailableError(fmt.Sprintf("%s timed out", operation), false, err)
	}
	return apperrors.NewInternalError(fmt.Sprintf("%s failed", operation), err)
}

func (r txRunner) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	tx, err := r.client.BeginSerializableTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			observability.LoggerFromContext(ctx).Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
