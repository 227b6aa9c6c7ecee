package persistence

import (
	"GasFutures/internal/core"
	"GasFutures/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// It runs independently from the exchange. The exchange sends on the persist
// channel with a blocking send, so a slow worker stalls command processing
// instead of losing log entries.
type PersistenceWorker struct {
	db           *sql.DB
	writer       Writer
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger.With().Str("component", "persistence").Logger(),
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	rows := &Rows{}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if rows.Len() > 0 {
				if err := pw.flush(context.Background(), rows); err != nil {
					pw.logger.Error().Err(err).Int("commands", rows.Len()).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if rows.Len() > 0 {
					if err := pw.flush(context.Background(), rows); err != nil {
						pw.logger.Error().Err(err).Int("commands", rows.Len()).Msg("final flush failed")
						return err
					}
				}
				return nil
			}

			if err := rows.Append(output); err != nil {
				// Unencodable outputs can never be written; a retry would loop forever.
				pw.logger.Error().Err(err).Int64("log_seq", output.LogSeq).Msg("dropping unencodable output")
				if pw.metrics != nil {
					pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				continue
			}

			if rows.Len() >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, rows); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				rows.Reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if rows.Len() > 0 {
				if err := pw.flushWithRetry(ctx, rows); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				rows.Reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. On cancellation it makes one last attempt with a
// background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, rows *Rows) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("commands", rows.Len()).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetries.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), rows); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		err := pw.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Debug().Err(err).Msg("flush attempt failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, rows *Rows) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteAll(ctx, tx, rows); err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			pw.recordError(stageErr.Stage)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(rows.Len()))
		pw.metrics.PersistCommandsWritten.Add(float64(len(rows.Commands)))
		pw.metrics.PersistEventsWritten.Add(float64(len(rows.Events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(rows.Journals)))
		pw.metrics.PersistLastSequence.Set(float64(rows.LastLogSeq()))
	}
	return nil
}

func (pw *PersistenceWorker) recordError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
