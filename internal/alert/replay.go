package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wordgate/apiserver/internal/storage"
	"github.com/wordgate/apiserver/types"
)

// DeadLetterSource lists, reads and removes stored dead letters.
type DeadLetterSource interface {
	List(ctx context.Context, prefix string) ([]string, error)
	GetJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// ActivityRecorder writes an activity record.
type ActivityRecorder interface {
	Record(ctx context.Context, accountID string, wordCount int64, description string) (string, error)
}

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	Replayed int
	Failed   int
}

// Replay re-records every dead-lettered consumption and deletes the ones
// that succeed. Quota is not consumed again. A failing letter is kept for
// the next run and does not stop the others. A letter that disappears
// between listing and reading was taken by a concurrent run and is skipped.
func Replay(ctx context.Context, logger *slog.Logger, source DeadLetterSource, recorder ActivityRecorder) (ReplayResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	keys, err := source.List(ctx, DeadLetterPrefix)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("list dead letters: %w", err)
	}

	var (
		result ReplayResult
		errs   []error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := replayOne(ctx, source, recorder, key)
		if errors.Is(err, storage.ErrObjectNotFound) {
			logger.Info("dead letter already replayed", "key", key)
			continue
		}
		if err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			logger.Error("replay dead letter", "key", key, "error", err)
			continue
		}
		result.Replayed++
		logger.Info("dead letter replayed", "key", key)
	}
	return result, errors.Join(errs...)
}

func replayOne(ctx context.Context, source DeadLetterSource, recorder ActivityRecorder, key string) error {
	var event types.UnrecordedConsumption
	if err := source.GetJSON(ctx, key, &event); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if _, err := recorder.Record(ctx, event.Receipt.AccountID, event.Receipt.Words, event.Description); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if err := source.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
