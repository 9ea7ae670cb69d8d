package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/sweeper/internal/agestore"
	"github.com/yairfalse/sweeper/internal/journal"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// Purge removes age store rows older than the purge threshold, or every row
// when forced. Rows are read a page at a time; in check mode they are only
// reported.
func (e *Engine) Purge(ctx context.Context) *PurgeResult {
	return e.purge(ctx, e.logger.With().Str("run_id", e.opts.RunID).Logger())
}

func (e *Engine) purge(ctx context.Context, logger zerolog.Logger) *PurgeResult {
	ctx, span := e.tracer.Start(ctx, "sweep.purge")
	defer span.End()

	result := &PurgeResult{}
	logger = logger.With().Str("kind", "Database").Logger()

	var filter agestore.Filter
	if !e.opts.Force {
		filter.Before = e.now().UTC().Truncate(time.Second).Add(-e.opts.PurgeThreshold)
	}

	status := resource.StatusPurged
	if e.opts.Check {
		status = resource.StatusChecked
	}

	cursor := ""
	for {
		page, err := e.store.Scan(ctx, filter, e.opts.PurgeBatchSize, cursor)
		if err != nil {
			result.Err = err.Error()
			span.RecordError(err)
			logger.Error().Err(err).Msg("exception scanning age store")
			return result
		}
		result.Pages++

		keys := make([]string, 0, len(page.Records))
		for _, rec := range page.Records {
			keys = append(keys, rec.Key)
		}

		if len(keys) > 0 && !e.opts.Check {
			if err := e.store.DeleteBatch(ctx, keys); err != nil {
				result.Err = err.Error()
				span.RecordError(err)
				logger.Error().Err(err).Int("keys", len(keys)).Msg("exception purging age store")
				return result
			}
		}

		for _, rec := range page.Records {
			if e.opts.Check {
				result.Checked++
			} else {
				result.Purged++
				e.recordPurge(logger, rec)
			}
			logger.Info().
				Str("status", string(status)).
				Str("key", rec.Key).
				Str("created_time", rec.CreatedAt).
				Msg(string(status) + " database item: " + rec.Key)
		}

		if page.Cursor == "" || ctx.Err() != nil {
			break
		}
		cursor = page.Cursor
	}

	return result
}

func (e *Engine) recordPurge(logger zerolog.Logger, rec agestore.Record) {
	if e.journal == nil {
		return
	}
	entry := journal.Entry{Type: journal.EntryPurged, RunID: e.opts.RunID, Kind: "Database", Name: rec.Key}
	if err := e.journal.Append(entry); err != nil {
		logger.Warn().Err(err).Msg("journal append failed")
	}
}
