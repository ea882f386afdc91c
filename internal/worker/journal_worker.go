package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/config"
	"github.com/barrysci/stationtest-backend/internal/model"
	"github.com/barrysci/stationtest-backend/internal/repository"
)

// journalBatchSize caps how many results one write cycle collects before
// flushing to PostgreSQL.
const journalBatchSize = 50

// JournalWorker consumes journal_results_queue and batch-inserts graded
// final results into PostgreSQL. Batches go through COPY with a row-by-row
// fallback inside the repository; a failed batch is requeued whole.
type JournalWorker struct {
	rdb     *redis.Client
	results *repository.ResultRepository
	log     zerolog.Logger
}

// NewJournalWorker creates a new JournalWorker.
func NewJournalWorker(rdb *redis.Client, results *repository.ResultRepository, log zerolog.Logger) *JournalWorker {
	return &JournalWorker{
		rdb:     rdb,
		results: results,
		log:     log.With().Str("component", "journal_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *JournalWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.flush(context.Background(), w.collect(context.Background(), journalBatchSize))
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *JournalWorker) processBatch(ctx context.Context) {
	// Block for the first item, then sweep whatever else is queued.
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.JournalResultsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	batch := w.decode([]string{result[1]})
	batch = append(batch, w.collect(ctx, journalBatchSize-len(batch))...)
	w.flush(ctx, batch)
}

// collect drains up to n queued payloads without blocking.
func (w *JournalWorker) collect(ctx context.Context, n int) []*model.FinalResult {
	var raw []string
	for len(raw) < n {
		item, err := w.rdb.LPop(ctx, config.WorkerKey.JournalResultsQueue).Result()
		if err != nil {
			break
		}
		raw = append(raw, item)
	}
	return w.decode(raw)
}

func (w *JournalWorker) decode(raw []string) []*model.FinalResult {
	results := make([]*model.FinalResult, 0, len(raw))
	for _, item := range raw {
		var res model.FinalResult
		if err := json.Unmarshal([]byte(item), &res); err != nil {
			w.log.Error().Err(err).Msg("Unmarshal error, dropping item")
			continue
		}
		results = append(results, &res)
	}
	return results
}

func (w *JournalWorker) flush(ctx context.Context, batch []*model.FinalResult) {
	if len(batch) == 0 {
		return
	}

	if err := w.results.BulkInsert(ctx, batch); err != nil {
		w.log.Error().Err(err).Int("count", len(batch)).Msg("Journal insert failed, requeueing batch")
		for _, res := range batch {
			payload, merr := json.Marshal(res)
			if merr != nil {
				continue
			}
			w.rdb.RPush(ctx, config.WorkerKey.JournalResultsQueue, payload)
		}
		time.Sleep(5 * time.Second)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Journaled final results")
}
