package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/config"
	"github.com/barrysci/stationtest-backend/internal/model"
	"github.com/barrysci/stationtest-backend/internal/upstream"
)

// SubmitWorker consumes submit_station_queue and relays non-final station
// submissions to the grading endpoint. The session has already moved on by
// the time an item lands here, so failures retry in the background instead
// of surfacing to anyone.
type SubmitWorker struct {
	rdb    *redis.Client
	client *upstream.Client
	log    zerolog.Logger
}

// NewSubmitWorker creates a new SubmitWorker.
func NewSubmitWorker(rdb *redis.Client, client *upstream.Client, log zerolog.Logger) *SubmitWorker {
	return &SubmitWorker{
		rdb:    rdb,
		client: client,
		log:    log.With().Str("component", "submit_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *SubmitWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Relay remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SubmitWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.SubmitStationQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var sub model.StationSubmission
	if err := json.Unmarshal([]byte(result[1]), &sub); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping item")
		return
	}

	if _, err := w.client.Submit(ctx, &sub); err != nil {
		w.log.Error().Err(err).
			Str("identity", sub.Identity).
			Int("station", sub.Station).
			Msg("Submission relay failed, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.SubmitStationQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

// drain relays all remaining items in the queue before shutdown. Items that
// still fail are pushed back so a later restart picks them up.
func (w *SubmitWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.SubmitStationQueue).Result()
		if err != nil {
			break
		}

		var sub model.StationSubmission
		if err := json.Unmarshal([]byte(result), &sub); err != nil {
			w.log.Error().Err(err).Msg("Unmarshal error during drain, dropping item")
			continue
		}

		if _, err := w.client.Submit(ctx, &sub); err != nil {
			w.log.Error().Err(err).Int("station", sub.Station).Msg("Drain relay failed, requeueing")
			w.rdb.RPush(ctx, config.WorkerKey.SubmitStationQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained pending submissions")
	}
}
