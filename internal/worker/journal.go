package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/config"
	"github.com/barrysci/stationtest-backend/internal/model"
)

// RedisJournal queues graded final results for the journal worker. The
// session machine only ever enqueues; writing to PostgreSQL happens
// asynchronously so a slow database cannot delay the completion screen.
type RedisJournal struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisJournal creates a RedisJournal.
func NewRedisJournal(rdb *redis.Client, log zerolog.Logger) *RedisJournal {
	return &RedisJournal{
		rdb: rdb,
		log: log.With().Str("component", "journal").Logger(),
	}
}

// RecordFinal queues one graded result for journaling.
func (j *RedisJournal) RecordFinal(ctx context.Context, res *model.FinalResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal final result: %w", err)
	}
	return j.rdb.RPush(ctx, config.WorkerKey.JournalResultsQueue, payload).Err()
}
