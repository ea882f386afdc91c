package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/config"
	"github.com/barrysci/stationtest-backend/internal/model"
)

// Submit posts one station's answers to the grading endpoint as a
// url-encoded form. Non-final posts accumulate server-side; the final post
// grades and returns {"score": n}.
func (c *Client) Submit(ctx context.Context, sub *model.StationSubmission) (*model.SubmissionResult, error) {
	form := url.Values{}
	form.Set("name", sub.Credentials.Name)
	form.Set("email", sub.Credentials.Email)
	form.Set("test", sub.Credentials.Test)
	form.Set("station", strconv.Itoa(sub.Station))
	if sub.Final {
		form.Set("final", "true")
		form.Set("oobTime", strconv.Itoa(sub.OOBSeconds))
	}
	for field, value := range sub.Answers {
		form.Set(field, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build submission: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post submission: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post submission: unexpected status %d", resp.StatusCode)
	}

	var result model.SubmissionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode submission result: %w", err)
	}
	return &result, nil
}

// RedisSubmitter routes non-final submissions through a Redis queue (drained
// by the submit worker, with retry) and sends final submissions directly.
// The split matches the two failure policies: non-final failures are
// swallowed, final failures surface to the caller.
type RedisSubmitter struct {
	rdb    *redis.Client
	client *Client
	log    zerolog.Logger
}

// NewRedisSubmitter creates a RedisSubmitter.
func NewRedisSubmitter(rdb *redis.Client, client *Client, log zerolog.Logger) *RedisSubmitter {
	return &RedisSubmitter{
		rdb:    rdb,
		client: client,
		log:    log.With().Str("component", "submitter").Logger(),
	}
}

// EnqueueStation queues a non-final submission for background relay.
func (s *RedisSubmitter) EnqueueStation(ctx context.Context, sub *model.StationSubmission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	return s.rdb.RPush(ctx, config.WorkerKey.SubmitStationQueue, payload).Err()
}

// SubmitFinal relays the final submission synchronously.
func (s *RedisSubmitter) SubmitFinal(ctx context.Context, sub *model.StationSubmission) (*model.SubmissionResult, error) {
	return s.client.Submit(ctx, sub)
}
