package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/barrysci/stationtest-backend/internal/model"
)

// Client talks to the spreadsheet-backed question/grading endpoint. The
// endpoint is a single URL: GET with query parameters for catalog and
// question reads, url-encoded POST for submissions.
type Client struct {
	baseURL     string
	maxStations int
	http        *http.Client
	log         zerolog.Logger
}

// NewClient creates an upstream Client. timeout applies per request so a
// hung fetch can never block a state transition indefinitely.
func NewClient(baseURL string, maxStations int, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		maxStations: maxStations,
		http:        &http.Client{Timeout: timeout},
		log:         log.With().Str("component", "upstream_client").Logger(),
	}
}

// ListTests returns the catalog of test names.
func (c *Client) ListTests(ctx context.Context) ([]string, error) {
	var tests []string
	if err := c.getJSON(ctx, url.Values{"action": {"listTests"}}, &tests); err != nil {
		return nil, err
	}
	return tests, nil
}

// FetchStation returns the question list for one station. An empty slice
// means the station does not exist; that is the probe's existence signal,
// not an error.
func (c *Client) FetchStation(ctx context.Context, testName string, station int) ([]model.Question, error) {
	params := url.Values{
		"test":    {testName},
		"station": {strconv.Itoa(station)},
	}
	var questions []model.Question
	if err := c.getJSON(ctx, params, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// CountStations probes stations 1..maxStations concurrently and returns the
// highest station index that has questions. Individual fetch failures count
// as "no station" so one flaky probe cannot abort the whole discovery; only
// the maximum successful index matters. Returns 0 when nothing was found.
func (c *Client) CountStations(ctx context.Context, testName string) (int, error) {
	found := make([]bool, c.maxStations+1)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i <= c.maxStations; i++ {
		station := i
		g.Go(func() error {
			questions, err := c.FetchStation(ctx, testName, station)
			if err != nil {
				c.log.Debug().Err(err).Int("station", station).Msg("Probe fetch failed, treating as empty")
				return nil
			}
			mu.Lock()
			found[station] = len(questions) > 0
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for i := c.maxStations; i >= 1; i-- {
		if found[i] {
			return i, nil
		}
	}
	return 0, nil
}

func (c *Client) getJSON(ctx context.Context, params url.Values, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", params.Encode(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", params.Encode(), resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
