package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/model"
)

// Store is the durable persistence layer the state machine reconciles with.
type Store interface {
	Save(ctx context.Context, identity, testName string, sess *model.Session) error
	Load(ctx context.Context, identity, testName string) (*model.Session, error)
	Clear(ctx context.Context, identity, testName string) error
	IsCompleted(ctx context.Context, identity, testName string) (bool, error)
	MarkCompleted(ctx context.Context, identity, testName string) error
}

// QuestionSource provides station discovery and question fetches.
type QuestionSource interface {
	FetchStation(ctx context.Context, testName string, station int) ([]model.Question, error)
	CountStations(ctx context.Context, testName string) (int, error)
}

// Submitter routes answers to the grading endpoint. Non-final submissions go
// through a queue and their failures are swallowed; the final submission is
// synchronous and its failure surfaces.
type Submitter interface {
	EnqueueStation(ctx context.Context, sub *model.StationSubmission) error
	SubmitFinal(ctx context.Context, sub *model.StationSubmission) (*model.SubmissionResult, error)
}

// Journal records graded final results out-of-band. A nil Journal disables
// journaling entirely.
type Journal interface {
	RecordFinal(ctx context.Context, res *model.FinalResult) error
}

// Phase is the top-level lifecycle state of one test attempt.
type Phase string

const (
	PhaseCredentials Phase = "CREDENTIALS"
	PhaseActive      Phase = "ACTIVE"
	PhaseCompleted   Phase = "COMPLETED"
)

var (
	ErrTestCompleted        = errors.New("test already completed for this identity")
	ErrNoStations           = errors.New("no stations available for this test")
	ErrConfirmationRequired = errors.New("leaving a station requires confirmation")
	ErrSessionBusy          = errors.New("session is loading")
	ErrNotActive            = errors.New("no active station")
	ErrInvalidQuestion      = errors.New("question is not on the current station")
	ErrSubmissionFailed     = errors.New("final submission failed")
	ErrMissingCredentials   = errors.New("name, email and test are required")
)

// Config carries the timing knobs for one attempt.
type Config struct {
	StationDuration   time.Duration
	HeartbeatInterval time.Duration
}

// Snapshot is the caller-facing view of the session, safe to serialize.
type Snapshot struct {
	Phase           Phase             `json:"phase"`
	Identity        string            `json:"identity"`
	Credentials     model.Credentials `json:"credentials"`
	CurrentStation  int               `json:"current_station"`
	TotalStations   int               `json:"total_stations"`
	TimeLeftSeconds int               `json:"time_left_seconds"`
	Questions       []model.Question  `json:"questions,omitempty"`
	QuestionStates  map[int]string    `json:"question_states,omitempty"`
	Counts          Counts            `json:"counts"`
	Answers         map[string]string `json:"answers,omitempty"`
	OutOfAppSeconds int               `json:"out_of_app_seconds"`
	Score           *float64          `json:"score,omitempty"`
}

// Controller is the per-attempt state machine: credentials gate, station
// progression, timer ownership, flag tracking, durable reconciliation and
// the completion gate. All methods are safe for concurrent use; the single
// mutex serializes transitions so a timer expiry and a manual advance can
// never double-submit a station.
type Controller struct {
	store     Store
	source    QuestionSource
	submitter Submitter
	journal   Journal
	cfg       Config
	log       zerolog.Logger

	identity string
	creds    model.Credentials

	mu             sync.Mutex
	phase          Phase
	currentStation int
	totalStations  int
	questions      []model.Question
	tracker        *Tracker
	savedAnswers   map[int]map[string]string
	outOfApp       int
	pageHiddenAt   *time.Time
	timeLeft       int
	score          *float64
	loading        bool

	timer   *StationTimer
	hbStop  chan struct{}
	subs    map[chan Event]struct{}
	closed  bool
	onDone  func()
}

// NewController creates a controller in the credentials phase. Nothing is
// probed or persisted until Begin.
func NewController(identity string, creds model.Credentials, store Store, source QuestionSource, submitter Submitter, journal Journal, cfg Config, log zerolog.Logger) *Controller {
	return &Controller{
		store:     store,
		source:    source,
		submitter: submitter,
		journal:   journal,
		cfg:       cfg,
		log: log.With().
			Str("component", "session").
			Str("identity", identity).
			Str("test", creds.Test).
			Logger(),
		identity:     identity,
		creds:        creds,
		phase:        PhaseCredentials,
		tracker:      NewTracker(),
		savedAnswers: make(map[int]map[string]string),
		subs:         make(map[chan Event]struct{}),
	}
}

// Begin runs the credentials transition: completion gate, persisted-state
// reconciliation, station discovery, first (or resumed) station load and
// timer start. Idempotent once active: a duplicate Begin returns the
// current snapshot.
func (c *Controller) Begin(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseCredentials {
		return c.snapshotLocked(), nil
	}
	if c.creds.Name == "" || c.creds.Email == "" || c.creds.Test == "" {
		return nil, ErrMissingCredentials
	}

	// The completion gate comes before anything else. A leftover session
	// snapshot next to a completion marker is stale state from before the
	// final submission cleared it; drop it.
	completed, err := c.store.IsCompleted(ctx, c.identity, c.creds.Test)
	if err != nil {
		c.log.Warn().Err(err).Msg("Completion check failed, treating as not completed")
	}
	if completed {
		if err := c.store.Clear(ctx, c.identity, c.creds.Test); err != nil {
			c.log.Warn().Err(err).Msg("Failed to clear leftover session for completed test")
		}
		return nil, ErrTestCompleted
	}

	persisted, err := c.store.Load(ctx, c.identity, c.creds.Test)
	if err != nil {
		// A read failure must not lock the user out; proceed as a fresh
		// attempt and let the next save overwrite.
		c.log.Warn().Err(err).Msg("Session load failed, starting fresh")
		persisted = nil
	}

	total, err := c.source.CountStations(ctx, c.creds.Test)
	if err != nil {
		c.log.Warn().Err(err).Msg("Station probe failed")
		total = 0
	}
	if total == 0 && persisted != nil {
		// The probe can come up empty on a flaky upstream while a valid
		// attempt is mid-flight; trust the persisted total then.
		total = persisted.TotalStations
	}
	if total == 0 {
		return nil, ErrNoStations
	}
	c.totalStations = total

	var resumeEpoch *time.Time
	if persisted != nil && persisted.CurrentStation >= 1 {
		c.currentStation = persisted.CurrentStation
		if c.currentStation > c.totalStations {
			c.currentStation = c.totalStations
		}
		c.tracker = TrackerFromTags(persisted.QuestionStates, persisted.LastAnswered)
		if persisted.SavedAnswers != nil {
			c.savedAnswers = persisted.SavedAnswers
		}
		c.outOfApp = persisted.OutOfAppSeconds
		if persisted.PageHiddenAt != nil {
			// The page was hidden when the last snapshot was taken and the
			// process never saw it come back. Count that gap now.
			c.outOfApp += int(time.Since(*persisted.PageHiddenAt) / time.Second)
		}
		resumeEpoch = persisted.TimerEpoch
		c.log.Info().Int("station", c.currentStation).Int("total", total).Msg("Resuming persisted session")
	} else {
		c.currentStation = 1
		c.log.Info().Int("total", total).Msg("Starting fresh session")
	}

	c.phase = PhaseActive

	if err := c.loadStationLocked(ctx, resumeEpoch); err != nil {
		if errors.Is(err, ErrTimerExpired) {
			// The persisted station ran out while nobody was looking. Submit
			// it and move on before the caller sees anything.
			c.timeLeft = 0
			c.publishLocked(Event{Type: EventExpired, Station: c.currentStation})
			if err := c.advanceLocked(ctx, true, true); err != nil && !errors.Is(err, ErrSubmissionFailed) {
				c.log.Error().Err(err).Msg("Auto-advance after expired resume failed")
			}
		} else {
			c.log.Error().Err(err).Int("station", c.currentStation).Msg("Station load failed")
		}
	}

	if c.phase == PhaseActive {
		c.startHeartbeatLocked()
		c.persistLocked(ctx)
	}
	return c.snapshotLocked(), nil
}

// Snapshot returns the current caller-facing view.
func (c *Controller) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SetAnswer records one answer and keeps the answered flag in lockstep with
// the saved value: set iff non-empty.
func (c *Controller) SetAnswer(ctx context.Context, ordinal int, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	if ordinal < 1 || ordinal > len(c.questions) {
		return fmt.Errorf("%w: q%d on station %d", ErrInvalidQuestion, ordinal, c.currentStation)
	}

	answers := c.savedAnswers[c.currentStation]
	if answers == nil {
		answers = make(map[string]string)
		c.savedAnswers[c.currentStation] = answers
	}
	field := fmt.Sprintf("q%d", ordinal)
	if value == "" {
		delete(answers, field)
	} else {
		answers[field] = value
	}

	c.tracker.SetAnswered(ordinal, value != "")
	c.persistLocked(ctx)
	return nil
}

// ToggleMark flips the marked-for-review flag on one question.
func (c *Controller) ToggleMark(ctx context.Context, ordinal int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	if ordinal < 1 || ordinal > len(c.questions) {
		return fmt.Errorf("%w: q%d on station %d", ErrInvalidQuestion, ordinal, c.currentStation)
	}

	c.tracker.ToggleMarked(ordinal)
	c.persistLocked(ctx)
	return nil
}

// Visit reports that the user reached the given ordinal, retroactively
// marking everything scrolled past without an answer as skipped.
func (c *Controller) Visit(ctx context.Context, ordinal int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	if ordinal < 1 || ordinal > len(c.questions) {
		return fmt.Errorf("%w: q%d on station %d", ErrInvalidQuestion, ordinal, c.currentStation)
	}

	c.tracker.DetectSkipped(ordinal)
	c.persistLocked(ctx)
	return nil
}

// SetHidden tracks page visibility for out-of-app time accounting. Hidden
// starts the clock; visible folds the elapsed gap into the cumulative total.
func (c *Controller) SetHidden(ctx context.Context, hidden bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActiveLocked(); err != nil {
		return err
	}

	if hidden {
		if c.pageHiddenAt == nil {
			now := time.Now()
			c.pageHiddenAt = &now
		}
	} else {
		c.accumulateHiddenLocked()
	}
	c.persistLocked(ctx)
	return nil
}

// Advance submits the current station and moves to the next one, or runs
// the final submission on the last station. confirmed must be true, since
// confirmation is required for every manual advance; only timer expiry
// bypasses it.
func (c *Controller) Advance(ctx context.Context, confirmed bool) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.advanceLocked(ctx, false, confirmed); err != nil {
		return nil, err
	}
	return c.snapshotLocked(), nil
}

// Subscribe registers an event channel for this attempt's timer stream.
// Events are dropped rather than block a slow subscriber. The returned
// cancel func unregisters and closes the channel.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, 16)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// Close stops the timer and heartbeat and persists a final snapshot of an
// active attempt so a process restart can resume it.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.phase == PhaseActive {
		c.persistLocked(ctx)
	}
	c.stopTimerLocked()
	c.stopHeartbeatLocked()
	for ch := range c.subs {
		close(ch)
	}
	c.subs = make(map[chan Event]struct{})
}

// advanceLocked is the single station-exit path, shared by manual advance,
// timer expiry and expired-on-resume. auto bypasses the confirmation gate.
func (c *Controller) advanceLocked(ctx context.Context, auto, confirmed bool) error {
	switch c.phase {
	case PhaseCompleted:
		return ErrTestCompleted
	case PhaseActive:
	default:
		return ErrNotActive
	}
	if c.loading {
		return ErrSessionBusy
	}
	if !auto && !confirmed {
		return ErrConfirmationRequired
	}

	// Re-check the completion gate at every submission-adjacent boundary: a
	// parallel attempt under the same identity may have finished first.
	if completed, err := c.store.IsCompleted(ctx, c.identity, c.creds.Test); err == nil && completed {
		c.log.Warn().Msg("Completion marker appeared mid-attempt, blocking")
		if err := c.store.Clear(ctx, c.identity, c.creds.Test); err != nil {
			c.log.Warn().Err(err).Msg("Failed to clear session for completed test")
		}
		c.enterCompletedLocked(nil)
		return ErrTestCompleted
	}

	c.stopTimerLocked()
	c.accumulateHiddenLocked()

	final := c.currentStation >= c.totalStations
	sub := &model.StationSubmission{
		Identity:    c.identity,
		Credentials: c.creds,
		Station:     c.currentStation,
		Final:       final,
		Answers:     copyAnswers(c.savedAnswers[c.currentStation]),
	}

	if !final {
		if err := c.submitter.EnqueueStation(ctx, sub); err != nil {
			// Non-final failure policy: log and keep going. Answers stay in
			// the session snapshot so nothing is lost locally.
			c.log.Warn().Err(err).Int("station", sub.Station).Msg("Failed to enqueue station submission")
		}

		c.currentStation++
		c.tracker.Reset()
		c.questions = nil
		if err := c.loadStationLocked(ctx, nil); err != nil {
			c.log.Error().Err(err).Int("station", c.currentStation).Msg("Next station load failed")
		}
		c.persistLocked(ctx)
		c.publishLocked(Event{Type: EventAdvanced, Station: c.currentStation, Remaining: c.timeLeft})
		return nil
	}

	sub.OOBSeconds = c.outOfApp
	result, err := c.submitter.SubmitFinal(ctx, sub)
	if err != nil {
		// The session snapshot is kept so a reload can retry the final
		// submission instead of silently losing the whole attempt.
		c.log.Error().Err(err).Msg("Final submission failed")
		c.timeLeft = 0
		c.persistLocked(ctx)
		c.publishLocked(Event{Type: EventError, Message: "final submission failed"})
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	if c.journal != nil && result.Score != nil {
		res := &model.FinalResult{
			Identity:    c.identity,
			TestName:    c.creds.Test,
			Name:        c.creds.Name,
			Email:       c.creds.Email,
			Stations:    c.totalStations,
			Score:       *result.Score,
			OOBSeconds:  c.outOfApp,
			SubmittedAt: time.Now(),
		}
		if err := c.journal.RecordFinal(ctx, res); err != nil {
			c.log.Warn().Err(err).Msg("Failed to journal final result")
		}
	}

	if err := c.store.MarkCompleted(ctx, c.identity, c.creds.Test); err != nil {
		c.log.Error().Err(err).Msg("Failed to persist completion marker")
	}
	if err := c.store.Clear(ctx, c.identity, c.creds.Test); err != nil {
		c.log.Warn().Err(err).Msg("Failed to clear session after completion")
	}

	c.enterCompletedLocked(result.Score)
	return nil
}

// loadStationLocked fetches and installs the current station's questions,
// replays this station's saved answers into the tracker so the answered
// flags match the saved slots after a resume, then starts the countdown
// (resumed from the given epoch, or fresh). The loading flag blocks advances
// racing a slow fetch.
func (c *Controller) loadStationLocked(ctx context.Context, resumeFrom *time.Time) error {
	c.loading = true
	defer func() { c.loading = false }()

	questions, err := c.source.FetchStation(ctx, c.creds.Test, c.currentStation)
	if err != nil {
		return fmt.Errorf("fetch station %d: %w", c.currentStation, err)
	}
	c.questions = questions

	for field, value := range c.savedAnswers[c.currentStation] {
		var ordinal int
		if _, err := fmt.Sscanf(field, "q%d", &ordinal); err == nil && value != "" {
			c.tracker.SetAnswered(ordinal, true)
		}
	}

	return c.startTimerLocked(resumeFrom)
}

// startTimerLocked starts a countdown for the current station. The hooks
// close over the station index so a tick from a stopped timer that lost the
// race with an advance is recognized as stale and ignored.
func (c *Controller) startTimerLocked(resumeFrom *time.Time) error {
	c.stopTimerLocked()

	station := c.currentStation
	t := NewStationTimer(c.cfg.StationDuration, TimerHooks{
		OnTick: func(remaining int) {
			c.handleTick(station, remaining)
		},
		OnExpire: func() {
			c.handleExpire(station)
		},
		OnPersist: func(time.Time) {
			c.handleTimerPersist(station)
		},
	})

	if err := t.Start(resumeFrom); err != nil {
		return err
	}
	c.timer = t
	c.timeLeft = t.Remaining()
	return nil
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) handleTick(station, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive || c.currentStation != station {
		return
	}
	c.timeLeft = remaining
	c.publishLocked(Event{Type: EventTick, Station: station, Remaining: remaining})
}

func (c *Controller) handleExpire(station int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive || c.currentStation != station {
		return
	}
	c.timeLeft = 0
	c.publishLocked(Event{Type: EventExpired, Station: station})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.advanceLocked(ctx, true, true); err != nil && !errors.Is(err, ErrTestCompleted) {
		c.log.Error().Err(err).Int("station", station).Msg("Timed auto-advance failed")
	}
}

func (c *Controller) handleTimerPersist(station int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive || c.currentStation != station {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.persistLocked(ctx)
}

func (c *Controller) enterCompletedLocked(score *float64) {
	c.phase = PhaseCompleted
	c.score = score
	c.timeLeft = 0
	c.stopTimerLocked()
	c.stopHeartbeatLocked()
	c.publishLocked(Event{Type: EventCompleted, Score: score})
	if c.onDone != nil {
		c.onDone()
	}
}

// persistLocked writes the session snapshot, recomputing the remaining time
// from the timer epoch first so a stale cached value never overwrites a
// fresher one.
func (c *Controller) persistLocked(ctx context.Context) {
	if c.phase != PhaseActive {
		return
	}

	var epoch *time.Time
	if c.timer != nil && c.timer.Running() {
		epoch = c.timer.Epoch()
		c.timeLeft = c.timer.Remaining()
	}

	sess := &model.Session{
		Identity:        c.identity,
		Credentials:     c.creds,
		CurrentStation:  c.currentStation,
		TotalStations:   c.totalStations,
		TimerEpoch:      epoch,
		TimeLeftSeconds: c.timeLeft,
		QuestionStates:  c.tracker.Tags(),
		LastAnswered:    c.tracker.LastAnswered(),
		SavedAnswers:    c.savedAnswers,
		OutOfAppSeconds: c.outOfApp,
		PageHiddenAt:    c.pageHiddenAt,
	}

	if err := c.store.Save(ctx, c.identity, c.creds.Test, sess); err != nil {
		c.log.Warn().Err(err).Msg("Session persist failed")
	}
}

func (c *Controller) startHeartbeatLocked() {
	if c.hbStop != nil || c.cfg.HeartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.hbStop = stop

	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.phase == PhaseActive {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					c.persistLocked(ctx)
					cancel()
				}
				c.mu.Unlock()
			}
		}
	}()
}

func (c *Controller) stopHeartbeatLocked() {
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}

func (c *Controller) publishLocked(ev Event) {
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Controller) requireActiveLocked() error {
	switch c.phase {
	case PhaseActive:
	case PhaseCompleted:
		return ErrTestCompleted
	default:
		return ErrNotActive
	}
	if c.loading {
		return ErrSessionBusy
	}
	return nil
}

func (c *Controller) accumulateHiddenLocked() {
	if c.pageHiddenAt != nil {
		c.outOfApp += int(time.Since(*c.pageHiddenAt) / time.Second)
		c.pageHiddenAt = nil
	}
}

func (c *Controller) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Phase:           c.phase,
		Identity:        c.identity,
		Credentials:     c.creds,
		CurrentStation:  c.currentStation,
		TotalStations:   c.totalStations,
		TimeLeftSeconds: c.timeLeft,
		Questions:       c.questions,
		QuestionStates:  c.tracker.Tags(),
		Counts:          c.tracker.Counts(),
		Answers:         copyAnswers(c.savedAnswers[c.currentStation]),
		OutOfAppSeconds: c.outOfApp,
		Score:           c.score,
	}
	if c.timer != nil && c.timer.Running() {
		snap.TimeLeftSeconds = c.timer.Remaining()
	}
	return snap
}

func copyAnswers(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
