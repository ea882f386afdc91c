package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/model"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]*model.Session
	completed map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  make(map[string]*model.Session),
		completed: make(map[string]bool),
	}
}

func storeKey(identity, testName string) string { return identity + "|" + testName }

func (s *fakeStore) Save(_ context.Context, identity, testName string, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.SavedAt = time.Now()
	s.sessions[storeKey(identity, testName)] = sess
	return nil
}

func (s *fakeStore) Load(_ context.Context, identity, testName string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[storeKey(identity, testName)], nil
}

func (s *fakeStore) Clear(_ context.Context, identity, testName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, storeKey(identity, testName))
	return nil
}

func (s *fakeStore) IsCompleted(_ context.Context, identity, testName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[storeKey(identity, testName)], nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, identity, testName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[storeKey(identity, testName)] = true
	return nil
}

func (s *fakeStore) hasSession(identity, testName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[storeKey(identity, testName)] != nil
}

type fakeSource struct {
	total    int
	fetchErr error
}

func (s *fakeSource) FetchStation(_ context.Context, _ string, station int) ([]model.Question, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if station < 1 || station > s.total {
		return []model.Question{}, nil
	}
	return []model.Question{
		{Question: "first question"},
		{Question: "second question", Options: []string{"a", "b"}},
		{Question: "third question"},
	}, nil
}

func (s *fakeSource) CountStations(_ context.Context, _ string) (int, error) {
	return s.total, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	enqueued []*model.StationSubmission
	finals   []*model.StationSubmission
	result   *model.SubmissionResult
	finalErr error
}

func (s *fakeSubmitter) EnqueueStation(_ context.Context, sub *model.StationSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, sub)
	return nil
}

func (s *fakeSubmitter) SubmitFinal(_ context.Context, sub *model.StationSubmission) (*model.SubmissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, sub)
	if s.finalErr != nil {
		return nil, s.finalErr
	}
	if s.result != nil {
		return s.result, nil
	}
	score := 100.0
	return &model.SubmissionResult{Score: &score}, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	records []*model.FinalResult
}

func (j *fakeJournal) RecordFinal(_ context.Context, res *model.FinalResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, res)
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────

var testCreds = model.Credentials{Name: "Ada", Email: "ada@example.com", Test: "physics"}

func newTestController(store Store, source QuestionSource, submitter Submitter, journal Journal) *Controller {
	return NewController("203.0.113.7", testCreds, store, source, submitter, journal, Config{
		StationDuration: 2 * time.Minute,
		// Heartbeat disabled; persistence points are explicit in tests.
		HeartbeatInterval: 0,
	}, zerolog.Nop())
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestBeginFreshStartsAtStationOne(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ctrl := newTestController(store, &fakeSource{total: 3}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	snap, err := ctrl.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if snap.Phase != PhaseActive {
		t.Fatalf("expected active phase, got %s", snap.Phase)
	}
	if snap.CurrentStation != 1 || snap.TotalStations != 3 {
		t.Fatalf("expected station 1/3, got %d/%d", snap.CurrentStation, snap.TotalStations)
	}
	if snap.TimeLeftSeconds < 118 || snap.TimeLeftSeconds > 120 {
		t.Fatalf("expected a full countdown, got %d", snap.TimeLeftSeconds)
	}
	if len(snap.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(snap.Questions))
	}
	if !store.hasSession("203.0.113.7", "physics") {
		t.Fatalf("begin must persist the fresh session")
	}
}

func TestBeginBlockedByCompletionMarker(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.MarkCompleted(ctx, "203.0.113.7", "physics")
	// A stale leftover snapshot next to the marker must be dropped.
	store.Save(ctx, "203.0.113.7", "physics", &model.Session{CurrentStation: 2})

	ctrl := newTestController(store, &fakeSource{total: 3}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); !errors.Is(err, ErrTestCompleted) {
		t.Fatalf("expected ErrTestCompleted, got %v", err)
	}
	if store.hasSession("203.0.113.7", "physics") {
		t.Fatalf("leftover session must be cleared for a completed test")
	}
}

func TestBeginFailsWithoutStations(t *testing.T) {
	ctx := context.Background()
	ctrl := newTestController(newFakeStore(), &fakeSource{total: 0}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); !errors.Is(err, ErrNoStations) {
		t.Fatalf("expected ErrNoStations, got %v", err)
	}
}

func TestManualAdvanceRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	ctrl := newTestController(newFakeStore(), &fakeSource{total: 3}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := ctrl.Advance(ctx, false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if snap := ctrl.Snapshot(); snap.CurrentStation != 1 {
		t.Fatalf("unconfirmed advance must not move, got station %d", snap.CurrentStation)
	}
}

func TestConfirmedAdvanceSubmitsAndResets(t *testing.T) {
	ctx := context.Background()
	submitter := &fakeSubmitter{}
	ctrl := newTestController(newFakeStore(), &fakeSource{total: 3}, submitter, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := ctrl.SetAnswer(ctx, 1, "42"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if err := ctrl.ToggleMark(ctx, 2); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	snap, err := ctrl.Advance(ctx, true)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	if snap.CurrentStation != 2 {
		t.Fatalf("expected station 2, got %d", snap.CurrentStation)
	}
	if snap.Counts.Tracked != 0 {
		t.Fatalf("question flags must reset on station change, got %+v", snap.Counts)
	}
	if len(snap.Answers) != 0 {
		t.Fatalf("station 2 must start with no answers, got %v", snap.Answers)
	}

	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	if len(submitter.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued submission, got %d", len(submitter.enqueued))
	}
	sub := submitter.enqueued[0]
	if sub.Station != 1 || sub.Final {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if sub.Answers["q1"] != "42" {
		t.Fatalf("expected q1=42 in submission, got %v", sub.Answers)
	}
}

func TestFinalAdvanceCompletesAndJournals(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	score := 87.5
	submitter := &fakeSubmitter{result: &model.SubmissionResult{Score: &score}}
	journal := &fakeJournal{}
	ctrl := newTestController(store, &fakeSource{total: 2}, submitter, journal)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := ctrl.Advance(ctx, true); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	snap, err := ctrl.Advance(ctx, true)
	if err != nil {
		t.Fatalf("final advance failed: %v", err)
	}

	if snap.Phase != PhaseCompleted {
		t.Fatalf("expected completed phase, got %s", snap.Phase)
	}
	if snap.Score == nil || *snap.Score != score {
		t.Fatalf("expected score %.1f, got %v", score, snap.Score)
	}

	if done, _ := store.IsCompleted(ctx, "203.0.113.7", "physics"); !done {
		t.Fatalf("completion marker must be set")
	}
	if store.hasSession("203.0.113.7", "physics") {
		t.Fatalf("session snapshot must be cleared after completion")
	}

	submitter.mu.Lock()
	if len(submitter.finals) != 1 || !submitter.finals[0].Final {
		t.Fatalf("expected exactly one final submission, got %+v", submitter.finals)
	}
	submitter.mu.Unlock()

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.records) != 1 || journal.records[0].Score != score {
		t.Fatalf("expected journaled score %.1f, got %+v", score, journal.records)
	}
}

func TestFinalSubmissionFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	submitter := &fakeSubmitter{finalErr: errors.New("upstream down")}
	ctrl := newTestController(store, &fakeSource{total: 1}, submitter, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	_, err := ctrl.Advance(ctx, true)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}

	if snap := ctrl.Snapshot(); snap.Phase != PhaseActive {
		t.Fatalf("a failed final must keep the attempt active, got %s", snap.Phase)
	}
	if !store.hasSession("203.0.113.7", "physics") {
		t.Fatalf("session must survive a failed final submission")
	}
	if done, _ := store.IsCompleted(ctx, "203.0.113.7", "physics"); done {
		t.Fatalf("completion marker must not be set on failure")
	}
}

func TestCompletionGateRecheckedOnAdvance(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ctrl := newTestController(store, &fakeSource{total: 3}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	// Another attempt under the same identity finished first.
	store.MarkCompleted(ctx, "203.0.113.7", "physics")

	if _, err := ctrl.Advance(ctx, true); !errors.Is(err, ErrTestCompleted) {
		t.Fatalf("expected ErrTestCompleted, got %v", err)
	}
	if snap := ctrl.Snapshot(); snap.Phase != PhaseCompleted {
		t.Fatalf("controller must enter terminal phase, got %s", snap.Phase)
	}
}

func TestResumeRestoresProgressAndTimer(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	epoch := time.Now().Add(-30 * time.Second)
	store.Save(ctx, "203.0.113.7", "physics", &model.Session{
		Identity:       "203.0.113.7",
		Credentials:    testCreds,
		CurrentStation: 2,
		TotalStations:  3,
		TimerEpoch:     &epoch,
		QuestionStates: map[int]string{1: "answered", 2: "skipped"},
		LastAnswered:   1,
		SavedAnswers: map[int]map[string]string{
			1: {"q1": "a"},
			2: {"q1": "b"},
		},
		OutOfAppSeconds: 7,
	})

	ctrl := newTestController(store, &fakeSource{total: 3}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	snap, err := ctrl.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if snap.CurrentStation != 2 {
		t.Fatalf("expected resumed station 2, got %d", snap.CurrentStation)
	}
	if snap.TimeLeftSeconds < 85 || snap.TimeLeftSeconds > 91 {
		t.Fatalf("expected ~90s left from the persisted epoch, got %d", snap.TimeLeftSeconds)
	}
	if snap.Answers["q1"] != "b" {
		t.Fatalf("expected station 2 answers restored, got %v", snap.Answers)
	}
	if snap.QuestionStates[2] != "skipped" {
		t.Fatalf("expected restored skip flag, got %v", snap.QuestionStates)
	}
	if snap.OutOfAppSeconds != 7 {
		t.Fatalf("expected out-of-app seconds restored, got %d", snap.OutOfAppSeconds)
	}
}

func TestResumeWithExpiredTimerAutoAdvances(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	epoch := time.Now().Add(-10 * time.Minute)
	store.Save(ctx, "203.0.113.7", "physics", &model.Session{
		Identity:       "203.0.113.7",
		Credentials:    testCreds,
		CurrentStation: 1,
		TotalStations:  2,
		TimerEpoch:     &epoch,
		SavedAnswers:   map[int]map[string]string{1: {"q1": "kept"}},
	})

	submitter := &fakeSubmitter{}
	ctrl := newTestController(store, &fakeSource{total: 2}, submitter, nil)
	defer ctrl.Close(ctx)

	snap, err := ctrl.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if snap.CurrentStation != 2 {
		t.Fatalf("expired station must be auto-advanced, got station %d", snap.CurrentStation)
	}
	if snap.TimeLeftSeconds < 118 {
		t.Fatalf("next station must get a fresh budget, got %d", snap.TimeLeftSeconds)
	}

	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	if len(submitter.enqueued) != 1 || submitter.enqueued[0].Answers["q1"] != "kept" {
		t.Fatalf("the expired station's answers must be submitted, got %+v", submitter.enqueued)
	}
}

func TestResumeExpiredFinalStationCompletes(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	epoch := time.Now().Add(-10 * time.Minute)
	store.Save(ctx, "203.0.113.7", "physics", &model.Session{
		Identity:       "203.0.113.7",
		Credentials:    testCreds,
		CurrentStation: 1,
		TotalStations:  1,
		TimerEpoch:     &epoch,
	})

	ctrl := newTestController(store, &fakeSource{total: 1}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	snap, err := ctrl.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if snap.Phase != PhaseCompleted {
		t.Fatalf("expired last station must complete the test, got %s", snap.Phase)
	}
	if done, _ := store.IsCompleted(ctx, "203.0.113.7", "physics"); !done {
		t.Fatalf("completion marker must be set")
	}
}

func TestAnswerFlagsFollowSavedValues(t *testing.T) {
	ctx := context.Background()
	ctrl := newTestController(newFakeStore(), &fakeSource{total: 1}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := ctrl.SetAnswer(ctx, 1, "answer"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.Counts.Answered != 1 || snap.Answers["q1"] != "answer" {
		t.Fatalf("expected saved answer with flag, got %+v", snap)
	}

	if err := ctrl.SetAnswer(ctx, 1, ""); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.Counts.Answered != 0 || len(snap.Answers) != 0 {
		t.Fatalf("clearing the value must clear the flag, got %+v", snap)
	}

	if err := ctrl.SetAnswer(ctx, 9, "x"); !errors.Is(err, ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}
}

func TestVisibilityAccumulatesOutOfAppTime(t *testing.T) {
	ctx := context.Background()
	ctrl := newTestController(newFakeStore(), &fakeSource{total: 1}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := ctrl.SetHidden(ctx, true); err != nil {
		t.Fatalf("hide failed: %v", err)
	}
	// Rewind the hidden timestamp instead of sleeping.
	ctrl.mu.Lock()
	past := time.Now().Add(-4 * time.Second)
	ctrl.pageHiddenAt = &past
	ctrl.mu.Unlock()

	if err := ctrl.SetHidden(ctx, false); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.OutOfAppSeconds < 3 || snap.OutOfAppSeconds > 5 {
		t.Fatalf("expected ~4s out of app, got %d", snap.OutOfAppSeconds)
	}
}

func TestSubscribeReceivesAdvanceEvents(t *testing.T) {
	ctx := context.Background()
	ctrl := newTestController(newFakeStore(), &fakeSource{total: 2}, &fakeSubmitter{}, nil)
	defer ctrl.Close(ctx)

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	events, cancel := ctrl.Subscribe()
	defer cancel()

	if _, err := ctrl.Advance(ctx, true); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventAdvanced {
				if ev.Station != 2 {
					t.Fatalf("expected advance to station 2, got %d", ev.Station)
				}
				return
			}
		case <-deadline:
			t.Fatalf("never received the advanced event")
		}
	}
}

func TestManagerReusesLiveController(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	manager := NewManager(store, &fakeSource{total: 2}, &fakeSubmitter{}, nil, Config{
		StationDuration: 2 * time.Minute,
	}, zerolog.Nop())
	defer manager.Shutdown(ctx)

	first, err := manager.Begin(ctx, "203.0.113.7", testCreds)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	ctrl, ok := manager.Get("203.0.113.7", "physics")
	if !ok {
		t.Fatalf("expected live controller")
	}
	if err := ctrl.SetAnswer(ctx, 1, "x"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	// A reload re-posts credentials; the live attempt must be reused, not
	// restarted.
	second, err := manager.Begin(ctx, "203.0.113.7", testCreds)
	if err != nil {
		t.Fatalf("second begin failed: %v", err)
	}
	if second.CurrentStation != first.CurrentStation || second.Answers["q1"] != "x" {
		t.Fatalf("expected the same live attempt, got %+v", second)
	}
}

func TestManagerDropsControllerOnCompletion(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(newFakeStore(), &fakeSource{total: 1}, &fakeSubmitter{}, nil, Config{
		StationDuration: 2 * time.Minute,
	}, zerolog.Nop())
	defer manager.Shutdown(ctx)

	if _, err := manager.Begin(ctx, "203.0.113.7", testCreds); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	ctrl, ok := manager.Get("203.0.113.7", "physics")
	if !ok {
		t.Fatalf("expected live controller")
	}

	if _, err := ctrl.Advance(ctx, true); err != nil {
		t.Fatalf("final advance failed: %v", err)
	}

	if _, ok := manager.Get("203.0.113.7", "physics"); ok {
		t.Fatalf("completed controller must be dropped from the manager")
	}
}
