package model

import (
	"time"
)

// Credentials identifies a test-taker for leaderboard and grading purposes.
// They are display data, not an authentication credential.
type Credentials struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Test  string `json:"test"`
}

// Session is the persisted snapshot of one in-progress test attempt, keyed
// by (identity, test). CurrentStation 0 means credentials were entered but
// no station is active yet; 1..TotalStations is an active station.
type Session struct {
	Identity       string      `json:"identity"`
	Credentials    Credentials `json:"credentials"`
	CurrentStation int         `json:"current_station"`

	// TotalStations is discovered by the station probe and re-verified on
	// restore; it is not authoritative until probed.
	TotalStations int `json:"total_stations"`

	// TimerEpoch is the wall-clock moment the current station's countdown
	// began. Nil forces a fresh full-duration countdown on the next station
	// load. The epoch, not the cached remaining value, is the durable
	// source of truth.
	TimerEpoch *time.Time `json:"timer_epoch,omitempty"`

	// TimeLeftSeconds is a derived cache, recomputed from TimerEpoch on
	// resume. Persisted only for display continuity.
	TimeLeftSeconds int `json:"time_left_seconds"`

	// QuestionStates maps question ordinal (1-based) to a composite state
	// tag such as "answered", "skipped-marked" or
	// "answered-skipped-marked". Tags are the serialized form of the 3-bit
	// flag set used in memory.
	QuestionStates map[int]string `json:"question_states,omitempty"`

	// LastAnswered is the high-water-mark ordinal used to retroactively
	// infer skips. Monotonic within a station, reset on station change.
	LastAnswered int `json:"last_answered"`

	// SavedAnswers maps station index to form-field name ("q1".."qN") to
	// the entered answer value.
	SavedAnswers map[int]map[string]string `json:"saved_answers,omitempty"`

	// OutOfAppSeconds accumulates time the page was hidden while a station
	// was active. Cumulative for the whole test, sent with the final
	// submission only.
	OutOfAppSeconds int        `json:"out_of_app_seconds"`
	PageHiddenAt    *time.Time `json:"page_hidden_at,omitempty"`

	// SavedAt drives the 24h staleness eviction on load.
	SavedAt time.Time `json:"saved_at"`
}

// StationAnswers returns the saved answers for the given station, never nil.
func (s *Session) StationAnswers(station int) map[string]string {
	if s.SavedAnswers == nil {
		return map[string]string{}
	}
	if m, ok := s.SavedAnswers[station]; ok {
		return m
	}
	return map[string]string{}
}
