package session

import (
	"strings"
)

// QuestionState is the 3-bit flag set tracked per question ordinal. The
// composite string tags ("answered-skipped-marked" etc.) exist only at the
// persistence and API boundary; all logic works on the bits.
type QuestionState uint8

const (
	StateAnswered QuestionState = 1 << iota
	StateSkipped
	StateMarked
)

func (s QuestionState) Answered() bool { return s&StateAnswered != 0 }
func (s QuestionState) Skipped() bool  { return s&StateSkipped != 0 }
func (s QuestionState) Marked() bool   { return s&StateMarked != 0 }

// Tag serializes the flag set as a composite tag. Answered and skipped can
// both be set (a question once skipped then answered keeps both bits; skip
// detection is retroactive and never undone); display precedence is the
// client's concern.
func (s QuestionState) Tag() string {
	if s == 0 {
		return "default"
	}
	parts := make([]string, 0, 3)
	if s.Answered() {
		parts = append(parts, "answered")
	}
	if s.Skipped() {
		parts = append(parts, "skipped")
	}
	if s.Marked() {
		parts = append(parts, "marked")
	}
	return strings.Join(parts, "-")
}

// ParseTag is the inverse of Tag. Unknown tokens are ignored so a corrupt
// tag degrades to fewer flags instead of failing a whole restore.
func ParseTag(tag string) QuestionState {
	var s QuestionState
	for _, part := range strings.Split(tag, "-") {
		switch part {
		case "answered":
			s |= StateAnswered
		case "skipped":
			s |= StateSkipped
		case "marked":
			s |= StateMarked
		}
	}
	return s
}

// Counts are the derived aggregates shown on navigation renders. They are
// recomputed from the full state mapping, never stored.
type Counts struct {
	Answered int `json:"answered"`
	Skipped  int `json:"skipped"`
	Marked   int `json:"marked"`
	Tracked  int `json:"tracked"`
}

// Tracker owns the per-question flag states for the current station.
type Tracker struct {
	states       map[int]QuestionState
	lastAnswered int
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[int]QuestionState)}
}

// TrackerFromTags rebuilds a Tracker from persisted composite tags.
func TrackerFromTags(tags map[int]string, lastAnswered int) *Tracker {
	t := NewTracker()
	for ordinal, tag := range tags {
		if state := ParseTag(tag); state != 0 {
			t.states[ordinal] = state
		}
	}
	t.lastAnswered = lastAnswered
	return t
}

// SetAnswered sets or clears the answered bit. Clearing never touches the
// marked or skipped bits. Answering raises the last-answered high-water mark
// used for retroactive skip detection.
func (t *Tracker) SetAnswered(ordinal int, hasValue bool) {
	if ordinal < 1 {
		return
	}
	state := t.states[ordinal]
	if hasValue {
		state |= StateAnswered
		if ordinal > t.lastAnswered {
			t.lastAnswered = ordinal
		}
	} else {
		state &^= StateAnswered
	}
	t.setState(ordinal, state)
}

// DetectSkipped marks as skipped every ordinal between the last answered
// question and the visited one (exclusive) that is neither answered nor
// already skipped. This models the user scrolling past questions without
// answering. Existing answered/marked bits are always preserved.
func (t *Tracker) DetectSkipped(visited int) {
	for ordinal := t.lastAnswered + 1; ordinal < visited; ordinal++ {
		state := t.states[ordinal]
		if state&(StateAnswered|StateSkipped) == 0 {
			t.setState(ordinal, state|StateSkipped)
		}
	}
}

// ToggleMarked flips only the marked bit.
func (t *Tracker) ToggleMarked(ordinal int) {
	if ordinal < 1 {
		return
	}
	t.setState(ordinal, t.states[ordinal]^StateMarked)
}

// State returns the current flags for an ordinal.
func (t *Tracker) State(ordinal int) QuestionState {
	return t.states[ordinal]
}

// LastAnswered returns the high-water mark ordinal.
func (t *Tracker) LastAnswered() int {
	return t.lastAnswered
}

// Reset discards all per-question state on a station change.
func (t *Tracker) Reset() {
	t.states = make(map[int]QuestionState)
	t.lastAnswered = 0
}

// Counts recomputes the aggregates from the full mapping.
func (t *Tracker) Counts() Counts {
	var c Counts
	for _, state := range t.states {
		if state == 0 {
			continue
		}
		c.Tracked++
		if state.Answered() {
			c.Answered++
		}
		if state.Skipped() {
			c.Skipped++
		}
		if state.Marked() {
			c.Marked++
		}
	}
	return c
}

// Tags serializes all non-default states for persistence.
func (t *Tracker) Tags() map[int]string {
	tags := make(map[int]string, len(t.states))
	for ordinal, state := range t.states {
		if state != 0 {
			tags[ordinal] = state.Tag()
		}
	}
	return tags
}

func (t *Tracker) setState(ordinal int, state QuestionState) {
	if state == 0 {
		delete(t.states, ordinal)
		return
	}
	t.states[ordinal] = state
}
