package session

import (
	"testing"
)

func TestSkipDetectionMarksPassedQuestions(t *testing.T) {
	tr := NewTracker()

	tr.SetAnswered(1, true)
	tr.DetectSkipped(4)

	if !tr.State(2).Skipped() || !tr.State(3).Skipped() {
		t.Fatalf("expected q2 and q3 skipped, got q2=%q q3=%q", tr.State(2).Tag(), tr.State(3).Tag())
	}
	if tr.State(1).Skipped() {
		t.Fatalf("answered question must not be marked skipped")
	}
	if tr.State(4) != 0 {
		t.Fatalf("the visited question itself must stay default, got %q", tr.State(4).Tag())
	}
}

func TestAnsweringSkippedQuestionKeepsSkipBit(t *testing.T) {
	tr := NewTracker()

	tr.SetAnswered(1, true)
	tr.DetectSkipped(3)
	tr.SetAnswered(2, true)

	state := tr.State(2)
	if !state.Answered() || !state.Skipped() {
		t.Fatalf("expected answered-skipped, got %q", state.Tag())
	}
	if state.Tag() != "answered-skipped" {
		t.Fatalf("unexpected tag %q", state.Tag())
	}
}

func TestClearingAnswerKeepsOtherFlags(t *testing.T) {
	tr := NewTracker()

	tr.SetAnswered(2, true)
	tr.ToggleMarked(2)
	tr.SetAnswered(2, false)

	state := tr.State(2)
	if state.Answered() {
		t.Fatalf("answered bit should be cleared")
	}
	if !state.Marked() {
		t.Fatalf("clearing the answer must not clear the mark")
	}
}

func TestToggleMarkedFlipsOnlyMarkBit(t *testing.T) {
	tr := NewTracker()

	tr.ToggleMarked(5)
	if tr.State(5).Tag() != "marked" {
		t.Fatalf("expected marked, got %q", tr.State(5).Tag())
	}

	tr.ToggleMarked(5)
	if tr.State(5) != 0 {
		t.Fatalf("expected default after second toggle, got %q", tr.State(5).Tag())
	}
}

func TestLastAnsweredIsMonotonic(t *testing.T) {
	tr := NewTracker()

	tr.SetAnswered(3, true)
	tr.SetAnswered(1, true)
	if tr.LastAnswered() != 3 {
		t.Fatalf("expected high-water mark 3, got %d", tr.LastAnswered())
	}

	// Clearing an answer never lowers the mark; skip inference stays
	// anchored at the furthest answer ever given.
	tr.SetAnswered(3, false)
	if tr.LastAnswered() != 3 {
		t.Fatalf("expected high-water mark to stay 3, got %d", tr.LastAnswered())
	}
}

func TestCountsDerivedFromStates(t *testing.T) {
	tr := NewTracker()

	tr.SetAnswered(1, true)
	tr.DetectSkipped(4) // q2, q3 skipped
	tr.ToggleMarked(3)
	tr.SetAnswered(4, true)

	counts := tr.Counts()
	if counts.Answered != 2 {
		t.Fatalf("expected 2 answered, got %d", counts.Answered)
	}
	if counts.Skipped != 2 {
		t.Fatalf("expected 2 skipped, got %d", counts.Skipped)
	}
	if counts.Marked != 1 {
		t.Fatalf("expected 1 marked, got %d", counts.Marked)
	}
}

func TestTagRoundTrip(t *testing.T) {
	for _, tag := range []string{"answered", "skipped", "marked", "answered-skipped", "skipped-marked", "answered-skipped-marked"} {
		if got := ParseTag(tag).Tag(); got != tag {
			t.Fatalf("round trip of %q gave %q", tag, got)
		}
	}
	if ParseTag("default") != 0 {
		t.Fatalf("default must parse to the zero state")
	}
	if ParseTag("answered-bogus").Tag() != "answered" {
		t.Fatalf("unknown tokens must be ignored")
	}
}

func TestTrackerFromTagsRestoresState(t *testing.T) {
	original := NewTracker()
	original.SetAnswered(1, true)
	original.DetectSkipped(3)
	original.ToggleMarked(2)

	restored := TrackerFromTags(original.Tags(), original.LastAnswered())

	if restored.State(2).Tag() != original.State(2).Tag() {
		t.Fatalf("q2 state mismatch: %q vs %q", restored.State(2).Tag(), original.State(2).Tag())
	}
	if restored.LastAnswered() != 1 {
		t.Fatalf("expected last answered 1, got %d", restored.LastAnswered())
	}

	// Skip inference must continue from the restored high-water mark.
	restored.DetectSkipped(5)
	if !restored.State(4).Skipped() {
		t.Fatalf("expected q4 skipped after restored visit")
	}
}

func TestResetDiscardsStationState(t *testing.T) {
	tr := NewTracker()
	tr.SetAnswered(2, true)
	tr.ToggleMarked(1)

	tr.Reset()

	if len(tr.Tags()) != 0 {
		t.Fatalf("expected no states after reset, got %v", tr.Tags())
	}
	if tr.LastAnswered() != 0 {
		t.Fatalf("expected last answered reset, got %d", tr.LastAnswered())
	}
}
