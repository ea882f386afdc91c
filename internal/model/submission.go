package model

import (
	"time"
)

// StationSubmission is one station's worth of answers headed for the
// grading endpoint.
type StationSubmission struct {
	Identity    string            `json:"identity"`
	Credentials Credentials       `json:"credentials"`
	Station     int               `json:"station"`
	Final       bool              `json:"final"`
	OOBSeconds  int               `json:"oob_seconds"`
	Answers     map[string]string `json:"answers"`
}

// SubmissionResult is the grading endpoint's reply: {"status":"saved"} for
// non-final posts, {"score": n} for final ones.
type SubmissionResult struct {
	Status string   `json:"status,omitempty"`
	Score  *float64 `json:"score,omitempty"`
}

// FinalResult is a journal row recording a graded final submission.
type FinalResult struct {
	ID          int64     `json:"id"`
	Identity    string    `json:"identity"`
	TestName    string    `json:"test_name"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Stations    int       `json:"stations"`
	Score       float64   `json:"score"`
	OOBSeconds  int       `json:"oob_seconds"`
	SubmittedAt time.Time `json:"submitted_at"`
}
