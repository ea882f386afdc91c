package model

// BeginRequest starts (or resumes) a test attempt.
type BeginRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Test  string `json:"test" binding:"required"`
}

// AnswerRequest records one answer. An empty value clears the slot.
type AnswerRequest struct {
	Question int    `json:"question" binding:"required,min=1"`
	Value    string `json:"value"`
}

// MarkRequest toggles the marked-for-review flag on one question.
type MarkRequest struct {
	Question int `json:"question" binding:"required,min=1"`
}

// VisitRequest reports the furthest question the user has reached.
type VisitRequest struct {
	Question int `json:"question" binding:"required,min=1"`
}

// VisibilityRequest reports a page visibility change. Hidden is a pointer so
// an explicit false survives validation.
type VisibilityRequest struct {
	Hidden *bool `json:"hidden" binding:"required"`
}

// AdvanceRequest moves to the next station (or submits the final one).
type AdvanceRequest struct {
	Confirmed bool `json:"confirmed"`
}
