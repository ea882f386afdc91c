package model

import (
	"encoding/json"
	"fmt"
)

// Question is one entry of a station's question list as served by the
// spreadsheet endpoint. Options is empty for free-response questions; the
// wire format encodes those either as an empty array or the literal string
// "frq".
type Question struct {
	Question string
	Options  []string
}

// FRQ reports whether the question takes free-form text instead of a choice.
func (q *Question) FRQ() bool {
	return len(q.Options) == 0
}

type questionWire struct {
	Question string          `json:"question"`
	Options  json.RawMessage `json:"options"`
}

// UnmarshalJSON accepts both option encodings used upstream: a string array
// for multiple choice and the string "frq" (or an empty array) for
// free-response.
func (q *Question) UnmarshalJSON(data []byte) error {
	var wire questionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	q.Question = wire.Question
	q.Options = nil

	if len(wire.Options) == 0 {
		return nil
	}

	switch wire.Options[0] {
	case '[':
		var opts []string
		if err := json.Unmarshal(wire.Options, &opts); err != nil {
			return err
		}
		if len(opts) > 0 {
			q.Options = opts
		}
	case '"':
		var tag string
		if err := json.Unmarshal(wire.Options, &tag); err != nil {
			return err
		}
		if tag != "frq" {
			return fmt.Errorf("unknown options tag %q", tag)
		}
	default:
		return fmt.Errorf("unexpected options encoding: %s", wire.Options)
	}

	return nil
}

// MarshalJSON mirrors UnmarshalJSON: free-response questions serialize their
// options as the literal "frq" so the browser client sees the upstream shape.
func (q Question) MarshalJSON() ([]byte, error) {
	if q.FRQ() {
		return json.Marshal(struct {
			Question string `json:"question"`
			Options  string `json:"options"`
		}{q.Question, "frq"})
	}
	return json.Marshal(struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}{q.Question, q.Options})
}
