package syncer

import (
	"fmt"
	"strings"
	"time"
)

// Issue is one field-level validation failure, surfaced to the client in the
// 400 response body.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every issue found in a request. Requests that
// fail validation never reach the data layer.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", issue.Field, issue.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Issues = append(e.Issues, Issue{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

// validateLimit normalizes an optional page limit into [1, MaxLimit].
// Zero means "server-chosen" and maps to DefaultLimit.
func validateLimit(limit int, ve *ValidationError) int {
	if limit == 0 {
		return DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		ve.add("limit", fmt.Sprintf("must be between 1 and %d", MaxLimit))
		return DefaultLimit
	}
	return limit
}

// ValidateBaseline checks the baseline query shape.
func ValidateBaseline(scope string, q BaselineQuery) (Scope, BaselineQuery, error) {
	ve := &ValidationError{}
	s, err := ParseScope(scope)
	if err != nil {
		ve.add("scope", err.Error())
	}
	q.Limit = validateLimit(q.Limit, ve)
	if q.Cursor != "" {
		if _, err := decodeCursor(q.Cursor); err != nil {
			ve.add("cursor", err.Error())
		}
	}
	return s, q, ve.orNil()
}

// ValidatePull checks the pull request shape.
func ValidatePull(req PullRequest) (Scope, PullRequest, error) {
	ve := &ValidationError{}
	s, err := ParseScope(req.Scope)
	if err != nil {
		ve.add("scope", err.Error())
	}
	if req.LastServerSeq < 0 {
		ve.add("lastServerSeq", "must not be negative")
	}
	req.Limit = validateLimit(req.Limit, ve)
	return s, req, ve.orNil()
}

// ValidatePush checks the push request shape, including every event in the
// batch, and parses occurrence timestamps. Runs before any transaction.
func ValidatePush(req PushRequest) (Scope, []time.Time, error) {
	ve := &ValidationError{}
	s, err := ParseScope(req.Scope)
	if err != nil {
		ve.add("scope", err.Error())
	}
	if req.ClientID == "" {
		ve.add("clientId", "must not be empty")
	}
	if req.ClientMutationID == "" {
		ve.add("clientMutationId", "must not be empty")
	}
	if req.LastKnownServerSeq < 0 {
		ve.add("lastKnownServerSeq", "must not be negative")
	}
	if len(req.Events) == 0 {
		ve.add("events", "must contain at least one event")
	}
	if len(req.Events) > MaxBatchSize {
		ve.add("events", fmt.Sprintf("batch exceeds %d events", MaxBatchSize))
		return s, nil, ve.orNil()
	}

	occurred := make([]time.Time, len(req.Events))
	for i, ev := range req.Events {
		field := fmt.Sprintf("events[%d]", i)
		if ev.Type == "" {
			ve.add(field+".type", "must not be empty")
		}
		if !isJSONObject(ev.Payload) {
			ve.add(field+".payload", "must be a JSON object")
		}
		t, err := time.Parse(time.RFC3339, ev.OccurredAt)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, ev.OccurredAt)
		}
		if err != nil {
			ve.add(field+".occurredAt", "must be an RFC 3339 timestamp")
			continue
		}
		occurred[i] = t
	}

	return s, occurred, ve.orNil()
}

// isJSONObject reports whether raw starts with '{' after leading whitespace.
// Payload contents are opaque here; only the outer shape is enforced.
func isJSONObject(raw []byte) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
