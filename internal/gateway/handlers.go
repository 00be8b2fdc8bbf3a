package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/buehnenplan/syncd/internal/auth"
	"github.com/buehnenplan/syncd/internal/live"
	"github.com/buehnenplan/syncd/internal/syncer"
)

// Request body ceilings. Pull bodies are tiny; push bodies carry up to 1000
// events with payloads.
const (
	maxPullBody = 1 << 20
	maxPushBody = 8 << 20
)

// syncStatusHeader mirrors the push result status for clients that want to
// branch without parsing the body.
const syncStatusHeader = "X-Sync-Status"

// handleInitial serves GET /api/sync/initial: the baseline snapshot used for
// bootstrap and resynchronization.
func (s *Server) handleInitial(w http.ResponseWriter, r *http.Request) {
	// Shape validation runs before auth so malformed requests fail fast.
	query := r.URL.Query()
	scope := query.Get("scope")
	bq := syncer.BaselineQuery{Cursor: query.Get("cursor")}

	ve := &syncer.ValidationError{}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			ve.Issues = append(ve.Issues, syncer.Issue{Field: "limit", Message: "must be an integer"})
		} else {
			bq.Limit = limit
		}
	}
	if _, _, err := syncer.ValidateBaseline(scope, bq); err != nil {
		var sve *syncer.ValidationError
		if errors.As(err, &sve) {
			ve.Issues = append(ve.Issues, sve.Issues...)
		}
	}
	if len(ve.Issues) > 0 {
		s.writeValidationError(w, ve)
		return
	}

	sc, denial := s.authorizeScope(r, syncer.Scope(scope))
	if denial != nil {
		s.writeDenial(w, denial)
		return
	}

	baseline, err := s.selector.SelectBaseline(r.Context(), string(sc), bq)
	if err != nil {
		s.writeInternal(w, err)
		return
	}

	cursor := ""
	if baseline.NextCursor != nil {
		cursor = *baseline.NextCursor
	}
	s.setReadHeaders(w, r,
		fingerprint("initial", string(sc), baseline.ServerSeq, cursor, len(baseline.Records)),
		string(sc))
	s.writeJSON(w, http.StatusOK, baseline)
}

// handlePull serves POST /api/sync/pull: the delta feed since the client's
// last observed sequence number.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req syncer.PullRequest
	if !s.decodeBody(w, r, maxPullBody, &req) {
		return
	}
	if _, _, err := syncer.ValidatePull(req); err != nil {
		var ve *syncer.ValidationError
		if errors.As(err, &ve) {
			s.writeValidationError(w, ve)
			return
		}
		s.writeInternal(w, err)
		return
	}

	sc, denial := s.authorizeScope(r, syncer.Scope(req.Scope))
	if denial != nil {
		s.writeDenial(w, denial)
		return
	}

	deltas, err := s.selector.SelectDeltas(r.Context(), req)
	if err != nil {
		s.writeInternal(w, err)
		return
	}

	cursor := ""
	if deltas.NextCursor != nil {
		cursor = *deltas.NextCursor
	}
	s.setReadHeaders(w, r,
		fingerprint("pull", string(sc), deltas.ServerSeq, cursor, len(deltas.Events)),
		string(sc))
	s.writeJSON(w, http.StatusOK, deltas)
}

// handlePush serves POST /api/sync/push: durable application of a client
// batch. 200 for applied/duplicate, 409 for stale.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req syncer.PushRequest
	if !s.decodeBody(w, r, maxPushBody, &req) {
		return
	}
	if _, _, err := syncer.ValidatePush(req); err != nil {
		var ve *syncer.ValidationError
		if errors.As(err, &ve) {
			s.writeValidationError(w, ve)
			return
		}
		s.writeInternal(w, err)
		return
	}

	_, denial := s.authorizeScope(r, syncer.Scope(req.Scope))
	if denial != nil {
		s.writeDenial(w, denial)
		return
	}

	result, err := s.applier.ApplyIncomingEvents(r.Context(), req)
	if err != nil {
		// Validation already ran; anything surfacing here is a backend
		// failure.
		s.writeInternal(w, err)
		return
	}

	if s.hub != nil && result.Status == syncer.StatusApplied && len(result.Events) > 0 {
		s.hub.Broadcast(live.Message{
			Type:       live.MessageTypePushApplied,
			Scope:      req.Scope,
			ServerSeq:  result.ServerSeq,
			EventCount: len(result.Events),
			ClientID:   req.ClientID,
		})
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(syncStatusHeader, string(result.Status))

	status := http.StatusOK
	if result.Status == syncer.StatusStale {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, result)
}

// handleLive upgrades authorized clients onto the monitoring feed. The feed
// spans both scopes, so it requires the scan permission plus inventory read
// access.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	user, denial := s.authn.Authenticate(r)
	if denial == nil {
		denial = s.authn.Authorize(user, syncer.ScopeInventory)
	}
	if denial == nil {
		denial = s.authn.Authorize(user, syncer.ScopeTickets)
	}
	if denial != nil {
		s.writeDenial(w, denial)
		return
	}
	s.hub.ServeHTTP(w, r)
}

// authorizeScope runs authentication plus the scope permission check.
func (s *Server) authorizeScope(r *http.Request, scope syncer.Scope) (syncer.Scope, *auth.Denial) {
	user, denial := s.authn.Authenticate(r)
	if denial != nil {
		return scope, denial
	}
	if denial := s.authn.Authorize(user, scope); denial != nil {
		return scope, denial
	}
	return scope, nil
}

// decodeBody reads a size-capped JSON body. Returns false after writing the
// error response.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		s.writeValidationError(w, &syncer.ValidationError{
			Issues: []syncer.Issue{{Field: "body", Message: "malformed JSON"}},
		})
		return false
	}
	return true
}

// setReadHeaders applies the caching discipline for baseline and pull
// responses: a shape ETag, Last-Modified from the newest event, and a
// private must-revalidate cache policy.
func (s *Server) setReadHeaders(w http.ResponseWriter, r *http.Request, etag, scope string) {
	lastModified := time.Now().UTC()
	if t, ok, err := s.db.LatestEventTime(r.Context(), scope); err == nil && ok {
		lastModified = t.UTC()
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", lastModified.Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")
}
