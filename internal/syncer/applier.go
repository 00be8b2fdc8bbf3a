package syncer

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buehnenplan/syncd/internal/store"
)

// Applier validates and durably applies client push batches.
//
// Idempotency is keyed on the client mutation id alone; clientId is audit
// metadata (a client may legitimately resend a mutation id after
// reconnecting under a different local session) and feeds the staleness
// rule: a push is stale only when the sequence gap contains events from a
// different client.
type Applier struct {
	db        *store.DB
	projector store.Projector
	logger    *zap.Logger
}

// NewApplier creates an Applier. The projector may be nil when no
// current-state projection is wanted; a nil logger is replaced with a no-op
// logger.
func NewApplier(db *store.DB, projector store.Projector, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{db: db, projector: projector, logger: logger}
}

// ApplyIncomingEvents applies one push batch and returns the tagged result.
//
// Validation failures surface as *ValidationError before any transaction
// starts. Otherwise the commit of events and ledger row is atomic: a batch
// either fully applies (minus individual dedupe skips) or leaves no trace.
func (a *Applier) ApplyIncomingEvents(ctx context.Context, req PushRequest) (*ApplyResult, error) {
	scope, occurred, err := ValidatePush(req)
	if err != nil {
		return nil, err
	}

	batch := store.PushBatch{
		Scope:            string(scope),
		ClientID:         req.ClientID,
		ClientMutationID: req.ClientMutationID,
		LastKnownSeq:     req.LastKnownServerSeq,
		Events:           make([]store.Event, len(req.Events)),
	}
	dedupeByID := make(map[string]string, len(req.Events))
	for i, ev := range req.Events {
		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		dedupeByID[id] = ev.DedupeKey
		batch.Events[i] = store.Event{
			ID:         id,
			Type:       ev.Type,
			Payload:    ev.Payload,
			OccurredAt: occurred[i],
			DedupeKey:  ev.DedupeKey,
		}
	}

	outcome, err := a.db.ApplyPush(ctx, batch, a.projector)
	if err != nil {
		return nil, err
	}

	switch {
	case outcome.Duplicate:
		a.logger.Info("push replayed",
			zap.String("scope", batch.Scope),
			zap.String("clientMutationId", batch.ClientMutationID),
			zap.Int64("serverSeq", outcome.HeadSeq))
		return &ApplyResult{
			Status:    StatusDuplicate,
			ServerSeq: outcome.HeadSeq,
			Events:    outcome.Events,
			Mutation:  summarize(outcome.Mutation),
		}, nil

	case outcome.Stale:
		a.logger.Info("push rejected as stale",
			zap.String("scope", batch.Scope),
			zap.String("clientId", batch.ClientID),
			zap.Int64("lastKnownServerSeq", batch.LastKnownSeq),
			zap.Int64("serverSeq", outcome.HeadSeq))
		return &ApplyResult{
			Status:    StatusStale,
			ServerSeq: outcome.HeadSeq,
			Events:    outcome.Events,
		}, nil
	}

	result := &ApplyResult{
		Status:    StatusApplied,
		ServerSeq: outcome.HeadSeq,
		Events:    outcome.Events,
		Mutation:  summarize(outcome.Mutation),
	}
	for _, id := range outcome.SkippedIDs {
		result.Skipped = append(result.Skipped, SkippedEvent{
			ID:        id,
			DedupeKey: dedupeByID[id],
			Reason:    "dedupe key already applied",
		})
	}

	a.logger.Info("push applied",
		zap.String("scope", batch.Scope),
		zap.String("clientId", batch.ClientID),
		zap.String("clientMutationId", batch.ClientMutationID),
		zap.Int("events", len(result.Events)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int64("serverSeq", result.ServerSeq))

	return result, nil
}

func summarize(m *store.Mutation) *MutationSummary {
	if m == nil {
		return nil
	}
	return &MutationSummary{
		ClientMutationID: m.ClientMutationID,
		EventCount:       m.EventCount,
		FirstServerSeq:   m.FirstServerSeq,
		LastServerSeq:    m.LastServerSeq,
	}
}
