package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
)

// eventPayload is the union of fields the client may attach to an offline
// action. Unknown fields are ignored; the client is trusted only for ordering.
type eventPayload struct {
	TokenID string `json:"token_id"`
	Minutes int    `json:"minutes"`
}

// ApplyBulkEvents replays a client's offline action log in the order given.
// Each event runs in its own transaction under the session writer lock with a
// (client_id, event_id) existence check inside that transaction, so replaying
// the same batch any number of times leaves the queue as if it ran once.
// A domain rejection is recorded alongside the event and does not stop the
// rest of the batch.
func (s *Store) ApplyBulkEvents(ctx context.Context, input store.ApplyBulkInput) (store.BulkResult, error) {
	if _, err := s.GetSession(ctx, input.SessionID); err != nil {
		return store.BulkResult{}, err
	}

	result := store.BulkResult{Results: make([]store.EventResult, 0, len(input.Events))}
	for _, event := range input.Events {
		eventResult, err := s.applyOneEvent(ctx, input.ClientID, input.SessionID, event)
		if err != nil {
			return store.BulkResult{}, err
		}
		if !eventResult.Duplicate {
			result.Accepted++
		}
		result.Results = append(result.Results, eventResult)
	}
	return result, nil
}

func (s *Store) applyOneEvent(ctx context.Context, clientID, sessionID string, event store.BulkEvent) (store.EventResult, error) {
	result := store.EventResult{EventID: event.EventID}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.EventResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSession(ctx, tx, sessionID); err != nil {
		return store.EventResult{}, err
	}

	var known bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM client_events WHERE client_id = $1 AND event_id = $2)
	`, clientID, event.EventID)
	if err = row.Scan(&known); err != nil {
		return store.EventResult{}, err
	}
	if known {
		if err = tx.Commit(ctx); err != nil {
			return store.EventResult{}, err
		}
		result.Duplicate = true
		return result, nil
	}

	payloadJSON := event.Payload
	if len(payloadJSON) == 0 {
		payloadJSON = json.RawMessage(`{}`)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO client_events (client_id, event_id, session_id, event_type, payload_json, client_created_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id, event_id) DO NOTHING
	`, clientID, event.EventID, sessionID, event.Type, payloadJSON,
		nullIfZeroTime(event.CreatedAt), time.Now().UTC())
	if err != nil {
		return store.EventResult{}, err
	}
	if tag.RowsAffected() == 0 {
		// Another device won the race for this exact event.
		if err = tx.Commit(ctx); err != nil {
			return store.EventResult{}, err
		}
		result.Duplicate = true
		return result, nil
	}

	applyErr := applyEventAction(ctx, tx, sessionID, event)
	if applyErr != nil && !isDomainError(applyErr) {
		err = applyErr
		return store.EventResult{}, err
	}

	// Commit either way: a domain rejection is recorded so the event is
	// never retried, and the rest of the batch proceeds.
	if err = tx.Commit(ctx); err != nil {
		return store.EventResult{}, err
	}

	if applyErr != nil {
		result.Error = applyErr.Error()
		return result, nil
	}
	result.Applied = true
	return result, nil
}

func applyEventAction(ctx context.Context, tx pgx.Tx, sessionID string, event store.BulkEvent) error {
	var payload eventPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return store.ErrInvalidArgument
		}
	}

	now := time.Now().UTC()
	switch event.Type {
	case store.EventArrive:
		if payload.TokenID == "" {
			return store.ErrInvalidArgument
		}
		_, err := arriveTx(ctx, tx, sessionID, payload.TokenID, now)
		return err
	case store.EventServeNext:
		_, _, err := serveNextTx(ctx, tx, sessionID, now)
		return err
	case store.EventSkip:
		if payload.TokenID == "" {
			return store.ErrInvalidArgument
		}
		_, err := transitionTx(ctx, tx, sessionID, payload.TokenID, "skip", models.StateSkipped, "", now)
		return err
	case store.EventCancel:
		if payload.TokenID == "" {
			return store.ErrInvalidArgument
		}
		_, err := transitionTx(ctx, tx, sessionID, payload.TokenID, "cancel", models.StateCancelled, "", now)
		return err
	case store.EventEmergency:
		_, err := addDebtTx(ctx, tx, sessionID, payload.Minutes)
		return err
	default:
		return store.ErrInvalidArgument
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, store.ErrSessionNotFound) ||
		errors.Is(err, store.ErrTokenNotFound) ||
		errors.Is(err, store.ErrInvalidTransition) ||
		errors.Is(err, store.ErrSlotUnavailable) ||
		errors.Is(err, store.ErrInvalidArgument) ||
		errors.Is(err, store.ErrSessionClosed)
}

func nullIfZeroTime(value time.Time) interface{} {
	if value.IsZero() {
		return nil
	}
	return value
}
