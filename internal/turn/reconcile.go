package turn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"careerpilot/internal/models"
)

// Reconciler lands a generator's result messages in durable storage. A
// normal turn appends; a tool-approval continuation patches the messages
// whose ids already exist in the turn's history and appends the rest.
type Reconciler struct {
	store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// Persist writes every result message, continuing past individual
// failures so one bad row does not lose the rest. The joined error is for
// logging; streaming has already completed by the time this runs.
func (r *Reconciler) Persist(ctx context.Context, t *Turn, res *Result) error {
	if res == nil || len(res.Messages) == 0 {
		return nil
	}
	var errs []error
	var inserts []*models.Message
	for _, msg := range res.Messages {
		if msg == nil {
			continue
		}
		if t.ToolApproval && t.HasMessageID(msg.ID) {
			if err := r.update(ctx, msg); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		inserts = append(inserts, msg)
	}
	for _, msg := range inserts {
		if err := r.store.InsertMessages(ctx, t.ChatID, []*models.Message{msg}); err != nil {
			errs = append(errs, fmt.Errorf("insert message %s: %w", msg.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) update(ctx context.Context, msg *models.Message) error {
	err := r.store.UpdateMessageParts(ctx, msg.ID, msg.Parts)
	if errors.Is(err, sql.ErrNoRows) {
		// The row the client claims to be continuing was deleted out from
		// under us. Recreate it rather than dropping the tool results.
		log.Printf("reconcile: message %s missing, reinserting", msg.ID)
		return r.store.InsertMessages(ctx, msg.ChatID, []*models.Message{msg})
	}
	if err != nil {
		return fmt.Errorf("update message %s: %w", msg.ID, err)
	}
	return nil
}
