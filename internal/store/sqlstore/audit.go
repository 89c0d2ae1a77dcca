package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ormdash.org/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// Append inserts the batch in one transaction. Audit rows are never updated.
func (s *Store) Append(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range events {
			raw := []byte("{}")
			if len(e.Context) > 0 {
				var err error
				if raw, err = json.Marshal(e.Context); err != nil {
					return fmt.Errorf("encode audit context: %w", err)
				}
			}
			_, err := tx.ExecContext(ctx, `
				insert into audit_events (id, actor_id, action, target_type, target_id, outcome,
					occurred_at, context, request_id, ip, user_agent)
				values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`, e.ID, e.ActorID, e.Action, e.TargetType, e.TargetID, string(e.Outcome),
				utc(e.OccurredAt), raw, e.Origin.RequestID, e.Origin.IP, e.Origin.UserAgent)
			if err != nil {
				return s.fail(err, "audit event "+e.ID)
			}
		}
		return nil
	})
}
