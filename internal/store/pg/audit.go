package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/audit"
)

// AuditSink appends audit entries to the audit_logs table. Inserts only;
// nothing here updates or deletes.
type AuditSink struct{ db *sql.DB }

var _ audit.Sink = (*AuditSink)(nil)

func (a *AuditSink) Append(ctx context.Context, entry *audit.Entry) error {
	oldValues, err := marshalValues(entry.OldValues)
	if err != nil {
		return err
	}
	newValues, err := marshalValues(entry.NewValues)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`insert into audit_logs
		   (id, actor_id, impersonator_id, action, resource_type, resource_id,
		    old_values, new_values, occurred_at, ip_address, user_agent, request_id)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		entry.ID, entry.ActorID, nullable(entry.ImpersonatorID), entry.Action,
		entry.ResourceType, entry.ResourceID, oldValues, newValues,
		entry.OccurredAt, entry.IPAddress, entry.UserAgent, entry.RequestID,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func marshalValues(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
