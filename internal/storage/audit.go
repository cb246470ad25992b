package storage

import (
	"context"

	"github.com/sol1corejz/affiliate-ledger/internal/models"
)

func (s *Storage) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	details, err := jsonArg(entry.Details)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, actor_id, target_table, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`, entry.ID, entry.Action, entry.ActorID, entry.TargetTable, entry.TargetID, details, entry.CreatedAt)
	return err
}

func (s *Storage) InsertNotification(ctx context.Context, n models.Notification) error {
	metadata, err := jsonArg(n.Metadata)
	if err != nil {
		return err
	}

	var actionURL interface{}
	if n.ActionURL != "" {
		actionURL = n.ActionURL
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, action_url, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, actionURL, metadata, n.CreatedAt)
	return err
}
