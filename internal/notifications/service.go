package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Notifier is the fire-and-forget notification sink. Delivery failures are
// logged and swallowed: a lost notification must never roll back a signing
// transaction.
type Notifier interface {
	Notify(ctx context.Context, tenantID, userID, eventType string, payload map[string]interface{})
}

// Service persists notifications for later delivery by the (out-of-scope)
// delivery workers.
type Service struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewService(db *sqlx.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

func (s *Service) Notify(ctx context.Context, tenantID, userID, eventType string, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("notification payload not serializable",
			zap.String("event_type", eventType), zap.Error(err))
		body = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, user_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), tenantID, userID, eventType, body, time.Now().UTC())
	if err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
