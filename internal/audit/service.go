package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Logger is the best-effort audit sink, invoked after a core mutation has
// committed. Failures are logged, never propagated.
type Logger interface {
	Log(ctx context.Context, action, tenantID, actorUserID, entityType, entityID string, metadata map[string]interface{})
}

type Service struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewService(db *sqlx.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

func (s *Service) Log(ctx context.Context, action, tenantID, actorUserID, entityType, entityID string, metadata map[string]interface{}) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		meta = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, tenant_id, actor_user_id, entity_type, entity_id, metadata, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), action, tenantID, actorUserID, entityType, entityID, meta, time.Now().UTC())
	if err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}
