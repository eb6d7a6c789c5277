package documents

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLUserDirectory resolves signer identities from the tenant users table.
type SQLUserDirectory struct {
	db *sqlx.DB
}

func NewSQLUserDirectory(db *sqlx.DB) *SQLUserDirectory {
	return &SQLUserDirectory{db: db}
}

func (d *SQLUserDirectory) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]DirectoryUser, error) {
	users := []DirectoryUser{}
	err := d.db.SelectContext(ctx, &users, `
		SELECT global_id, name, email FROM users
		WHERE tenant_id = $1 AND global_id = ANY($2)`,
		tenantID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users: %w", err)
	}
	return users, nil
}

func (d *SQLUserDirectory) GetByEmails(ctx context.Context, tenantID string, emails []string) ([]DirectoryUser, error) {
	users := []DirectoryUser{}
	err := d.db.SelectContext(ctx, &users, `
		SELECT global_id, name, email FROM users
		WHERE tenant_id = $1 AND email = ANY($2)`,
		tenantID, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users by email: %w", err)
	}
	return users, nil
}
