package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veilnet/warden/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all permission engine migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create admin_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS admin_roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					description TEXT,
					level INT NOT NULL DEFAULT 0,
					permissions JSONB NOT NULL DEFAULT '[]',
					color VARCHAR(7),
					icon VARCHAR(50),
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_by BIGINT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_admin_roles_level ON admin_roles(level);
				CREATE INDEX idx_admin_roles_is_active ON admin_roles(is_active);
			`,
		},
		{
			Version:     2,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES admin_roles(id) ON DELETE CASCADE,
					assigned_by BIGINT,
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					UNIQUE(user_id, role_id)
				);

				CREATE INDEX idx_user_roles_user_id ON user_roles(user_id);
				CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);
				CREATE INDEX idx_user_roles_expires_at ON user_roles(expires_at);
			`,
		},
		{
			Version:     3,
			Description: "Create access_policies table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_policies (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(200) NOT NULL,
					description TEXT,
					role_id BIGINT REFERENCES admin_roles(id) ON DELETE CASCADE,
					priority INT NOT NULL DEFAULT 0,
					effect VARCHAR(10) NOT NULL,
					resource VARCHAR(100) NOT NULL,
					actions JSONB NOT NULL DEFAULT '[]',
					conditions JSONB,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_by BIGINT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_access_policies_role_id ON access_policies(role_id);
				CREATE INDEX idx_access_policies_priority ON access_policies(priority DESC);
				CREATE INDEX idx_access_policies_is_active ON access_policies(is_active);
			`,
		},
		{
			Version:     4,
			Description: "Create admin_audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS admin_audit_log (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					action VARCHAR(100) NOT NULL,
					resource_type VARCHAR(50),
					resource_id VARCHAR(100),
					details JSONB,
					ip_address VARCHAR(45),
					user_agent TEXT,
					status VARCHAR(20) NOT NULL,
					request_method VARCHAR(10),
					request_path TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX ix_admin_audit_user_created ON admin_audit_log(user_id, created_at);
				CREATE INDEX ix_admin_audit_resource ON admin_audit_log(resource_type, resource_id);
				CREATE INDEX ix_admin_audit_created ON admin_audit_log(created_at);
			`,
		},
		{
			Version:     5,
			Description: "Create admin_sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS admin_sessions (
					id BIGSERIAL PRIMARY KEY,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					user_id BIGINT NOT NULL,
					telegram_id BIGINT NOT NULL DEFAULT 0,
					username VARCHAR(100) NOT NULL DEFAULT '',
					email VARCHAR(255) NOT NULL DEFAULT '',
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at TIMESTAMPTZ NOT NULL,
					revoked_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_admin_sessions_user_id ON admin_sessions(user_id);
				CREATE INDEX idx_admin_sessions_expires_at ON admin_sessions(expires_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations inside per-migration
// transactions, tracked in warden_migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS warden_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM warden_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO warden_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
