package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"velo/internal/stage"
	pkgerrors "velo/pkg/errors"
)

type Repository interface {
	CreateConfig(ctx context.Context, cfg *VelocityConfig) error
	GetConfig(ctx context.Context, tenant, id string) (*VelocityConfig, error)
	ListConfigs(ctx context.Context, tenant string) ([]VelocityConfig, error)
	GetDefaultConfig(ctx context.Context, tenant string) (*VelocityConfig, error)
	SetDefaultConfig(ctx context.Context, tenant, id string) error
	DeleteConfig(ctx context.Context, tenant, id string) error

	ReplaceAssociations(ctx context.Context, tenant, profileID, profileType string, ouRefIDs []int) error
	ListAssociations(ctx context.Context, tenant, profileID, profileType string) ([]Association, error)

	InsertAuditLog(ctx context.Context, entry *AuditLog) error
	ListAuditLogs(ctx context.Context, tenant string, limit, offset int) ([]AuditLog, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateConfig(ctx context.Context, cfg *VelocityConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	scmRules, err := json.Marshal(cfg.SCMClassification)
	if err != nil {
		return fmt.Errorf("failed to marshal classification rules: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO velocity_configs (id, tenant, name, description, is_default, scm_classification, cicd_job_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, query,
		cfg.ID, cfg.Tenant, cfg.Name, cfg.Description, cfg.IsDefault,
		scmRules, pq.Array(cfg.CICDJobIDs), cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message",
				fmt.Sprintf("velocity config with name '%s' already exists", cfg.Name))
		}
		return fmt.Errorf("failed to create velocity config: %w", err)
	}

	if err := insertStages(ctx, tx, cfg.ID, cfg.Stages); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertStages(ctx context.Context, tx *sql.Tx, configID string, groups stage.Groups) error {
	query := `
		INSERT INTO velocity_stages (config_id, group_name, stage_order, name, description,
			lower_value, lower_unit, upper_value, upper_unit, event_type, event_values, event_params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	insert := func(group string, stages []stage.Definition) error {
		for _, def := range stages {
			params, err := json.Marshal(def.Event.Params)
			if err != nil {
				return fmt.Errorf("failed to marshal event params: %w", err)
			}
			_, err = tx.ExecContext(ctx, query,
				configID, group, def.Order, def.Name, def.Description,
				def.LowerLimit.Value, def.LowerLimit.Unit,
				def.UpperLimit.Value, def.UpperLimit.Unit,
				def.Event.Type, pq.Array(def.Event.Values), params,
			)
			if err != nil {
				return fmt.Errorf("failed to insert stage %q: %w", def.Name, err)
			}
		}
		return nil
	}

	if err := insert("pre", groups.Pre); err != nil {
		return err
	}
	if err := insert("fixed", groups.Fixed); err != nil {
		return err
	}
	return insert("post", groups.Post)
}

func (r *PostgresRepository) GetConfig(ctx context.Context, tenant, id string) (*VelocityConfig, error) {
	query := `
		SELECT id, tenant, name, description, is_default, scm_classification, cicd_job_ids, created_at, updated_at
		FROM velocity_configs
		WHERE tenant = $1 AND id = $2
	`
	cfg, err := scanConfig(r.db.QueryRowContext(ctx, query, tenant, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadStages(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *PostgresRepository) GetDefaultConfig(ctx context.Context, tenant string) (*VelocityConfig, error) {
	query := `
		SELECT id, tenant, name, description, is_default, scm_classification, cicd_job_ids, created_at, updated_at
		FROM velocity_configs
		WHERE tenant = $1 AND is_default
	`
	cfg, err := scanConfig(r.db.QueryRowContext(ctx, query, tenant))
	if err != nil {
		return nil, err
	}
	if err := r.loadStages(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row rowScanner) (*VelocityConfig, error) {
	var cfg VelocityConfig
	var scmRules []byte
	err := row.Scan(
		&cfg.ID, &cfg.Tenant, &cfg.Name, &cfg.Description, &cfg.IsDefault,
		&scmRules, pq.Array(&cfg.CICDJobIDs), &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "velocity config not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get velocity config: %w", err)
	}
	if len(scmRules) > 0 {
		if err := json.Unmarshal(scmRules, &cfg.SCMClassification); err != nil {
			return nil, fmt.Errorf("failed to unmarshal classification rules: %w", err)
		}
	}
	return &cfg, nil
}

func (r *PostgresRepository) loadStages(ctx context.Context, cfg *VelocityConfig) error {
	query := `
		SELECT group_name, stage_order, name, description,
			lower_value, lower_unit, upper_value, upper_unit, event_type, event_values, event_params
		FROM velocity_stages
		WHERE config_id = $1
		ORDER BY group_name, stage_order
	`
	rows, err := r.db.QueryContext(ctx, query, cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to load stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var group string
		var def stage.Definition
		var params []byte
		if err := rows.Scan(
			&group, &def.Order, &def.Name, &def.Description,
			&def.LowerLimit.Value, &def.LowerLimit.Unit,
			&def.UpperLimit.Value, &def.UpperLimit.Unit,
			&def.Event.Type, pq.Array(&def.Event.Values), &params,
		); err != nil {
			return fmt.Errorf("failed to scan stage: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &def.Event.Params); err != nil {
				return fmt.Errorf("failed to unmarshal event params: %w", err)
			}
		}
		switch group {
		case "pre":
			cfg.Stages.Pre = append(cfg.Stages.Pre, def)
		case "fixed":
			cfg.Stages.Fixed = append(cfg.Stages.Fixed, def)
		case "post":
			cfg.Stages.Post = append(cfg.Stages.Post, def)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) ListConfigs(ctx context.Context, tenant string) ([]VelocityConfig, error) {
	query := `
		SELECT id, tenant, name, description, is_default, scm_classification, cicd_job_ids, created_at, updated_at
		FROM velocity_configs
		WHERE tenant = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list velocity configs: %w", err)
	}
	defer rows.Close()

	var configs []VelocityConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range configs {
		if err := r.loadStages(ctx, &configs[i]); err != nil {
			return nil, err
		}
	}
	return configs, nil
}

// SetDefaultConfig atomically moves the default flag to the given
// config. All of the tenant's rows are locked first so two concurrent
// calls serialize and exactly one default survives.
func (r *PostgresRepository) SetDefaultConfig(ctx context.Context, tenant, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM velocity_configs WHERE tenant = $1 FOR UPDATE`, tenant)
	if err != nil {
		return fmt.Errorf("failed to lock configs: %w", err)
	}
	found := false
	for rows.Next() {
		var lockedID string
		if err := rows.Scan(&lockedID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan config id: %w", err)
		}
		if lockedID == id {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if !found {
		return pkgerrors.ErrNotFound.WithDetail("message", "velocity config not found")
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE velocity_configs SET is_default = false, updated_at = $2 WHERE tenant = $1 AND is_default AND id <> $3`,
		tenant, now, id)
	if err != nil {
		return fmt.Errorf("failed to clear previous default: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE velocity_configs SET is_default = true, updated_at = $3 WHERE tenant = $1 AND id = $2`,
		tenant, id, now)
	if err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteConfig(ctx context.Context, tenant, id string) error {
	// Stage rows go with the config via ON DELETE CASCADE.
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM velocity_configs WHERE tenant = $1 AND id = $2`, tenant, id)
	if err != nil {
		return fmt.Errorf("failed to delete velocity config: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", "velocity config not found")
	}
	return nil
}

// ReplaceAssociations swaps the full association set for a profile.
// Insertion order is preserved via the position column.
func (r *PostgresRepository) ReplaceAssociations(ctx context.Context, tenant, profileID, profileType string, ouRefIDs []int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM org_profile_associations WHERE tenant = $1 AND profile_id = $2 AND profile_type = $3`,
		tenant, profileID, profileType)
	if err != nil {
		return fmt.Errorf("failed to clear associations: %w", err)
	}

	query := `
		INSERT INTO org_profile_associations (tenant, profile_id, profile_type, ou_ref_id, position)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, ouRefID := range ouRefIDs {
		if _, err := tx.ExecContext(ctx, query, tenant, profileID, profileType, ouRefID, i); err != nil {
			return fmt.Errorf("failed to insert association: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAssociations(ctx context.Context, tenant, profileID, profileType string) ([]Association, error) {
	query := `
		SELECT ou_ref_id, profile_id, profile_type
		FROM org_profile_associations
		WHERE tenant = $1 AND profile_id = $2 AND profile_type = $3
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, tenant, profileID, profileType)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}
	defer rows.Close()

	var associations []Association
	for rows.Next() {
		var a Association
		if err := rows.Scan(&a.OuRefID, &a.ProfileID, &a.ProfileType); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		associations = append(associations, a)
	}
	return associations, rows.Err()
}

func (r *PostgresRepository) InsertAuditLog(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	oldValue, err := json.Marshal(entry.OldValue)
	if err != nil {
		return fmt.Errorf("failed to marshal audit old value: %w", err)
	}
	newValue, err := json.Marshal(entry.NewValue)
	if err != nil {
		return fmt.Errorf("failed to marshal audit new value: %w", err)
	}

	query := `
		INSERT INTO profile_audit (id, tenant, profile_id, action, old_value, new_value, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.Tenant, entry.ProfileID, entry.Action,
		oldValue, newValue, entry.ChangedBy, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAuditLogs(ctx context.Context, tenant string, limit, offset int) ([]AuditLog, error) {
	query := `
		SELECT id, tenant, profile_id, action, old_value, new_value, changed_by, created_at
		FROM profile_audit
		WHERE tenant = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, tenant, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []AuditLog
	for rows.Next() {
		var entry AuditLog
		var oldValue, newValue []byte
		if err := rows.Scan(
			&entry.ID, &entry.Tenant, &entry.ProfileID, &entry.Action,
			&oldValue, &newValue, &entry.ChangedBy, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(oldValue) > 0 {
			if err := json.Unmarshal(oldValue, &entry.OldValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit old value: %w", err)
			}
		}
		if len(newValue) > 0 {
			if err := json.Unmarshal(newValue, &entry.NewValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit new value: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
