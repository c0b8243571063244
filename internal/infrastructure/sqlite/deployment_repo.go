package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// DeploymentRepo implements [domain.DeploymentRepository] backed by SQLite.
type DeploymentRepo struct {
	DB *sql.DB
}

const deploymentColumns = `id, name, status, template, parameters, cloud_region,
	resources, failure, metadata, created_at, updated_at, deleted_at`

func (r *DeploymentRepo) Create(ctx context.Context, d domain.Deployment) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}

	row, err := encodeDeployment(d)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO deployments (`+deploymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(d.ID), d.Name, string(d.Status), row.template, row.parameters, d.CloudRegion,
		row.resources, row.failure, row.metadata,
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339), row.deletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment %q: %w", d.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (r *DeploymentRepo) Get(ctx context.Context, id domain.DeploymentID) (domain.Deployment, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`,
		string(id),
	)
	return scanDeployment(row)
}

func (r *DeploymentRepo) List(ctx context.Context) ([]domain.Deployment, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// Update loads the deployment, applies mutate, and persists the result
// inside one transaction. The pool is capped at a single connection, so
// concurrent updates queue on the row rather than interleave.
func (r *DeploymentRepo) Update(ctx context.Context, id domain.DeploymentID, mutate func(*domain.Deployment) error) (domain.Deployment, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	d, err := scanDeployment(tx.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`,
		string(id),
	))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Deployment{}, fmt.Errorf("deployment %q: %w", id, domain.ErrNotFound)
		}
		return domain.Deployment{}, err
	}

	if err := mutate(&d); err != nil {
		return domain.Deployment{}, err
	}
	d.UpdatedAt = time.Now().UTC()

	row, err := encodeDeployment(d)
	if err != nil {
		return domain.Deployment{}, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE deployments
		 SET name = ?, status = ?, template = ?, parameters = ?, cloud_region = ?,
		     resources = ?, failure = ?, metadata = ?, updated_at = ?, deleted_at = ?
		 WHERE id = ?`,
		d.Name, string(d.Status), row.template, row.parameters, d.CloudRegion,
		row.resources, row.failure, row.metadata,
		d.UpdatedAt.Format(time.RFC3339), row.deletedAt,
		string(d.ID),
	)
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("update deployment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Deployment{}, fmt.Errorf("commit update: %w", err)
	}
	return d, nil
}

// deploymentRow holds the marshaled column values shared by INSERT and
// UPDATE statements.
type deploymentRow struct {
	template   string
	parameters string
	resources  sql.NullString
	failure    sql.NullString
	metadata   string
	deletedAt  sql.NullString
}

func encodeDeployment(d domain.Deployment) (deploymentRow, error) {
	var row deploymentRow

	tpl, err := json.Marshal(d.Template)
	if err != nil {
		return row, fmt.Errorf("marshal template: %w", err)
	}
	params, err := json.Marshal(d.Parameters)
	if err != nil {
		return row, fmt.Errorf("marshal parameters: %w", err)
	}
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return row, fmt.Errorf("marshal metadata: %w", err)
	}
	row.template = string(tpl)
	row.parameters = string(params)
	row.metadata = string(meta)

	if d.Resources != nil {
		res, err := json.Marshal(d.Resources)
		if err != nil {
			return row, fmt.Errorf("marshal resources: %w", err)
		}
		row.resources = nullString(res)
	}
	if d.Failure != nil {
		fail, err := json.Marshal(d.Failure)
		if err != nil {
			return row, fmt.Errorf("marshal failure: %w", err)
		}
		row.failure = nullString(fail)
	}
	if d.DeletedAt != nil {
		row.deletedAt = sql.NullString{String: d.DeletedAt.UTC().Format(time.RFC3339), Valid: true}
	}
	return row, nil
}

func scanDeployment(s scanner) (domain.Deployment, error) {
	var d domain.Deployment
	var id, name, status, tplJSON, paramsJSON, region, metaJSON, createdStr, updatedStr string
	var resJSON, failJSON, deletedStr sql.NullString

	err := s.Scan(&id, &name, &status, &tplJSON, &paramsJSON, &region,
		&resJSON, &failJSON, &metaJSON, &createdStr, &updatedStr, &deletedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return d, fmt.Errorf("scan deployment: %w", err)
	}
	d.ID = domain.DeploymentID(id)
	d.Name = name
	d.Status = domain.DeploymentStatus(status)
	d.CloudRegion = region

	if err := json.Unmarshal([]byte(tplJSON), &d.Template); err != nil {
		return d, fmt.Errorf("unmarshal template: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &d.Parameters); err != nil {
		return d, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &d.Metadata); err != nil {
		return d, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if resJSON.Valid {
		d.Resources = &domain.ResourceManifest{}
		if err := json.Unmarshal([]byte(resJSON.String), d.Resources); err != nil {
			return d, fmt.Errorf("unmarshal resources: %w", err)
		}
	}
	if failJSON.Valid {
		d.Failure = &domain.FailureInfo{}
		if err := json.Unmarshal([]byte(failJSON.String), d.Failure); err != nil {
			return d, fmt.Errorf("unmarshal failure: %w", err)
		}
	}

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdStr); err != nil {
		return d, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr); err != nil {
		return d, fmt.Errorf("parse updated_at: %w", err)
	}
	if deletedStr.Valid {
		deletedAt, err := time.Parse(time.RFC3339, deletedStr.String)
		if err != nil {
			return d, fmt.Errorf("parse deleted_at: %w", err)
		}
		d.DeletedAt = &deletedAt
	}
	return d, nil
}
