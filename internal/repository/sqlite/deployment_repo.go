package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/splax/templatehub/internal/domain"
	"github.com/splax/templatehub/internal/repository"
)

// Timestamps are stored as fixed-width UTC text so lexical order matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DeploymentRepo implements repository.DeploymentRepository on SQLite.
type DeploymentRepo struct {
	DB *sql.DB
}

var _ repository.DeploymentRepository = (*DeploymentRepo)(nil)

// CreateDeployment inserts a new record.
func (r *DeploymentRepo) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	logs, err := marshalLogs(d.Logs)
	if err != nil {
		return err
	}
	const query = `INSERT INTO deployments
		(id, user_id, username, template_id, repo_name, repo_url, status, logs, deployed_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.DB.ExecContext(ctx, query,
		d.ID, d.UserID, d.Username, d.TemplateID, d.RepoName, d.RepoURL,
		string(d.Status), logs, d.DeployedURL, formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment %q: %w", d.ID, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// SaveDeployment persists the mutable fields of an existing record.
func (r *DeploymentRepo) SaveDeployment(ctx context.Context, d *domain.Deployment) error {
	logs, err := marshalLogs(d.Logs)
	if err != nil {
		return err
	}
	const query = `UPDATE deployments
		SET repo_url = ?, status = ?, logs = ?, deployed_url = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.DB.ExecContext(ctx, query,
		d.RepoURL, string(d.Status), logs, d.DeployedURL, formatTime(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches a single record.
func (r *DeploymentRepo) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT id, user_id, username, template_id, repo_name, repo_url, status, logs, deployed_url, created_at, updated_at
		FROM deployments WHERE id = ?`
	d, err := scanDeployment(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDeploymentsByUser returns a user's records, newest first.
func (r *DeploymentRepo) ListDeploymentsByUser(ctx context.Context, userID string, limit int) ([]domain.Deployment, error) {
	query := `SELECT id, user_id, username, template_id, repo_name, repo_url, status, logs, deployed_url, created_at, updated_at
		FROM deployments WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(s scanner) (*domain.Deployment, error) {
	var (
		d                    domain.Deployment
		status, logs         string
		createdAt, updatedAt string
	)
	if err := s.Scan(
		&d.ID, &d.UserID, &d.Username, &d.TemplateID, &d.RepoName, &d.RepoURL,
		&status, &logs, &d.DeployedURL, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(logs), &d.Logs); err != nil {
		return nil, fmt.Errorf("decode logs for %s: %w", d.ID, err)
	}
	if d.Logs == nil {
		d.Logs = []string{}
	}
	var err error
	if d.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", d.ID, err)
	}
	return &d, nil
}

func marshalLogs(logs []string) (string, error) {
	if logs == nil {
		logs = []string{}
	}
	data, err := json.Marshal(logs)
	if err != nil {
		return "", fmt.Errorf("encode logs: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
