package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/templatehub/internal/domain"
	"github.com/splax/templatehub/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.DeploymentRepository = (*Repository)(nil)

const deploymentColumns = `id, user_id, username, template_id, repo_name, repo_url, status, logs, deployed_url, created_at, updated_at`

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		d.ID, d.UserID, d.Username, d.TemplateID, d.RepoName, d.RepoURL,
		string(d.Status), logsOrEmpty(d.Logs), d.DeployedURL, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("deployment %q: %w", d.ID, repository.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// SaveDeployment overwrites status, logs and URLs of an existing record.
func (r *Repository) SaveDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `UPDATE deployments
		SET repo_url = $2, status = $3, logs = $4, deployed_url = $5, updated_at = $6
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, d.ID, d.RepoURL, string(d.Status), logsOrEmpty(d.Logs), d.DeployedURL, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDeploymentsByUser returns a user's deployments, newest first.
func (r *Repository) ListDeploymentsByUser(ctx context.Context, userID string, limit int) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d      domain.Deployment
		status string
	)
	if err := row.Scan(
		&d.ID, &d.UserID, &d.Username, &d.TemplateID, &d.RepoName, &d.RepoURL,
		&status, &d.Logs, &d.DeployedURL, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = domain.Status(status)
	d.Logs = logsOrEmpty(d.Logs)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func logsOrEmpty(logs []string) []string {
	if logs == nil {
		return []string{}
	}
	return logs
}
