package repository

import (
	"context"

	"github.com/splax/templatehub/internal/domain"
)

// DeploymentRepository stores deployment records.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	// SaveDeployment overwrites the mutable fields of an existing record:
	// status, logs, repo URL, deployed URL and updated_at.
	SaveDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error)
	// ListDeploymentsByUser returns the newest records first. A limit of
	// zero or less means no limit.
	ListDeploymentsByUser(ctx context.Context, userID string, limit int) ([]domain.Deployment, error)
}
