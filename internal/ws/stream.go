package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/splax/templatehub/internal/domain"
)

// DeploymentStream broadcasts deployment records to hub subscribers and
// closes their streams once the record is terminal.
type DeploymentStream struct {
	hub *Hub
}

// NewDeploymentStream wraps hub.
func NewDeploymentStream(hub *Hub) *DeploymentStream {
	return &DeploymentStream{hub: hub}
}

// Notify publishes d as JSON.
func (s *DeploymentStream) Notify(_ context.Context, d *domain.Deployment) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode deployment: %w", err)
	}
	s.hub.Broadcast(d.ID, payload)
	if d.Status.Terminal() {
		s.hub.Finish(d.ID)
	}
	return nil
}
