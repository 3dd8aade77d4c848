package deploy

import (
	"fmt"

	"github.com/splax/templatehub/internal/domain"
)

// StepError reports the pipeline state a deployment failed in.
type StepError struct {
	DeploymentID string
	Stage        domain.Status
	Err          error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("deployment %s failed during %s: %v", e.DeploymentID, e.Stage, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
