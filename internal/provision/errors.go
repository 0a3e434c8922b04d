package provision

import (
	"errors"
	"fmt"
)

// ErrProvisioningFailed is matched by every *Error.
var ErrProvisioningFailed = errors.New("provisioning failed")

// Step names the provisioning stage that failed.
type Step string

const (
	StepLoad             Step = "load"
	StepDerive           Step = "derive-name"
	StepMarkProvisioning Step = "mark-provisioning"
	StepCreateDatabase   Step = "create-database"
	StepSchemaPush       Step = "schema-push"
	StepActivate         Step = "activate"
)

// Error wraps the cause of a failed provisioning run.  errors.Is matches
// both ErrProvisioningFailed and the cause's own sentinels.
type Error struct {
	TenantID string
	Step     Step
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision tenant %s: %s: %v", e.TenantID, e.Step, e.Err)
}

// Unwrap exposes the sentinel and the cause.
func (e *Error) Unwrap() []error { return []error{ErrProvisioningFailed, e.Err} }
