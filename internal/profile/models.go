package profile

import (
	"time"

	"velo/internal/stage"
)

// TypeVelocity is the profile type this service owns. Associations
// carry a type so units can also reference profiles owned by other
// services without ambiguity.
const TypeVelocity = "velocity"

// VelocityConfig is one tenant-owned stage configuration. Name is
// unique per tenant; at most one config per tenant is the default.
type VelocityConfig struct {
	ID          string       `json:"id"`
	Tenant      string       `json:"tenant"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsDefault   bool         `json:"is_default"`
	Stages      stage.Groups `json:"stages"`
	// SCMClassification maps defect/deployment/release/hotfix to a
	// boolean rule expression over SCM fields.
	SCMClassification map[string]string `json:"scm_classification,omitempty"`
	CICDJobIDs        []string          `json:"cicd_job_ids,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Association links one organizational unit to a profile. Many units
// may reference the same profile; the set for a (profile, type) pair is
// replaced wholesale and read back in insertion order.
type Association struct {
	OuRefID     int    `json:"ou_ref_id"`
	ProfileID   string `json:"profile_id"`
	ProfileType string `json:"profile_type"`
}

type AuditLog struct {
	ID        string                 `json:"id"`
	Tenant    string                 `json:"tenant"`
	ProfileID *string                `json:"profile_id,omitempty"`
	Action    string                 `json:"action"`
	OldValue  map[string]interface{} `json:"old_value,omitempty"`
	NewValue  map[string]interface{} `json:"new_value,omitempty"`
	ChangedBy string                 `json:"changed_by"`
	CreatedAt time.Time              `json:"created_at"`
}

type CreateConfigRequest struct {
	Name              string            `json:"name" binding:"required"`
	Description       string            `json:"description"`
	Stages            stage.Groups      `json:"stages"`
	SCMClassification map[string]string `json:"scm_classification"`
	CICDJobIDs        []string          `json:"cicd_job_ids"`
}

type UpdateAssociationsRequest struct {
	ProfileType string `json:"profile_type" binding:"required"`
	OuRefIDs    []int  `json:"ou_ref_ids"`
}
