package profile

import (
	"context"
	"encoding/json"

	"velo/internal/logger"
	"velo/internal/scm"
	"velo/pkg/cel"
	pkgerrors "velo/pkg/errors"
	"velo/pkg/metrics"
)

type Service interface {
	CreateConfig(ctx context.Context, tenant, changedBy string, req CreateConfigRequest) (*VelocityConfig, error)
	GetConfig(ctx context.Context, tenant, id string) (*VelocityConfig, error)
	ListConfigs(ctx context.Context, tenant string) ([]VelocityConfig, error)
	GetDefaultConfig(ctx context.Context, tenant string) (*VelocityConfig, error)
	SetDefaultConfig(ctx context.Context, tenant, id, changedBy string) error
	DeleteConfig(ctx context.Context, tenant, id, changedBy string) error

	UpdateAssociations(ctx context.Context, tenant, profileID, changedBy string, req UpdateAssociationsRequest) error
	ListAssociations(ctx context.Context, tenant, profileID, profileType string) ([]Association, error)

	ListAuditLogs(ctx context.Context, tenant string, limit, offset int) ([]AuditLog, error)
}

type service struct {
	repo      Repository
	evaluator *cel.Evaluator
	notifier  *ConfigEventProducer
	logger    logger.Logger
}

type ServiceOption func(*service)

func WithConfigEvents(notifier *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.notifier = notifier
	}
}

func NewService(repo Repository, evaluator *cel.Evaluator, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		repo:      repo,
		evaluator: evaluator,
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateConfig(ctx context.Context, tenant, changedBy string, req CreateConfigRequest) (*VelocityConfig, error) {
	if tenant == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "tenant is required")
	}
	if req.Name == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "name is required")
	}
	if err := req.Stages.Validate(); err != nil {
		return nil, err
	}
	if err := scm.ValidateRules(s.evaluator, req.SCMClassification); err != nil {
		return nil, err
	}

	cfg := &VelocityConfig{
		Tenant:            tenant,
		Name:              req.Name,
		Description:       req.Description,
		Stages:            req.Stages,
		SCMClassification: req.SCMClassification,
		CICDJobIDs:        req.CICDJobIDs,
	}

	if err := s.repo.CreateConfig(ctx, cfg); err != nil {
		metrics.IncProfileMutation(ActionCreate, "error")
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	metrics.IncProfileMutation(ActionCreate, "success")

	s.audit(ctx, tenant, &cfg.ID, ActionCreate, nil, configSnapshot(cfg), changedBy)
	s.publish(ctx, tenant, cfg.ID, ActionCreate, changedBy)

	return cfg, nil
}

func (s *service) GetConfig(ctx context.Context, tenant, id string) (*VelocityConfig, error) {
	cfg, err := s.repo.GetConfig(ctx, tenant, id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return cfg, nil
}

func (s *service) ListConfigs(ctx context.Context, tenant string) ([]VelocityConfig, error) {
	configs, err := s.repo.ListConfigs(ctx, tenant)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return configs, nil
}

func (s *service) GetDefaultConfig(ctx context.Context, tenant string) (*VelocityConfig, error) {
	cfg, err := s.repo.GetDefaultConfig(ctx, tenant)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return cfg, nil
}

func (s *service) SetDefaultConfig(ctx context.Context, tenant, id, changedBy string) error {
	if err := s.repo.SetDefaultConfig(ctx, tenant, id); err != nil {
		metrics.IncProfileMutation(ActionSetDefault, "error")
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	metrics.IncProfileMutation(ActionSetDefault, "success")

	s.audit(ctx, tenant, &id, ActionSetDefault, nil,
		map[string]interface{}{"is_default": true}, changedBy)
	s.publish(ctx, tenant, id, ActionSetDefault, changedBy)

	return nil
}

func (s *service) DeleteConfig(ctx context.Context, tenant, id, changedBy string) error {
	old, err := s.repo.GetConfig(ctx, tenant, id)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	if err := s.repo.DeleteConfig(ctx, tenant, id); err != nil {
		metrics.IncProfileMutation(ActionDelete, "error")
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	metrics.IncProfileMutation(ActionDelete, "success")

	s.audit(ctx, tenant, &id, ActionDelete, configSnapshot(old), nil, changedBy)
	s.publish(ctx, tenant, id, ActionDelete, changedBy)

	return nil
}

func (s *service) UpdateAssociations(ctx context.Context, tenant, profileID, changedBy string, req UpdateAssociationsRequest) error {
	if req.ProfileType == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "profile_type is required")
	}
	if req.ProfileType == TypeVelocity {
		// Reject associations dangling off an unknown velocity config.
		if _, err := s.repo.GetConfig(ctx, tenant, profileID); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}
	}

	old, err := s.repo.ListAssociations(ctx, tenant, profileID, req.ProfileType)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	if err := s.repo.ReplaceAssociations(ctx, tenant, profileID, req.ProfileType, req.OuRefIDs); err != nil {
		metrics.IncProfileMutation(ActionUpdateAssociations, "error")
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	metrics.IncProfileMutation(ActionUpdateAssociations, "success")

	s.audit(ctx, tenant, &profileID, ActionUpdateAssociations,
		map[string]interface{}{"ou_ref_ids": associationIDs(old)},
		map[string]interface{}{"ou_ref_ids": req.OuRefIDs}, changedBy)
	s.publish(ctx, tenant, profileID, ActionUpdateAssociations, changedBy)

	return nil
}

func (s *service) ListAssociations(ctx context.Context, tenant, profileID, profileType string) ([]Association, error) {
	associations, err := s.repo.ListAssociations(ctx, tenant, profileID, profileType)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return associations, nil
}

func (s *service) ListAuditLogs(ctx context.Context, tenant string, limit, offset int) ([]AuditLog, error) {
	entries, err := s.repo.ListAuditLogs(ctx, tenant, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return entries, nil
}

// audit records the mutation. Audit failures are logged, never surfaced:
// the mutation itself already committed.
func (s *service) audit(ctx context.Context, tenant string, profileID *string, action string, oldValue, newValue map[string]interface{}, changedBy string) {
	entry := &AuditLog{
		Tenant:    tenant,
		ProfileID: profileID,
		Action:    action,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: changedBy,
	}
	if err := s.repo.InsertAuditLog(ctx, entry); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write audit log",
			"action", action,
			"error", err,
		)
	}
}

// publish emits the config-change event best effort.
func (s *service) publish(ctx context.Context, tenant, profileID, action, changedBy string) {
	if err := s.notifier.PublishConfigEvent(ctx, tenant, profileID, action, changedBy); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish config event",
			"action", action,
			"profile_id", profileID,
			"error", err,
		)
	}
}

func configSnapshot(cfg *VelocityConfig) map[string]interface{} {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return map[string]interface{}{"id": cfg.ID, "name": cfg.Name}
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return map[string]interface{}{"id": cfg.ID, "name": cfg.Name}
	}
	return snapshot
}

func associationIDs(associations []Association) []int {
	ids := make([]int, len(associations))
	for i, a := range associations {
		ids[i] = a.OuRefID
	}
	return ids
}
