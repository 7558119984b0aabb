package profile

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velo/internal/logger"
	"velo/internal/stage"
	"velo/pkg/cel"
	pkgerrors "velo/pkg/errors"
)

// fakeRepository mimics the Postgres repository's invariants in memory,
// including the transactional single-default behavior.
type fakeRepository struct {
	mu           sync.Mutex
	configs      map[string]*VelocityConfig
	associations map[string][]Association
	audits       []AuditLog
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		configs:      make(map[string]*VelocityConfig),
		associations: make(map[string][]Association),
	}
}

func (f *fakeRepository) CreateConfig(_ context.Context, cfg *VelocityConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.configs {
		if existing.Tenant == cfg.Tenant && existing.Name == cfg.Name {
			return pkgerrors.ErrConflict.WithDetail("message", "duplicate name")
		}
	}
	f.nextID++
	cfg.ID = fmt.Sprintf("cfg-%d", f.nextID)
	clone := *cfg
	f.configs[cfg.ID] = &clone
	return nil
}

func (f *fakeRepository) GetConfig(_ context.Context, tenant, id string) (*VelocityConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[id]
	if !ok || cfg.Tenant != tenant {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "velocity config not found")
	}
	clone := *cfg
	return &clone, nil
}

func (f *fakeRepository) ListConfigs(_ context.Context, tenant string) ([]VelocityConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []VelocityConfig
	for _, cfg := range f.configs {
		if cfg.Tenant == tenant {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (f *fakeRepository) GetDefaultConfig(_ context.Context, tenant string) (*VelocityConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cfg := range f.configs {
		if cfg.Tenant == tenant && cfg.IsDefault {
			clone := *cfg
			return &clone, nil
		}
	}
	return nil, pkgerrors.ErrNotFound.WithDetail("message", "velocity config not found")
}

func (f *fakeRepository) SetDefaultConfig(_ context.Context, tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.configs[id]
	if !ok || target.Tenant != tenant {
		return pkgerrors.ErrNotFound.WithDetail("message", "velocity config not found")
	}
	for _, cfg := range f.configs {
		if cfg.Tenant == tenant {
			cfg.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (f *fakeRepository) DeleteConfig(_ context.Context, tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[id]
	if !ok || cfg.Tenant != tenant {
		return pkgerrors.ErrNotFound.WithDetail("message", "velocity config not found")
	}
	delete(f.configs, id)
	return nil
}

func (f *fakeRepository) ReplaceAssociations(_ context.Context, tenant, profileID, profileType string, ouRefIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tenant + "/" + profileID + "/" + profileType
	out := make([]Association, 0, len(ouRefIDs))
	for _, ouRefID := range ouRefIDs {
		out = append(out, Association{OuRefID: ouRefID, ProfileID: profileID, ProfileType: profileType})
	}
	f.associations[key] = out
	return nil
}

func (f *fakeRepository) ListAssociations(_ context.Context, tenant, profileID, profileType string) ([]Association, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tenant + "/" + profileID + "/" + profileType
	return append([]Association(nil), f.associations[key]...), nil
}

func (f *fakeRepository) InsertAuditLog(_ context.Context, entry *AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, *entry)
	return nil
}

func (f *fakeRepository) ListAuditLogs(_ context.Context, tenant string, limit, offset int) ([]AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AuditLog
	for _, entry := range f.audits {
		if entry.Tenant == tenant {
			out = append(out, entry)
		}
	}
	return out, nil
}

func newTestService(t *testing.T) (Service, *fakeRepository) {
	t.Helper()
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)
	repo := newFakeRepository()
	return NewService(repo, evaluator, logger.NopLogger()), repo
}

func validStages() stage.Groups {
	return stage.Groups{
		Fixed: []stage.Definition{
			{
				Name:  "In Review",
				Order: 0,
				Event: stage.EventSpec{Type: stage.EventPRReviewStarted},
			},
			{
				Name:       "Approved",
				Order:      1,
				UpperLimit: stage.Limit{Value: 2, Unit: stage.UnitDays},
				Event:      stage.EventSpec{Type: stage.EventPRApproved},
			},
		},
	}
}

func TestCreateConfig(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	cfg, err := svc.CreateConfig(ctx, "acme", "alice", CreateConfigRequest{
		Name:   "delivery",
		Stages: validStages(),
		SCMClassification: map[string]string{
			"defect": `"bug" in labels`,
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ID)
	assert.Equal(t, "acme", cfg.Tenant)
	assert.False(t, cfg.IsDefault)

	// Duplicate name within the tenant conflicts.
	_, err = svc.CreateConfig(ctx, "acme", "alice", CreateConfigRequest{
		Name:   "delivery",
		Stages: validStages(),
	})
	assert.True(t, pkgerrors.IsConflict(err))

	// Mutation was audited.
	logs, err := svc.ListAuditLogs(ctx, "acme", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionCreate, logs[0].Action)
	_ = repo
}

func TestCreateConfigValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateConfig(ctx, "acme", "alice", CreateConfigRequest{
		Stages: validStages(),
	})
	assert.True(t, pkgerrors.IsValidation(err), "missing name")

	_, err = svc.CreateConfig(ctx, "acme", "alice", CreateConfigRequest{
		Name: "bad-stages",
		Stages: stage.Groups{Fixed: []stage.Definition{
			{Name: "a", Order: 0, Event: stage.EventSpec{Type: stage.EventPRCreated}},
			{Name: "b", Order: 0, Event: stage.EventSpec{Type: stage.EventPRMerged}},
		}},
	})
	assert.True(t, pkgerrors.IsValidation(err), "duplicate stage order")

	_, err = svc.CreateConfig(ctx, "acme", "alice", CreateConfigRequest{
		Name:              "bad-rule",
		Stages:            validStages(),
		SCMClassification: map[string]string{"defect": `not valid cel!!!`},
	})
	assert.True(t, pkgerrors.IsValidation(err), "broken classification rule")
}

func TestSetDefaultConfig(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateConfig(ctx, "acme", "alice", CreateConfigRequest{Name: "one", Stages: validStages()})
	require.NoError(t, err)
	second, err := svc.CreateConfig(ctx, "acme", "alice", CreateConfigRequest{Name: "two", Stages: validStages()})
	require.NoError(t, err)

	require.NoError(t, svc.SetDefaultConfig(ctx, "acme", first.ID, "alice"))
	require.NoError(t, svc.SetDefaultConfig(ctx, "acme", second.ID, "alice"))

	def, err := svc.GetDefaultConfig(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	got, err := svc.GetConfig(ctx, "acme", first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault, "previous default must be cleared")

	err = svc.SetDefaultConfig(ctx, "acme", "no-such-id", "alice")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSetDefaultConfigConcurrent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		cfg, err := svc.CreateConfig(ctx, "acme", "alice",
			CreateConfigRequest{Name: fmt.Sprintf("cfg-%d", i), Stages: validStages()})
		require.NoError(t, err)
		ids[i] = cfg.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = svc.SetDefaultConfig(ctx, "acme", id, "alice")
		}(id)
	}
	wg.Wait()

	repo.mu.Lock()
	defaults := 0
	for _, cfg := range repo.configs {
		if cfg.IsDefault {
			defaults++
		}
	}
	repo.mu.Unlock()
	assert.Equal(t, 1, defaults, "exactly one default regardless of interleaving")
}

func TestUpdateAssociations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cfg, err := svc.CreateConfig(ctx, "acme", "alice", CreateConfigRequest{Name: "one", Stages: validStages()})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateAssociations(ctx, "acme", cfg.ID, "alice", UpdateAssociationsRequest{
		ProfileType: TypeVelocity,
		OuRefIDs:    []int{1, 2},
	}))

	// A second update replaces the set wholesale and keeps order.
	require.NoError(t, svc.UpdateAssociations(ctx, "acme", cfg.ID, "alice", UpdateAssociationsRequest{
		ProfileType: TypeVelocity,
		OuRefIDs:    []int{3, 2},
	}))

	got, err := svc.ListAssociations(ctx, "acme", cfg.ID, TypeVelocity)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].OuRefID)
	assert.Equal(t, 2, got[1].OuRefID)

	err = svc.UpdateAssociations(ctx, "acme", "missing", "alice", UpdateAssociationsRequest{
		ProfileType: TypeVelocity,
		OuRefIDs:    []int{1},
	})
	assert.True(t, pkgerrors.IsNotFound(err))
}
