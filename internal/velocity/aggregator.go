package velocity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"velo/internal/constants"
	"velo/internal/filter"
	"velo/internal/logger"
	"velo/internal/predicate"
	"velo/internal/profile"
	"velo/internal/scm"
	"velo/pkg/cel"
	pkgerrors "velo/pkg/errors"
	"velo/pkg/metrics"
)

// ConfigProvider resolves the stage configuration a calculation runs
// under. Satisfied by the profile service.
type ConfigProvider interface {
	GetConfig(ctx context.Context, tenant, id string) (*profile.VelocityConfig, error)
	GetDefaultConfig(ctx context.Context, tenant string) (*profile.VelocityConfig, error)
}

type Service interface {
	Calculate(ctx context.Context, tenant string, req *CalculateRequest) (*CalculateResult, error)
}

// Options tunes the aggregator; zero values fall back to defaults.
type Options struct {
	Workers         int
	DefaultPageSize int
}

type service struct {
	configs   ConfigProvider
	items     ItemSource
	events    EventSource
	org       OrgDirectory
	cache     ResultCache
	evaluator *cel.Evaluator
	workers   int
	pageSize  int
	logger    logger.Logger
}

type ServiceOption func(*service)

// WithResultCache enables the read-through result cache.
func WithResultCache(cache ResultCache) ServiceOption {
	return func(s *service) {
		s.cache = cache
	}
}

func NewService(configs ConfigProvider, items ItemSource, events EventSource, org OrgDirectory,
	evaluator *cel.Evaluator, opts Options, log logger.Logger, serviceOpts ...ServiceOption) Service {
	workers := opts.Workers
	if workers <= 0 {
		workers = constants.DefaultCalcWorkers
	}
	if workers > constants.MaxCalcWorkers {
		workers = constants.MaxCalcWorkers
	}
	pageSize := opts.DefaultPageSize
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}

	s := &service{
		configs:   configs,
		items:     items,
		events:    events,
		org:       org,
		evaluator: evaluator,
		workers:   workers,
		pageSize:  pageSize,
		logger:    log,
	}
	for _, opt := range serviceOpts {
		opt(s)
	}
	return s
}

// Calculate runs one aggregation request end to end: resolve the stage
// configuration, select the eligible population, fan the duration
// engine out over it, bucket and paginate. The engine itself is
// stateless across requests; everything here is request-scoped.
func (s *service) Calculate(ctx context.Context, tenant string, req *CalculateRequest) (*CalculateResult, error) {
	start := time.Now()

	if tenant == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "tenant is required")
	}
	if err := req.Validate(); err != nil {
		metrics.IncCalculateRequest(string(req.Mode), "invalid")
		return nil, err
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, tenant, req); ok {
			metrics.IncCalculateRequest(string(req.Mode), "cache_hit")
			return cached, nil
		}
	}

	result, err := s.calculate(ctx, tenant, req)
	if err != nil {
		metrics.IncCalculateRequest(string(req.Mode), "error")
		return nil, err
	}
	metrics.IncCalculateRequest(string(req.Mode), "success")
	metrics.ObserveCalculateDuration(string(req.Mode), time.Since(start))

	if s.cache != nil {
		s.cache.Set(ctx, tenant, req, result)
	}
	return result, nil
}

func (s *service) calculate(ctx context.Context, tenant string, req *CalculateRequest) (*CalculateResult, error) {
	cfg, err := s.resolveConfig(ctx, tenant, req.ConfigID)
	if err != nil {
		return nil, err
	}
	computer, err := NewComputer(cfg.Stages)
	if err != nil {
		return nil, err
	}

	scoped := *req
	if req.ApplyOrgUnitScoping {
		if err := s.applyOrgScoping(ctx, tenant, &scoped); err != nil {
			return nil, err
		}
	}

	population, err := s.selectPopulation(ctx, tenant, cfg, &scoped)
	if err != nil {
		return nil, err
	}

	results, err := s.computeAll(ctx, tenant, computer, population)
	if err != nil {
		// Cancellation or a collaborator failure: partial results are
		// discarded, never merged.
		return nil, err
	}

	if req.Mode == ModePRVelocity && len(cfg.SCMClassification) > 0 {
		if err := s.classifyAll(ctx, cfg, population, results); err != nil {
			return nil, err
		}
	}

	metrics.ItemsComputedTotal.WithLabelValues(string(req.Mode)).Add(float64(len(results)))

	missing := 0
	for _, r := range results {
		missing += r.MissingStages
	}
	metrics.StagesMissingTotal.Add(float64(missing))

	buckets := s.aggregate(req, results)
	total := len(buckets)
	page, pageSize := s.pageBounds(req)

	return &CalculateResult{
		Mode:          req.Mode,
		Dimension:     req.Dimension,
		Buckets:       slicePage(buckets, page, pageSize),
		BucketCount:   total,
		Population:    len(population),
		MissingStages: missing,
		Page:          page,
		PageSize:      pageSize,
	}, nil
}

func (s *service) resolveConfig(ctx context.Context, tenant, configID string) (*profile.VelocityConfig, error) {
	if configID != "" {
		return s.configs.GetConfig(ctx, tenant, configID)
	}
	return s.configs.GetDefaultConfig(ctx, tenant)
}

// applyOrgScoping narrows the user lists of the request's filters to the
// requesting org units' members. Primary role lists (assignee, author)
// intersect with the member set, or become it when absent. Secondary
// role lists (reporter, reviewer, approver) intersect only when the
// request names them; an absent secondary list never starts
// constraining its role.
func (s *service) applyOrgScoping(ctx context.Context, tenant string, req *CalculateRequest) error {
	members, err := s.org.Members(ctx, tenant, req.OuRefIDs)
	if err != nil {
		return err
	}
	if req.IssueFilter != nil {
		req.IssueFilter = scopeIssueFilter(req.IssueFilter, members)
	} else if req.Mode == ModeTicketVelocity {
		req.IssueFilter = &filter.IssueFilter{Assignees: members}
	}
	if req.WorkItemFilter != nil {
		req.WorkItemFilter = scopeIssueFilter(req.WorkItemFilter, members)
	}
	if req.PRFilter != nil {
		scoped := *req.PRFilter
		scoped.Authors = scopeUsers(scoped.Authors, members)
		if len(scoped.Reviewers) > 0 {
			scoped.Reviewers = scopeUsers(scoped.Reviewers, members)
		}
		if len(scoped.Approvers) > 0 {
			scoped.Approvers = scopeUsers(scoped.Approvers, members)
		}
		req.PRFilter = &scoped
	} else if req.Mode == ModePRVelocity {
		req.PRFilter = &filter.PRFilter{Authors: members}
	}
	return nil
}

func scopeIssueFilter(f *filter.IssueFilter, members []string) *filter.IssueFilter {
	scoped := *f
	scoped.Assignees = scopeUsers(scoped.Assignees, members)
	if len(scoped.Reporters) > 0 {
		scoped.Reporters = scopeUsers(scoped.Reporters, members)
	}
	return &scoped
}

// scopeUsers intersects an explicit user list with the scoped member
// set; an empty explicit list means the member set itself. An empty
// intersection stays non-empty ("match nothing") rather than collapsing
// back to match-all.
func scopeUsers(explicit, members []string) []string {
	if len(explicit) == 0 {
		return members
	}
	allowed := make(map[string]struct{}, len(members))
	for _, m := range members {
		allowed[m] = struct{}{}
	}
	scoped := make([]string, 0, len(explicit))
	for _, u := range explicit {
		if _, ok := allowed[u]; ok {
			scoped = append(scoped, u)
		}
	}
	if len(scoped) == 0 {
		return []string{"\x00nobody"}
	}
	return scoped
}

// selectPopulation picks the candidate work items per the calculation
// mode. ticket_velocity unions the issue tracker with the secondary
// work-item source when the request filters on it; pr_velocity
// constrains PRs by their associated commits and job runs when those
// filters are present.
func (s *service) selectPopulation(ctx context.Context, tenant string, cfg *profile.VelocityConfig, req *CalculateRequest) ([]WorkItem, error) {
	switch req.Mode {
	case ModeTicketVelocity:
		issues, _, err := s.items.ListEligible(ctx, tenant, KindIssue, req.IssueFilter.Compose())
		if err != nil {
			return nil, err
		}
		if req.WorkItemFilter != nil {
			extra, _, err := s.items.ListEligible(ctx, tenant, KindWorkItem, req.WorkItemFilter.Compose())
			if err != nil {
				return nil, err
			}
			issues = unionByID(issues, extra)
		}
		return issues, nil

	case ModePRVelocity:
		prs, _, err := s.items.ListEligible(ctx, tenant, KindPR, req.PRFilter.Compose())
		if err != nil {
			return nil, err
		}
		if req.CommitFilter != nil {
			eligible, err := s.associatedPRs(ctx, tenant, KindCommit, req.CommitFilter.Compose())
			if err != nil {
				return nil, err
			}
			prs = intersectByID(prs, eligible)
		}
		if req.JobRunFilter != nil {
			set := req.JobRunFilter.Compose()
			if len(cfg.CICDJobIDs) > 0 {
				jf := *req.JobRunFilter
				jf.JobIDs = mergeJobIDs(jf.JobIDs, cfg.CICDJobIDs)
				set = jf.Compose()
			}
			eligible, err := s.associatedPRs(ctx, tenant, KindJobRun, set)
			if err != nil {
				return nil, err
			}
			prs = intersectByID(prs, eligible)
		}
		return prs, nil
	}
	return nil, pkgerrors.ErrValidation.WithDetail("message", "unknown calculation mode")
}

// associatedPRs maps eligible commits or job runs back to the PR ids
// they carry in their pr_id field.
func (s *service) associatedPRs(ctx context.Context, tenant string, kind ItemKind, set predicate.Set) (map[string]struct{}, error) {
	items, _, err := s.items.ListEligible(ctx, tenant, kind, set)
	if err != nil {
		return nil, err
	}
	eligible := make(map[string]struct{}, len(items))
	for i := range items {
		prID, ok := predicate.AsString(items[i].Fields["pr_id"])
		if !ok || prID == "" {
			continue
		}
		eligible[prID] = struct{}{}
	}
	return eligible, nil
}

func unionByID(primary, secondary []WorkItem) []WorkItem {
	seen := make(map[string]struct{}, len(primary))
	for _, item := range primary {
		seen[item.ID] = struct{}{}
	}
	for _, item := range secondary {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		primary = append(primary, item)
	}
	return primary
}

func intersectByID(prs []WorkItem, eligible map[string]struct{}) []WorkItem {
	out := prs[:0]
	for _, pr := range prs {
		if _, ok := eligible[pr.ID]; ok {
			out = append(out, pr)
		}
	}
	return out
}

func mergeJobIDs(requested, associated []string) []string {
	if len(requested) == 0 {
		return associated
	}
	allowed := make(map[string]struct{}, len(associated))
	for _, id := range associated {
		allowed[id] = struct{}{}
	}
	merged := make([]string, 0, len(requested))
	for _, id := range requested {
		if _, ok := allowed[id]; ok {
			merged = append(merged, id)
		}
	}
	if len(merged) == 0 {
		return []string{"\x00none"}
	}
	return merged
}

// computeAll fans the duration engine out over the population, bounded
// by the worker limit. Per-item output lands in its own slot so no
// merge lock is needed; a group error abandons the whole batch.
func (s *service) computeAll(ctx context.Context, tenant string, computer *Computer, population []WorkItem) ([]ItemResult, error) {
	if len(population) == 0 {
		return nil, nil
	}

	ids := make([]string, len(population))
	for i, item := range population {
		ids[i] = item.ID
	}
	events, err := s.events.ListEvents(ctx, tenant, ids, nil)
	if err != nil {
		return nil, err
	}
	byItem := eventsByItem(events)

	results := make([]ItemResult, len(population))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range population {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item := &population[i]
			results[i] = computer.Compute(item, byItem[item.ID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// classifyAll annotates PR results with their SCM class.
func (s *service) classifyAll(ctx context.Context, cfg *profile.VelocityConfig, population []WorkItem, results []ItemResult) error {
	classifier, err := scm.NewClassifier(s.evaluator, cfg.SCMClassification, s.logger)
	if err != nil {
		return err
	}
	for i := range population {
		item := &population[i]
		results[i].SCMClass = classifier.Classify(ctx, item.ID, item.Fields, item.Labels)
	}
	return nil
}

// aggregate buckets the computed results by the requested dimension.
// Only items with at least one resolved duration land in buckets, so
// the bucket counts sum to the computed-item count.
func (s *service) aggregate(req *CalculateRequest, results []ItemResult) []Bucket {
	index := make(map[string]*Bucket)
	var order []string

	add := func(key, stageName, scmClass string) {
		mapKey := stageName + "\x00" + key
		b, ok := index[mapKey]
		if !ok {
			b = &Bucket{Key: key, Stage: stageName}
			index[mapKey] = b
			order = append(order, mapKey)
		}
		b.Count++
		if scmClass != "" {
			if b.SCMClasses == nil {
				b.SCMClasses = make(map[string]int)
			}
			b.SCMClasses[scmClass]++
		}
	}

	for _, r := range results {
		if !r.Computed() {
			continue
		}
		switch req.Dimension {
		case DimensionTrend:
			add(isoWeek(r.CreatedAt), "", r.SCMClass)
		case DimensionVelocity:
			if req.PerStage {
				for _, sd := range r.Stages {
					if sd.Classification == ClassNotComputed {
						continue
					}
					add(string(sd.Classification), sd.Stage, r.SCMClass)
				}
			} else {
				add(string(r.Overall()), "", r.SCMClass)
			}
		}
	}

	buckets := make([]Bucket, 0, len(order))
	for _, mapKey := range order {
		buckets = append(buckets, *index[mapKey])
	}
	sortBuckets(buckets)
	return buckets
}

// classRank orders classification bucket keys from fast to slow.
var classRank = map[string]int{
	string(ClassBelow):       0,
	string(ClassWithinRange): 1,
	string(ClassAbove):       2,
}

// sortBuckets fixes a deterministic output order: by stage, then by
// classification rank for velocity keys, lexically otherwise (ISO week
// keys sort chronologically that way).
func sortBuckets(buckets []Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Stage != buckets[j].Stage {
			return buckets[i].Stage < buckets[j].Stage
		}
		ri, iok := classRank[buckets[i].Key]
		rj, jok := classRank[buckets[j].Key]
		if iok && jok {
			return ri < rj
		}
		return buckets[i].Key < buckets[j].Key
	})
}

// isoWeek renders the trend bucket key, e.g. "2026-W35".
func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func (s *service) pageBounds(req *CalculateRequest) (page, pageSize int) {
	page = req.Page
	pageSize = req.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	if pageSize > constants.MaxPageSize {
		pageSize = constants.MaxPageSize
	}
	return page, pageSize
}

// slicePage slices the aggregated bucket list; aggregation already
// happened once, so no item is ever double counted across pages.
func slicePage(buckets []Bucket, page, pageSize int) []Bucket {
	start := page * pageSize
	if start >= len(buckets) {
		return []Bucket{}
	}
	end := start + pageSize
	if end > len(buckets) {
		end = len(buckets)
	}
	return buckets[start:end]
}
