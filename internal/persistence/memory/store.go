// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/persistence"
)

type tenantKey struct {
	tenant string
	id     string
}

type instanceKey struct {
	tenant string
	domain.InstanceKey
}

type stageAnchorKey struct {
	tenant   string
	lead     string
	pipeline string
	stage    string
}

// Store implements every cadence store contract in memory.
type Store struct {
	mu              sync.RWMutex
	stages          map[tenantKey][]domain.Stage
	templates       map[tenantKey]domain.CadenceTemplate
	instances       map[instanceKey]domain.TaskInstance
	pipelineAnchors map[stageAnchorKey]time.Time
	stageAnchors    map[stageAnchorKey]time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		stages:          make(map[tenantKey][]domain.Stage),
		templates:       make(map[tenantKey]domain.CadenceTemplate),
		instances:       make(map[instanceKey]domain.TaskInstance),
		pipelineAnchors: make(map[stageAnchorKey]time.Time),
		stageAnchors:    make(map[stageAnchorKey]time.Time),
	}
}

// AddStage seeds a pipeline stage. Stages are owned by the pipeline subsystem; this is the local stand-in.
func (s *Store) AddStage(tenantID string, stage domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey{tenant: tenantID, id: stage.PipelineID}
	stages := s.stages[key]
	for i, existing := range stages {
		if existing.Name == stage.Name {
			stages[i] = stage
			s.sortStages(key)
			return
		}
	}
	s.stages[key] = append(stages, stage)
	s.sortStages(key)
}

func (s *Store) sortStages(key tenantKey) {
	sort.SliceStable(s.stages[key], func(i, j int) bool {
		return s.stages[key][i].OrderIndex < s.stages[key][j].OrderIndex
	})
}

// ListStages implements domain.StageResolver.
func (s *Store) ListStages(ctx context.Context, tenantID, pipelineID string) ([]domain.Stage, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("list stages", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stages := s.stages[tenantKey{tenant: tenantID, id: pipelineID}]
	out := make([]domain.Stage, len(stages))
	copy(out, stages)
	return out, nil
}

// CreateTemplate implements domain.TemplateAdmin.
func (s *Store) CreateTemplate(ctx context.Context, tpl domain.CadenceTemplate) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient("create template", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(tpl.ID) == "" {
		tpl.ID = uuid.NewString()
	}
	for _, existing := range s.templates {
		if existing.TenantID == tpl.TenantID && existing.PipelineID == tpl.PipelineID &&
			existing.StageName == tpl.StageName && existing.TaskOrder == tpl.TaskOrder {
			return fmt.Errorf("%w: task_order %d", domain.ErrTemplateConflict, tpl.TaskOrder)
		}
	}
	s.templates[tenantKey{tenant: tpl.TenantID, id: tpl.ID}] = tpl
	return nil
}

// ListTemplates implements domain.TemplateAdmin.
func (s *Store) ListTemplates(ctx context.Context, tenantID, pipelineID, stageName string) ([]domain.CadenceTemplate, error) {
	return s.listTemplates(ctx, tenantID, pipelineID, stageName, false)
}

// ListActiveTemplates implements domain.TemplateStore.
func (s *Store) ListActiveTemplates(ctx context.Context, tenantID, pipelineID, stageName string) ([]domain.CadenceTemplate, error) {
	return s.listTemplates(ctx, tenantID, pipelineID, stageName, true)
}

func (s *Store) listTemplates(ctx context.Context, tenantID, pipelineID, stageName string, activeOnly bool) ([]domain.CadenceTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("list templates", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CadenceTemplate, 0)
	for key, tpl := range s.templates {
		if key.tenant != tenantID || tpl.PipelineID != pipelineID || tpl.StageName != stageName {
			continue
		}
		if activeOnly && !tpl.Active {
			continue
		}
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskOrder < out[j].TaskOrder })
	return out, nil
}

// SetTemplateActive implements domain.TemplateAdmin.
func (s *Store) SetTemplateActive(ctx context.Context, tenantID, templateID string, active bool) (*domain.CadenceTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("set template active", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey{tenant: tenantID, id: templateID}
	tpl, ok := s.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: template %s", domain.ErrNotFound, templateID)
	}
	tpl.Active = active
	tpl.UpdatedAt = time.Now().UTC()
	s.templates[key] = tpl
	return &tpl, nil
}

// RecordAnchors implements domain.AnchorStore.
func (s *Store) RecordAnchors(ctx context.Context, tenantID, leadID, pipelineID string, pipelineEnteredAt time.Time, stageEntries map[string]time.Time) (domain.LeadAnchors, error) {
	if err := ctx.Err(); err != nil {
		return domain.LeadAnchors{}, domain.Transient("record anchors", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pipeKey := stageAnchorKey{tenant: tenantID, lead: leadID, pipeline: pipelineID}
	if _, ok := s.pipelineAnchors[pipeKey]; !ok && !pipelineEnteredAt.IsZero() {
		s.pipelineAnchors[pipeKey] = pipelineEnteredAt.UTC()
	}
	for stage, ts := range stageEntries {
		if ts.IsZero() {
			continue
		}
		key := stageAnchorKey{tenant: tenantID, lead: leadID, pipeline: pipelineID, stage: stage}
		if _, ok := s.stageAnchors[key]; !ok {
			s.stageAnchors[key] = ts.UTC()
		}
	}

	anchors := domain.LeadAnchors{
		PipelineEnteredAt: s.pipelineAnchors[pipeKey],
		StageEnteredAt:    make(map[string]time.Time),
	}
	for key, ts := range s.stageAnchors {
		if key.tenant == tenantID && key.lead == leadID && key.pipeline == pipelineID {
			anchors.StageEnteredAt[key.stage] = ts
		}
	}
	return anchors, nil
}

// ListByLeadAndStage implements domain.InstanceStore.
func (s *Store) ListByLeadAndStage(ctx context.Context, tenantID, leadID, stageName string) ([]domain.TaskInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("list instances", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TaskInstance, 0)
	for key, inst := range s.instances {
		if key.tenant == tenantID && key.LeadID == leadID && key.StageName == stageName {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskOrder < out[j].TaskOrder })
	return out, nil
}

// InsertInstances implements domain.InstanceStore. The batch is applied under one lock so it is all-or-nothing.
func (s *Store) InsertInstances(ctx context.Context, tenantID, leadID, stageName string, instances []domain.TaskInstance) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.Transient("insert instances", err)
	}
	for _, inst := range instances {
		if inst.TenantID != tenantID || inst.LeadID != leadID || inst.StageName != stageName {
			return 0, fmt.Errorf("%w: instance %s does not belong to %s/%s/%s", domain.ErrTenantMismatch, inst.ID, tenantID, leadID, stageName)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for _, inst := range instances {
		key := instanceKey{tenant: tenantID, InstanceKey: inst.Key()}
		if _, exists := s.instances[key]; exists {
			continue
		}
		s.instances[key] = inst
		created++
	}
	return created, nil
}

// ListByLead implements domain.InstanceStore.
func (s *Store) ListByLead(ctx context.Context, tenantID, leadID string, cursor *domain.Cursor, limit int) ([]domain.TaskInstance, *domain.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.Transient("list lead instances", err)
	}
	s.mu.RLock()
	all := make([]domain.TaskInstance, 0)
	for key, inst := range s.instances {
		if key.tenant == tenantID && key.LeadID == leadID {
			all = append(all, inst)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].ScheduledAt.Equal(all[j].ScheduledAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].ScheduledAt.Before(all[j].ScheduledAt)
	})

	page := make([]domain.TaskInstance, 0, limit)
	for _, inst := range all {
		if !persistence.After(cursor, inst.ScheduledAt, inst.ID) {
			continue
		}
		page = append(page, inst)
		if len(page) == limit+1 {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(page) > limit {
		page = page[:limit]
		last := page[len(page)-1]
		next = &domain.Cursor{ScheduledAt: last.ScheduledAt, ID: last.ID}
	}
	return page, next, nil
}

// Instances returns every instance of a lead across stages; used by tests and the CLI.
func (s *Store) Instances(tenantID, leadID string) []domain.TaskInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TaskInstance, 0)
	for key, inst := range s.instances {
		if key.tenant == tenantID && key.LeadID == leadID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StageName == out[j].StageName {
			return out[i].TaskOrder < out[j].TaskOrder
		}
		return out[i].StageName < out[j].StageName
	})
	return out
}
