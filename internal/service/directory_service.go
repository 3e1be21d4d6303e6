package service

import (
	"context"
	"errors"
	"net/mail"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// DirectoryService manages assignable people, groups, and the escalation matrix.
type DirectoryService struct {
	deps Dependencies
}

// PersonInput describes a new assignable person.
type PersonInput struct {
	BusinessUnitID int64
	ClientID       int64
	Name           string
	Email          string
}

// GroupInput describes a new assignee group.
type GroupInput struct {
	Name  string
	Email string
}

// NewDirectoryService constructs the service.
func NewDirectoryService(deps Dependencies) *DirectoryService {
	return &DirectoryService{deps: deps.withDefaults()}
}

func (s *DirectoryService) require(actor *domain.Actor, action auth.Action, businessUnitID int64) error {
	if actor == nil {
		return apperrors.NewUnauthorized("actor required")
	}
	scope := auth.Scope{TenantID: actor.TenantID, BusinessUnitID: businessUnitID}
	if !s.deps.Permissions.HasPermission(actor, action, scope) {
		return apperrors.NewForbidden("permission denied")
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", apperrors.NewValidationError("invalid email", map[string]any{"email": raw})
	}
	return strings.ToLower(addr.Address), nil
}

// CreatePerson adds an active person to the actor's tenant.
func (s *DirectoryService) CreatePerson(ctx context.Context, actor *domain.Actor, input PersonInput) (*domain.Person, error) {
	if err := s.require(actor, auth.ActionManageDirectory, input.BusinessUnitID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name is required", nil)
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	person := &domain.Person{
		TenantID:       actor.TenantID,
		BusinessUnitID: input.BusinessUnitID,
		ClientID:       input.ClientID,
		Name:           name,
		Email:          email,
		Active:         true,
	}
	if err := s.deps.Store.People().Create(ctx, person); err != nil {
		s.deps.Logger.Error("create person failed", zap.Error(err))
		return nil, apperrors.MapError(err)
	}
	return person, nil
}

// CreateGroup adds an active group to the actor's tenant.
func (s *DirectoryService) CreateGroup(ctx context.Context, actor *domain.Actor, input GroupInput) (*domain.Group, error) {
	if err := s.require(actor, auth.ActionManageDirectory, 0); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name is required", nil)
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	group := &domain.Group{TenantID: actor.TenantID, Name: name, Email: email, Active: true}
	if err := s.deps.Store.Groups().Create(ctx, group); err != nil {
		s.deps.Logger.Error("create group failed", zap.Error(err))
		return nil, apperrors.MapError(err)
	}
	return group, nil
}

// ListMatrix returns the tenant's escalation matrix ordered by category and level.
func (s *DirectoryService) ListMatrix(ctx context.Context, actor *domain.Actor) ([]domain.MatrixEntry, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	entries, err := s.deps.Store.Escalations().ListEntries(ctx, actor.TenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// ConfigureMatrix upserts matrix entries for the actor's tenant. The merged
// matrix must keep one entry per category and level with levels contiguous
// from 1; targets must be people or groups of the same tenant.
func (s *DirectoryService) ConfigureMatrix(ctx context.Context, actor *domain.Actor, entries []domain.MatrixEntry) ([]domain.MatrixEntry, error) {
	if err := s.require(actor, auth.ActionManageMatrix, 0); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.NewValidationError("at least one entry is required", nil)
	}
	seen := make(map[[2]int64]struct{}, len(entries))
	for _, e := range entries {
		k := [2]int64{e.CategoryID, int64(e.Level)}
		if _, dup := seen[k]; dup {
			return nil, apperrors.NewValidationError("duplicate category level in request",
				map[string]any{"category_id": e.CategoryID, "level": e.Level})
		}
		seen[k] = struct{}{}
	}

	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		existing, err := tx.Escalations().ListEntries(ctx, actor.TenantID)
		if err != nil {
			return err
		}
		merged := mergeMatrix(existing, entries)
		if err := domain.ValidateMatrix(merged); err != nil {
			return apperrors.NewValidationError(err.Error(), nil)
		}
		for i := range entries {
			e := &entries[i]
			e.TenantID = actor.TenantID
			e.Frequency = domain.Frequency(strings.ToUpper(string(e.Frequency)))
			if err := s.checkTarget(ctx, tx, actor.TenantID, e); err != nil {
				return err
			}
			if err := tx.Escalations().UpsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeInternal {
			s.deps.Logger.Error("configure matrix failed", zap.Int64("tenant_id", actor.TenantID), zap.Error(err))
		}
		return nil, apperrors.MapError(err)
	}
	s.deps.Logger.Info("escalation matrix updated", zap.Int64("tenant_id", actor.TenantID), zap.Int("entries", len(entries)))
	return entries, nil
}

func (s *DirectoryService) checkTarget(ctx context.Context, tx repository.Store, tenantID int64, e *domain.MatrixEntry) error {
	switch {
	case e.AssignPersonID != nil:
		p, err := tx.People().GetByID(ctx, *e.AssignPersonID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && p.TenantID != tenantID) {
			return apperrors.NewPersonNotFound(*e.AssignPersonID)
		}
		return err
	case e.AssignGroupID != nil:
		g, err := tx.Groups().GetByID(ctx, *e.AssignGroupID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && g.TenantID != tenantID) {
			return apperrors.NewGroupNotFound(*e.AssignGroupID)
		}
		return err
	}
	return nil
}

func mergeMatrix(existing, updates []domain.MatrixEntry) []domain.MatrixEntry {
	type key struct {
		category int64
		level    int
	}
	byKey := make(map[key]domain.MatrixEntry, len(existing)+len(updates))
	for _, e := range existing {
		byKey[key{e.CategoryID, e.Level}] = e
	}
	for _, e := range updates {
		byKey[key{e.CategoryID, e.Level}] = e
	}
	out := make([]domain.MatrixEntry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryID != out[j].CategoryID {
			return out[i].CategoryID < out[j].CategoryID
		}
		return out[i].Level < out[j].Level
	})
	return out
}
