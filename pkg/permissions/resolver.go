// Package permissions computes who may read and author an action at each
// workflow stage from the role rules held in the master-data catalog.
package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

// RoleType selects how a role turns into addresses.
type RoleType string

const (
	// RoleFixed resolves to a literal address.
	RoleFixed RoleType = "fixed"
	// RolePattern resolves by evaluating a template against the action.
	RolePattern RoleType = "pattern"
	// RoleLocation resolves to a named responsible of the action's center or
	// affected areas.
	RoleLocation RoleType = "location"
)

// Role is a responsibility role from the catalog.
type Role struct {
	ID      string
	Name    string
	Type    RoleType
	Email   string
	Pattern string
	// Scope and Field apply to location roles: Scope is "center" or "area".
	Scope string
	Field string
}

// Template returns the template a pattern or location role evaluates.
func (r Role) Template() string {
	if r.Type == RoleLocation {
		return "{{" + r.Scope + "." + r.Field + "}}"
	}
	return r.Pattern
}

// Rule maps an action type and status to reader and author roles.
type Rule struct {
	ActionTypeID  string
	Status        actions.Status
	ReaderRoleIDs []string
	AuthorRoleIDs []string
}

// Catalog is the read side of the master-data catalog.
type Catalog interface {
	// PermissionRule returns nil when no rule exists for the pair.
	PermissionRule(ctx context.Context, typeID string, status actions.Status) (*Rule, error)
	// Roles returns the known roles among ids; unknown ids are absent.
	Roles(ctx context.Context, ids []string) (map[string]Role, error)
	// LocationResponsibles returns nil when the location is unknown.
	LocationResponsibles(ctx context.Context, locationID string) (map[string]string, error)
}

// Resolver turns role ids into addresses for one action.
type Resolver struct {
	catalog Catalog
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(catalog Catalog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: catalog, logger: logger}
}

// Resolve returns the union of the addresses of roleIDs for a. Unknown role
// ids are skipped. Template results that are empty or still contain braces
// are dropped.
func (r *Resolver) Resolve(ctx context.Context, roleIDs []string, a *actions.Action) (mapset.Set[string], error) {
	out := mapset.NewThreadUnsafeSet[string]()
	if len(roleIDs) == 0 {
		return out, nil
	}
	roles, err := r.catalog.Roles(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}

	scope := &Scope{Action: a}
	var centerLoaded, areasLoaded bool

	for _, id := range roleIDs {
		role, ok := roles[id]
		if !ok {
			r.logger.Debug("skipping unknown role", "roleId", id)
			continue
		}
		switch role.Type {
		case RoleFixed:
			if addr := strings.TrimSpace(role.Email); addr != "" {
				out.Add(addr)
			}
			continue
		case RolePattern, RoleLocation:
		default:
			r.logger.Warn("skipping role with unknown type", "roleId", id, "type", role.Type)
			continue
		}

		tmpl, err := ParseTemplate(role.Template())
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", id, err)
		}
		if !centerLoaded && tmpl.usesScope("center") {
			if err := r.loadCenter(ctx, scope); err != nil {
				return nil, err
			}
			centerLoaded = true
		}
		if !areasLoaded && tmpl.usesScope("area") {
			if err := r.loadAreas(ctx, scope); err != nil {
				return nil, err
			}
			areasLoaded = true
		}

		for _, addr := range tmpl.Evaluate(scope) {
			addr = strings.TrimSpace(addr)
			if addr == "" || strings.ContainsAny(addr, "{}") {
				continue
			}
			out.Add(addr)
		}
	}
	return out, nil
}

func (r *Resolver) loadCenter(ctx context.Context, scope *Scope) error {
	if scope.Action.CenterID == "" {
		return nil
	}
	resp, err := r.catalog.LocationResponsibles(ctx, scope.Action.CenterID)
	if err != nil {
		return fmt.Errorf("load center %s: %w", scope.Action.CenterID, err)
	}
	if resp != nil {
		scope.Center = &Location{ID: scope.Action.CenterID, Responsibles: resp}
	}
	return nil
}

func (r *Resolver) loadAreas(ctx context.Context, scope *Scope) error {
	for _, id := range scope.Action.AffectedAreaIDs {
		resp, err := r.catalog.LocationResponsibles(ctx, id)
		if err != nil {
			return fmt.Errorf("load area %s: %w", id, err)
		}
		if resp != nil {
			scope.Areas = append(scope.Areas, Location{ID: id, Responsibles: resp})
		}
	}
	return nil
}
