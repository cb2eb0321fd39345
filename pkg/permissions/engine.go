package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

// Engine computes access lists for an action entering a status.
type Engine struct {
	catalog  Catalog
	resolver *Resolver
	logger   *slog.Logger
}

// NewEngine creates an Engine over catalog.
func NewEngine(catalog Catalog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		catalog:  catalog,
		resolver: NewResolver(catalog, logger),
		logger:   logger,
	}
}

// Compute returns the readers and authors of a once it is in target.
//
// In Draft only the creator has access. Without a rule for the action type
// and target the current lists are returned unchanged with RuleFound unset,
// so a missing rule never locks anybody out. Otherwise readers always
// include the authors and the creator, and the creator is an author while
// the action awaits closure.
func (e *Engine) Compute(ctx context.Context, a *actions.Action, target actions.Status) (actions.Access, error) {
	creator := a.Creator.Email

	if target == actions.StatusDraft {
		return actions.Access{
			Readers:   nonEmpty(creator),
			Authors:   nonEmpty(creator),
			RuleFound: true,
		}, nil
	}

	rule, err := e.catalog.PermissionRule(ctx, a.TypeID, target)
	if err != nil {
		return actions.Access{}, fmt.Errorf("load permission rule: %w", err)
	}
	if rule == nil {
		e.logger.Warn("permission rule missing", "actionId", a.ActionCode, "type", a.TypeID, "status", target)
		return actions.Access{
			Readers: slices.Clone(a.Readers),
			Authors: slices.Clone(a.Authors),
		}, nil
	}

	readers, err := e.resolver.Resolve(ctx, rule.ReaderRoleIDs, a)
	if err != nil {
		return actions.Access{}, fmt.Errorf("resolve readers: %w", err)
	}
	authors, err := e.resolver.Resolve(ctx, rule.AuthorRoleIDs, a)
	if err != nil {
		return actions.Access{}, fmt.Errorf("resolve authors: %w", err)
	}

	if creator != "" {
		readers.Add(creator)
		if target == actions.StatusPendingClosure {
			authors.Add(creator)
		}
	}
	readers = readers.Union(authors)

	return actions.Access{
		Readers:   sorted(readers),
		Authors:   sorted(authors),
		RuleFound: true,
	}, nil
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}
