package permissions

import (
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

// Location is a center or area with its named responsible addresses.
type Location struct {
	ID           string
	Responsibles map[string]string
}

// Scope is the evaluation context of a template: the action plus the
// responsibles of its center and affected areas.
type Scope struct {
	Action *actions.Action
	Center *Location
	Areas  []Location
}

func (s *Scope) lookup(path []string) []string {
	a := s.Action
	switch path[0] {
	case "creator":
		switch path[1] {
		case "email":
			return nonEmpty(a.Creator.Email)
		case "id":
			return nonEmpty(a.Creator.ID)
		case "name":
			return nonEmpty(a.Creator.Name)
		}
	case "responsibleGroupId":
		return nonEmpty(a.ResponsibleGroupID)
	case "center":
		if path[1] == "id" {
			return nonEmpty(a.CenterID)
		}
		if s.Center != nil {
			return nonEmpty(s.Center.Responsibles[path[1]])
		}
	case "area":
		var out []string
		if path[1] == "id" {
			for _, id := range a.AffectedAreaIDs {
				out = append(out, nonEmpty(id)...)
			}
			return out
		}
		for _, area := range s.Areas {
			out = append(out, nonEmpty(area.Responsibles[path[1]])...)
		}
		return out
	}
	return nil
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
