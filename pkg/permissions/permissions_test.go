package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

type fakeCatalog struct {
	rules     map[string]*Rule
	roles     map[string]Role
	locations map[string]map[string]string
	err       error
}

func (f *fakeCatalog) PermissionRule(_ context.Context, typeID string, status actions.Status) (*Rule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules[typeID+":"+string(status)], nil
}

func (f *fakeCatalog) Roles(_ context.Context, ids []string) (map[string]Role, error) {
	out := map[string]Role{}
	for _, id := range ids {
		if r, ok := f.roles[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (f *fakeCatalog) LocationResponsibles(_ context.Context, id string) (map[string]string, error) {
	return f.locations[id], nil
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		rules: map[string]*Rule{
			"nc:" + string(actions.StatusPendingAnalysis): {
				ReaderRoleIDs: []string{"quality", "center-director"},
				AuthorRoleIDs: []string{"group"},
			},
			"nc:" + string(actions.StatusPendingClosure): {
				ReaderRoleIDs: []string{"quality"},
				AuthorRoleIDs: []string{"area-manager"},
			},
		},
		roles: map[string]Role{
			"quality":         {ID: "quality", Type: RoleFixed, Email: "quality@example.com"},
			"group":           {ID: "group", Type: RolePattern, Pattern: "{{responsibleGroupId}}"},
			"center-director": {ID: "center-director", Type: RoleLocation, Scope: "center", Field: "director"},
			"area-manager":    {ID: "area-manager", Type: RoleLocation, Scope: "area", Field: "manager"},
			"center-mail":     {ID: "center-mail", Type: RolePattern, Pattern: "quality-{{ center.id }}@example.com"},
			"broken":          {ID: "broken", Type: RolePattern, Pattern: "{{center.director"},
		},
		locations: map[string]map[string]string{
			"c1": {"director": "director.c1@example.com"},
			"a1": {"manager": "manager.a1@example.com"},
			"a2": {"manager": "manager.a2@example.com"},
		},
	}
}

func sampleAction() *actions.Action {
	return &actions.Action{
		ActionCode:         "AM-26001",
		TypeID:             "nc",
		Creator:            actions.Person{ID: "u1", Name: "Ana", Email: "ana@example.com"},
		ResponsibleGroupID: "ops@example.com",
		CenterID:           "c1",
		AffectedAreaIDs:    []string{"a1", "a2"},
		Readers:            []string{"ana@example.com", "old@example.com"},
		Authors:            []string{"ana@example.com"},
	}
}

func TestParseTemplate(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr error
	}{
		{name: "literal", src: "quality@example.com"},
		{name: "creator email", src: "{{creator.email}}"},
		{name: "spaces inside braces", src: "{{ center.director }}"},
		{name: "mixed", src: "qa-{{area.id}}@example.com"},
		{name: "single brace text", src: "a{b"},
		{name: "unknown root", src: "{{owner.email}}", wantErr: ErrUnknownTemplateKey},
		{name: "unknown creator field", src: "{{creator.phone}}", wantErr: ErrUnknownTemplateKey},
		{name: "group with field", src: "{{responsibleGroupId.name}}", wantErr: ErrUnknownTemplateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate(tt.src)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	t.Run("unterminated reference", func(t *testing.T) {
		assert.Error(t, Validate("{{creator.email"))
	})
}

func TestTemplateEvaluate(t *testing.T) {
	a := sampleAction()
	scope := &Scope{
		Action: a,
		Center: &Location{ID: "c1", Responsibles: map[string]string{"director": "d@example.com"}},
		Areas: []Location{
			{ID: "a1", Responsibles: map[string]string{"manager": "m1@example.com"}},
			{ID: "a2", Responsibles: map[string]string{}},
		},
	}

	tests := []struct {
		src  string
		want []string
	}{
		{"{{creator.email}}", []string{"ana@example.com"}},
		{"{{ center.director }}", []string{"d@example.com"}},
		{"qa-{{area.id}}@example.com", []string{"qa-a1@example.com", "qa-a2@example.com"}},
		{"{{area.manager}}", []string{"m1@example.com"}},
		{"{{center.missing}}", nil},
		{"x-{{area.id}}-{{area.id}}", []string{"x-a1-a1", "x-a1-a2", "x-a2-a1", "x-a2-a2"}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			tmpl, err := ParseTemplate(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tmpl.Evaluate(scope))
		})
	}
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newFakeCatalog(), nil)
	a := sampleAction()

	t.Run("mixed role types and unknown ids", func(t *testing.T) {
		got, err := r.Resolve(ctx, []string{"quality", "group", "center-director", "center-mail", "nope"}, a)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"quality@example.com",
			"ops@example.com",
			"director.c1@example.com",
			"quality-c1@example.com",
		}, got.ToSlice())
	})

	t.Run("area fan out", func(t *testing.T) {
		got, err := r.Resolve(ctx, []string{"area-manager"}, a)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"manager.a1@example.com", "manager.a2@example.com"}, got.ToSlice())
	})

	t.Run("unresolved values are dropped", func(t *testing.T) {
		noGroup := sampleAction()
		noGroup.ResponsibleGroupID = ""
		noGroup.CenterID = "unknown"
		got, err := r.Resolve(ctx, []string{"group", "center-director"}, noGroup)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Cardinality())
	})

	t.Run("malformed template is an error", func(t *testing.T) {
		_, err := r.Resolve(ctx, []string{"broken"}, a)
		assert.Error(t, err)
	})
}

func TestEngineCompute(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(newFakeCatalog(), nil)

	t.Run("draft is creator only", func(t *testing.T) {
		got, err := e.Compute(ctx, sampleAction(), actions.StatusDraft)
		require.NoError(t, err)
		assert.Equal(t, []string{"ana@example.com"}, got.Readers)
		assert.Equal(t, []string{"ana@example.com"}, got.Authors)
		assert.True(t, got.RuleFound)
	})

	t.Run("rule resolves readers and authors", func(t *testing.T) {
		got, err := e.Compute(ctx, sampleAction(), actions.StatusPendingAnalysis)
		require.NoError(t, err)
		assert.True(t, got.RuleFound)
		assert.Equal(t, []string{"ops@example.com"}, got.Authors)
		assert.Equal(t, []string{
			"ana@example.com",
			"director.c1@example.com",
			"ops@example.com",
			"quality@example.com",
		}, got.Readers)
	})

	t.Run("creator authors pending closure", func(t *testing.T) {
		got, err := e.Compute(ctx, sampleAction(), actions.StatusPendingClosure)
		require.NoError(t, err)
		assert.Contains(t, got.Authors, "ana@example.com")
		assert.Subset(t, got.Readers, got.Authors)
	})

	t.Run("missing rule keeps current lists", func(t *testing.T) {
		a := sampleAction()
		got, err := e.Compute(ctx, a, actions.StatusPendingVerification)
		require.NoError(t, err)
		assert.False(t, got.RuleFound)
		assert.Equal(t, a.Readers, got.Readers)
		assert.Equal(t, a.Authors, got.Authors)
	})

	t.Run("catalog error", func(t *testing.T) {
		cat := newFakeCatalog()
		cat.err = errors.New("db down")
		_, err := NewEngine(cat, nil).Compute(ctx, sampleAction(), actions.StatusPendingAnalysis)
		assert.Error(t, err)
	})
}
