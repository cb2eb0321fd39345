package permissions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ErrUnknownTemplateKey is returned for a reference outside the supported
// key set.
var ErrUnknownTemplateKey = errors.New("unknown template key")

// Templates are literal text with {{ path }} references. The lexer switches
// into the Ref state on "{{" so that text outside references may contain
// any character.
var templateLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Open", Pattern: `\{\{`, Action: lexer.Push("Ref")},
		{Name: "Text", Pattern: `[^{]+|\{`},
	},
	"Ref": {
		{Name: "Whitespace", Pattern: `[ \t]+`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
		{Name: "Dot", Pattern: `\.`},
		{Name: "Close", Pattern: `\}\}`, Action: lexer.Pop()},
	},
})

type templateAST struct {
	Parts []*templatePart `parser:"@@*"`
}

type templatePart struct {
	Text string       `parser:"  @Text"`
	Ref  *templateRef `parser:"| Open @@ Close"`
}

type templateRef struct {
	Path []string `parser:"@Ident ( Dot @Ident )*"`
}

func (r *templateRef) key() string { return strings.Join(r.Path, ".") }

var templateParser = participle.MustBuild[templateAST](
	participle.Lexer(templateLexer),
	participle.Elide("Whitespace"),
)

// Template is a parsed recipient pattern such as "quality-{{center.id}}@example.com".
type Template struct {
	src   string
	parts []*templatePart
}

// ParseTemplate parses src and checks every reference against the supported
// keys: creator.email, creator.id, creator.name, responsibleGroupId,
// center.id, center.<field>, area.id and area.<field>.
func ParseTemplate(src string) (*Template, error) {
	ast, err := templateParser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", src, err)
	}
	for _, p := range ast.Parts {
		if p.Ref == nil {
			continue
		}
		if err := validateKey(p.Ref.Path); err != nil {
			return nil, fmt.Errorf("template %q: %w", src, err)
		}
	}
	return &Template{src: src, parts: ast.Parts}, nil
}

// Validate reports whether src is a well-formed template.
func Validate(src string) error {
	_, err := ParseTemplate(src)
	return err
}

func validateKey(path []string) error {
	key := strings.Join(path, ".")
	switch path[0] {
	case "creator":
		if len(path) == 2 && (path[1] == "email" || path[1] == "id" || path[1] == "name") {
			return nil
		}
	case "responsibleGroupId":
		if len(path) == 1 {
			return nil
		}
	case "center", "area":
		if len(path) == 2 {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTemplateKey, key)
}

// String returns the template source.
func (t *Template) String() string { return t.src }

// usesScope reports whether the template references center or area fields.
func (t *Template) usesScope(scope string) bool {
	for _, p := range t.parts {
		if p.Ref != nil && p.Ref.Path[0] == scope && p.Ref.Path[1] != "id" {
			return true
		}
	}
	return false
}

// Evaluate expands the template against scope. A reference that yields
// several values (area.*) multiplies the results; a reference with no value
// yields no result at all.
func (t *Template) Evaluate(scope *Scope) []string {
	results := []string{""}
	for _, p := range t.parts {
		var values []string
		if p.Ref == nil {
			values = []string{p.Text}
		} else {
			values = scope.lookup(p.Ref.Path)
		}
		if len(values) == 0 {
			return nil
		}
		next := make([]string, 0, len(results)*len(values))
		for _, prefix := range results {
			for _, v := range values {
				next = append(next, prefix+v)
			}
		}
		results = next
	}
	return results
}
