package schema

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Show-if rules are written by form authors in a small comparison language:
//
//	gender = 'female' and (age >= 18 or head_of_household = yes)
//
// and rendered to the platform's relevance expression syntax.

var showIfLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `(?i)\b(?:and|or)\b`},
	{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
	{Name: "Number", Pattern: `[-+]?\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Operator", Pattern: `!=|<=|>=|=|<|>`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

type showIfExpr struct {
	Or []*showIfAnd `parser:"@@ ( 'or' @@ )*"`
}

type showIfAnd struct {
	And []*showIfTerm `parser:"@@ ( 'and' @@ )*"`
}

type showIfTerm struct {
	Group *showIfExpr `parser:"  '(' @@ ')'"`
	Cmp   *showIfCmp  `parser:"| @@"`
}

type showIfCmp struct {
	Field string      `parser:"@Ident"`
	Op    string      `parser:"@Operator"`
	Value showIfValue `parser:"@@"`
}

type showIfValue struct {
	Str  *string `parser:"  @String"`
	Num  *string `parser:"| @Number"`
	Word *string `parser:"| @Ident"`
}

var showIfParser = participle.MustBuild[showIfExpr](
	participle.Lexer(showIfLexer),
	participle.Elide("whitespace"),
	participle.CaseInsensitive("Keyword"),
)

// fieldKind tells the renderer how a referenced field stores its value.
type fieldKind int

const (
	kindScalar fieldKind = iota
	kindMulti
)

// renderShowIf parses rule and renders it against the known fields.
// Unknown field references are errors.
func renderShowIf(rule string, known map[string]fieldKind) (string, error) {
	expr, err := showIfParser.ParseString("", rule)
	if err != nil {
		return "", fmt.Errorf("parse show-if rule: %w", err)
	}
	var b strings.Builder
	if err := expr.render(&b, known); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (e *showIfExpr) render(b *strings.Builder, known map[string]fieldKind) error {
	for i, a := range e.Or {
		if i > 0 {
			b.WriteString(" or ")
		}
		if err := a.render(b, known); err != nil {
			return err
		}
	}
	return nil
}

func (a *showIfAnd) render(b *strings.Builder, known map[string]fieldKind) error {
	for i, t := range a.And {
		if i > 0 {
			b.WriteString(" and ")
		}
		if t.Group != nil {
			b.WriteString("(")
			if err := t.Group.render(b, known); err != nil {
				return err
			}
			b.WriteString(")")
			continue
		}
		if err := t.Cmp.render(b, known); err != nil {
			return err
		}
	}
	return nil
}

func (c *showIfCmp) render(b *strings.Builder, known map[string]fieldKind) error {
	kind, ok := known[c.Field]
	if !ok {
		return fmt.Errorf("show-if references unknown field %q", c.Field)
	}
	value := c.Value.literal()
	if kind == kindMulti {
		switch c.Op {
		case "=":
			fmt.Fprintf(b, "selected(${%s}, %s)", c.Field, value)
		case "!=":
			fmt.Fprintf(b, "not(selected(${%s}, %s))", c.Field, value)
		default:
			return fmt.Errorf("operator %s is not supported for multiple choice field %q", c.Op, c.Field)
		}
		return nil
	}
	fmt.Fprintf(b, "${%s} %s %s", c.Field, c.Op, value)
	return nil
}

func (v showIfValue) literal() string {
	switch {
	case v.Num != nil:
		return *v.Num
	case v.Str != nil:
		s := (*v.Str)[1 : len(*v.Str)-1]
		if strings.Contains(s, "'") {
			return `"` + s + `"`
		}
		return "'" + s + "'"
	case v.Word != nil:
		return "'" + *v.Word + "'"
	}
	return "''"
}
