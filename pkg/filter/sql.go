package filter

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavor an expression is rendered into.
type Dialect int

const (
	// SQLite renders metadata paths with json_extract and ? placeholders.
	SQLite Dialect = iota
	// Postgres renders metadata paths with jsonb #>> and $n placeholders.
	Postgres
)

// ToSQL renders the expression into a parameterized WHERE clause fragment.
// argOffset is the number of placeholders already consumed by the enclosing
// statement (relevant for the $n style).
func (e *Expr) ToSQL(d Dialect, argOffset int) (string, []any, error) {
	if e == nil {
		return "", nil, nil
	}
	r := &sqlRenderer{dialect: d, argIndex: argOffset}
	clause, err := r.render(e)
	if err != nil {
		return "", nil, err
	}
	return clause, r.args, nil
}

type sqlRenderer struct {
	dialect  Dialect
	argIndex int
	args     []any
}

func (r *sqlRenderer) placeholder() string {
	r.argIndex++
	if r.dialect == Postgres {
		return fmt.Sprintf("$%d", r.argIndex)
	}
	return "?"
}

func (r *sqlRenderer) render(e *Expr) (string, error) {
	switch e.Op {
	case OpAnd, OpOr:
		clauses := make([]string, 0, len(e.Children))
		for _, child := range e.Children {
			clause, err := r.render(child)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, "("+clause+")")
		}
		return strings.Join(clauses, " "+string(e.Op)+" "), nil

	case OpIsNull, OpNotNull:
		col, err := r.column(e.Field, nil)
		if err != nil {
			return "", err
		}
		return col + " " + string(e.Op), nil

	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		col, err := r.column(e.Field, e.Value)
		if err != nil {
			return "", err
		}
		r.args = append(r.args, r.bindValue(e.Field, e.Value))
		return fmt.Sprintf("%s %s %s", col, e.Op, r.placeholder()), nil

	default:
		return "", fmt.Errorf("%w: unsupported operator %q", ErrSyntax, e.Op)
	}
}

// column renders the addressed field, casting metadata extractions when the
// comparison value is numeric.
func (r *sqlRenderer) column(field string, value any) (string, error) {
	head, rest, dotted := strings.Cut(field, ".")
	if head != "metadata" {
		if dotted {
			return "", fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
		return `"` + head + `"`, nil
	}
	if !dotted || rest == "" {
		return "", fmt.Errorf("%w: metadata requires a dotted path", ErrUnknownField)
	}
	segments := strings.Split(rest, ".")
	for _, seg := range segments {
		if seg == "" {
			return "", fmt.Errorf("%w: empty path segment in %q", ErrSyntax, field)
		}
	}

	_, numeric := value.(float64)
	switch r.dialect {
	case Postgres:
		expr := fmt.Sprintf("(metadata #>> '{%s}')", strings.Join(segments, ","))
		if numeric {
			expr += "::float8"
		}
		return expr, nil
	default:
		expr := fmt.Sprintf("json_extract(metadata, '$.%s')", strings.Join(segments, "."))
		if numeric {
			expr = "CAST(" + expr + " AS REAL)"
		}
		return expr, nil
	}
}

// bindValue adapts literal values to how each dialect stores metadata.
// Postgres jsonb text extraction yields strings, so booleans compare as text.
func (r *sqlRenderer) bindValue(field string, value any) any {
	if !strings.HasPrefix(field, "metadata.") {
		return value
	}
	if b, ok := value.(bool); ok {
		if r.dialect == Postgres {
			if b {
				return "true"
			}
			return "false"
		}
		return b
	}
	return value
}
