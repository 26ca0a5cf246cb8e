// Package filter implements the restricted predicate grammar used to
// constrain queries, deletes and pruning. A predicate is a boolean
// combination of field comparisons; nested metadata values are addressed
// with dotted paths (e.g. metadata.user.id).
package filter

import (
	"errors"
	"fmt"
	"strings"
)

// Op identifies a predicate node kind.
type Op string

const (
	OpAnd Op = "AND"
	OpOr  Op = "OR"

	OpEq  Op = "="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="

	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// ErrUnknownField is returned when a predicate references a field the
// collection does not expose.
var ErrUnknownField = errors.New("unknown field in predicate")

// ErrSyntax is returned for malformed predicate strings.
var ErrSyntax = errors.New("invalid predicate syntax")

// Expr is a node of a parsed predicate. Logical nodes (AND/OR) carry
// Children; comparison nodes carry Field, and Value unless the operator
// is a null test.
type Expr struct {
	Op       Op
	Field    string
	Value    any
	Children []*Expr
}

// And combines expressions with logical AND. Nil children are skipped;
// a single surviving child is returned unchanged.
func And(exprs ...*Expr) *Expr {
	return combine(OpAnd, exprs)
}

// Or combines expressions with logical OR.
func Or(exprs ...*Expr) *Expr {
	return combine(OpOr, exprs)
}

func combine(op Op, exprs []*Expr) *Expr {
	children := make([]*Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			children = append(children, e)
		}
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}
	return &Expr{Op: op, Children: children}
}

// Cmp builds a comparison node.
func Cmp(field string, op Op, value any) *Expr {
	return &Expr{Op: op, Field: field, Value: value}
}

// IsNull builds a null test node.
func IsNull(field string) *Expr {
	return &Expr{Op: OpIsNull, Field: field}
}

// NotNull builds a not-null test node.
func NotNull(field string) *Expr {
	return &Expr{Op: OpNotNull, Field: field}
}

// Validate checks every referenced field against the set of queryable
// top-level fields. Dotted paths are only valid under the metadata bag.
func (e *Expr) Validate(fields map[string]struct{}) error {
	if e == nil {
		return nil
	}
	switch e.Op {
	case OpAnd, OpOr:
		for _, child := range e.Children {
			if err := child.Validate(fields); err != nil {
				return err
			}
		}
		return nil
	default:
		return validateField(e.Field, fields)
	}
}

func validateField(field string, fields map[string]struct{}) error {
	head, rest, dotted := strings.Cut(field, ".")
	if head == "metadata" {
		if !dotted || rest == "" {
			return fmt.Errorf("%w: metadata requires a dotted path (metadata.key)", ErrUnknownField)
		}
		return nil
	}
	if dotted {
		return fmt.Errorf("%w: %q (dotted paths only under metadata)", ErrUnknownField, field)
	}
	if _, ok := fields[head]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// String renders the expression back into grammar form, mostly for logs
// and error messages.
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	switch e.Op {
	case OpAnd, OpOr:
		parts := make([]string, len(e.Children))
		for i, child := range e.Children {
			parts[i] = "(" + child.String() + ")"
		}
		return strings.Join(parts, " "+string(e.Op)+" ")
	case OpIsNull, OpNotNull:
		return e.Field + " " + string(e.Op)
	default:
		switch v := e.Value.(type) {
		case string:
			return fmt.Sprintf("%s %s '%s'", e.Field, e.Op, strings.ReplaceAll(v, "'", "''"))
		default:
			return fmt.Sprintf("%s %s %v", e.Field, e.Op, e.Value)
		}
	}
}
