package filter

import "strings"

// Eval evaluates the expression against a document: a map of top-level
// field values, with "metadata" holding the nested bag. Missing fields
// fail comparisons and satisfy IS NULL, mirroring SQL semantics.
func (e *Expr) Eval(doc map[string]any) bool {
	if e == nil {
		return true
	}
	switch e.Op {
	case OpAnd:
		for _, child := range e.Children {
			if !child.Eval(doc) {
				return false
			}
		}
		return true
	case OpOr:
		for _, child := range e.Children {
			if child.Eval(doc) {
				return true
			}
		}
		return false
	case OpIsNull:
		v, ok := lookup(doc, e.Field)
		return !ok || v == nil
	case OpNotNull:
		v, ok := lookup(doc, e.Field)
		return ok && v != nil
	default:
		v, ok := lookup(doc, e.Field)
		if !ok || v == nil {
			return false
		}
		return compare(v, e.Op, e.Value)
	}
}

func lookup(doc map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var current any = doc
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compare(actual any, op Op, expected any) bool {
	if af, aok := toFloat(actual); aok {
		ef, eok := toFloat(expected)
		if !eok {
			return false
		}
		switch op {
		case OpEq:
			return af == ef
		case OpNe:
			return af != ef
		case OpGt:
			return af > ef
		case OpGte:
			return af >= ef
		case OpLt:
			return af < ef
		case OpLte:
			return af <= ef
		}
		return false
	}

	switch a := actual.(type) {
	case string:
		e, ok := expected.(string)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return a == e
		case OpNe:
			return a != e
		case OpGt:
			return a > e
		case OpGte:
			return a >= e
		case OpLt:
			return a < e
		case OpLte:
			return a <= e
		}
	case bool:
		e, ok := expected.(bool)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return a == e
		case OpNe:
			return a != e
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
