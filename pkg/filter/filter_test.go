package filter

import (
	"errors"
	"strings"
	"testing"
)

var testFields = map[string]struct{}{
	"id":                      {},
	"content":                 {},
	"type":                    {},
	"source":                  {},
	"importance_score":        {},
	"timestamp_created":       {},
	"timestamp_last_accessed": {},
}

func TestParseComparison(t *testing.T) {
	expr, err := Parse("importance_score >= 0.5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if expr.Op != OpGte || expr.Field != "importance_score" {
		t.Errorf("unexpected expr: %+v", expr)
	}
	if expr.Value != 0.5 {
		t.Errorf("expected value 0.5, got %v", expr.Value)
	}
}

func TestParseStringLiterals(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"type = 'log'", "log"},
		{`type = "log"`, "log"},
		{"content = 'it''s fine'", "it's fine"},
	}
	for _, tc := range cases {
		expr, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.in, err)
		}
		if expr.Value != tc.want {
			t.Errorf("Parse(%q): expected %q, got %v", tc.in, tc.want, expr.Value)
		}
	}
}

func TestParseLogical(t *testing.T) {
	expr, err := Parse("type = 'log' AND importance_score > 0.5 OR source = 'cli'")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	// OR binds loosest: (type AND importance) OR source.
	if expr.Op != OpOr || len(expr.Children) != 2 {
		t.Fatalf("expected top-level OR with 2 children, got %+v", expr)
	}
	if expr.Children[0].Op != OpAnd {
		t.Errorf("expected AND on the left, got %v", expr.Children[0].Op)
	}
}

func TestParseParens(t *testing.T) {
	expr, err := Parse("(type = 'log' OR type = 'alert') AND importance_score > 0.2")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if expr.Op != OpAnd || expr.Children[0].Op != OpOr {
		t.Fatalf("parenthesized OR not honored: %+v", expr)
	}
}

func TestParseNullTests(t *testing.T) {
	expr, err := Parse("timestamp_last_accessed IS NULL")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if expr.Op != OpIsNull {
		t.Errorf("expected IS NULL, got %v", expr.Op)
	}

	expr, err = Parse("timestamp_last_accessed IS NOT NULL")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if expr.Op != OpNotNull {
		t.Errorf("expected IS NOT NULL, got %v", expr.Op)
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"importance_score >",
		"= 0.5",
		"(type = 'log'",
		"type = 'unterminated",
		"type ! 'log'",
		"type = 'log' AND",
		"type = 'log' 'extra'",
	}
	for _, in := range bad {
		if _, err := Parse(in); !errors.Is(err, ErrSyntax) {
			t.Errorf("Parse(%q): expected syntax error, got %v", in, err)
		}
	}
}

func TestValidate(t *testing.T) {
	expr, err := Parse("type = 'log' AND metadata.user.id = 7")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := expr.Validate(testFields); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}

	expr, err = Parse("bogus_field = 1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := expr.Validate(testFields); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected unknown field error, got %v", err)
	}

	// Bare metadata without a path is not addressable.
	expr, err = Parse("metadata = 'x'")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := expr.Validate(testFields); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected unknown field error for bare metadata, got %v", err)
	}
}

func TestToSQLSQLite(t *testing.T) {
	expr, err := Parse("type = 'log' AND metadata.score > 3 AND timestamp_last_accessed IS NULL")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	clause, args, err := expr.ToSQL(SQLite, 0)
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	if !strings.Contains(clause, `"type" = ?`) {
		t.Errorf("missing column comparison: %s", clause)
	}
	if !strings.Contains(clause, "CAST(json_extract(metadata, '$.score') AS REAL) > ?") {
		t.Errorf("missing metadata extraction: %s", clause)
	}
	if !strings.Contains(clause, `"timestamp_last_accessed" IS NULL`) {
		t.Errorf("missing null test: %s", clause)
	}
	if len(args) != 2 {
		t.Errorf("expected 2 args, got %v", args)
	}
}

func TestToSQLPostgres(t *testing.T) {
	expr, err := Parse("metadata.user.id = 7 OR importance_score < 0.5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	clause, args, err := expr.ToSQL(Postgres, 2)
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	if !strings.Contains(clause, "(metadata #>> '{user,id}')::float8 = $3") {
		t.Errorf("bad jsonb path rendering: %s", clause)
	}
	if !strings.Contains(clause, `"importance_score" < $4`) {
		t.Errorf("bad placeholder offsets: %s", clause)
	}
	if len(args) != 2 {
		t.Errorf("expected 2 args, got %v", args)
	}
}

func TestEval(t *testing.T) {
	doc := map[string]any{
		"type":             "log",
		"importance_score": 0.7,
		"metadata": map[string]any{
			"user": map[string]any{"id": float64(7)},
			"ok":   true,
		},
	}

	cases := []struct {
		in   string
		want bool
	}{
		{"type = 'log'", true},
		{"type != 'log'", false},
		{"importance_score > 0.5", true},
		{"importance_score > 0.5 AND type = 'alert'", false},
		{"importance_score > 0.5 OR type = 'alert'", true},
		{"metadata.user.id = 7", true},
		{"metadata.user.id < 7", false},
		{"metadata.ok = true", true},
		{"metadata.missing = 1", false},
		{"timestamp_last_accessed IS NULL", true},
		{"type IS NOT NULL", true},
	}
	for _, tc := range cases {
		expr, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.in, err)
		}
		if got := expr.Eval(doc); got != tc.want {
			t.Errorf("Eval(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBuilders(t *testing.T) {
	expr := And(
		Cmp("importance_score", OpLt, 0.5),
		Or(IsNull("timestamp_last_accessed"), Cmp("timestamp_last_accessed", OpLt, 100.0)),
	)
	if expr.Op != OpAnd || len(expr.Children) != 2 {
		t.Fatalf("unexpected builder result: %+v", expr)
	}

	// Nil children collapse.
	if And(nil, Cmp("type", OpEq, "x")).Op != OpEq {
		t.Error("single-child AND should collapse")
	}
	if And(nil, nil) != nil {
		t.Error("empty AND should be nil")
	}
}
