// Package selector implements the pure predicate engine that decides
// whether a breadcrumb matches a subscription.
package selector

import (
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

// Op is a context_match comparison operator.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpIn     Op = "in"
	OpNotIn  Op = "not-in"
	OpGt     Op = "gt"
	OpLt     Op = "lt"
	OpContains Op = "contains"
)

// Condition is one {path, op, value} entry of a context_match list.
type Condition struct {
	Path  string
	Op    Op
	Value breadcrumb.Value
}

// Selector is a filter predicate over breadcrumbs with four optional
// parts. A selector with no parts matches everything; missing parts are
// ignored, not failing.
type Selector struct {
	AnyTags      []string
	AllTags      []string
	SchemaName   string
	ContextMatch []Condition
}

// IsEmpty reports whether s carries no constraints at all.
func (s Selector) IsEmpty() bool {
	return len(s.AnyTags) == 0 && len(s.AllTags) == 0 && s.SchemaName == "" && len(s.ContextMatch) == 0
}

// Matches evaluates s against b. Evaluation order: schema check →
// all_tags → any_tags → context_match, short-circuiting on first false.
// Matches is pure and side-effect-free: identical inputs always yield
// identical outputs.
func Matches(b *breadcrumb.Breadcrumb, s Selector) bool {
	if s.SchemaName != "" && b.SchemaName != s.SchemaName {
		return false
	}
	if !matchesAllTags(b.Tags, s.AllTags) {
		return false
	}
	if !matchesAnyTags(b.Tags, s.AnyTags) {
		return false
	}
	for _, cond := range s.ContextMatch {
		if !matchesCondition(b.Context, cond) {
			return false
		}
	}
	return true
}

// MatchesEnvelope evaluates only the schema_name/all_tags/any_tags parts
// of s against tags and schemaName. It is used by the bus client to
// side-filter SSE events, whose wire envelope carries tags and schema but
// not the full context — context_match conditions can only be evaluated
// once a consumer fetches the full breadcrumb.
func MatchesEnvelope(tags []string, schemaName string, s Selector) bool {
	if s.SchemaName != "" && schemaName != s.SchemaName {
		return false
	}
	if !matchesAllTags(tags, s.AllTags) {
		return false
	}
	return matchesAnyTags(tags, s.AnyTags)
}

func matchesAllTags(tags, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := tagSet(tags)
	for _, r := range required {
		if !set[r] {
			return false
		}
	}
	return true
}

func matchesAnyTags(tags, candidates []string) bool {
	if len(candidates) == 0 {
		return true
	}
	set := tagSet(tags)
	for _, c := range candidates {
		if set[c] {
			return true
		}
	}
	return false
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return set
}

func matchesCondition(ctx breadcrumb.Value, cond Condition) bool {
	actual, ok := ctx.Path(cond.Path)
	if !ok {
		return false
	}
	return evalOp(actual, cond.Op, cond.Value)
}

func evalOp(actual breadcrumb.Value, op Op, expected breadcrumb.Value) bool {
	switch op {
	case OpEq:
		return actual.Equal(expected)
	case OpNe:
		return !actual.Equal(expected)
	case OpIn:
		if expected.Kind != breadcrumb.KindArray {
			return false
		}
		for _, item := range expected.Arr {
			if actual.Equal(item) {
				return true
			}
		}
		return false
	case OpNotIn:
		if expected.Kind != breadcrumb.KindArray {
			return false
		}
		for _, item := range expected.Arr {
			if actual.Equal(item) {
				return false
			}
		}
		return true
	case OpGt:
		if actual.Kind != breadcrumb.KindNumber || expected.Kind != breadcrumb.KindNumber {
			return false
		}
		return actual.Num > expected.Num
	case OpLt:
		if actual.Kind != breadcrumb.KindNumber || expected.Kind != breadcrumb.KindNumber {
			return false
		}
		return actual.Num < expected.Num
	case OpContains:
		return evalContains(actual, expected)
	default:
		return false
	}
}

func evalContains(actual, expected breadcrumb.Value) bool {
	switch actual.Kind {
	case breadcrumb.KindString:
		if expected.Kind != breadcrumb.KindString {
			return false
		}
		return stringContains(actual.Str, expected.Str)
	case breadcrumb.KindArray:
		for _, item := range actual.Arr {
			if item.Equal(expected) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func stringContains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
