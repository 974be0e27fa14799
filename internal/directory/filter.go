package directory

import (
	"strings"
)

// Filter is a structured LDAP filter expression. Render produces the standard
// parenthesized string form; Matches evaluates the filter against an entry's
// attributes with the schema's per-attribute case rules.
type Filter interface {
	Render() string
	Matches(attrs Attributes) bool
}

// Eq matches entries where the attribute holds exactly the value.
func Eq(attr, value string) Filter { return eqFilter{attr: attr, value: value} }

// Sub matches the attribute against a pattern where `*` spans any run of
// characters.
func Sub(attr, pattern string) Filter { return subFilter{attr: attr, pattern: pattern} }

// Present matches entries that carry the attribute at all.
func Present(attr string) Filter { return presentFilter{attr: attr} }

// And requires every inner filter to match.
func And(filters ...Filter) Filter { return andFilter{filters: filters} }

// Or requires at least one inner filter to match.
func Or(filters ...Filter) Filter { return orFilter{filters: filters} }

// Not inverts the inner filter.
func Not(filter Filter) Filter { return notFilter{inner: filter} }

type eqFilter struct {
	attr  string
	value string
}

func (f eqFilter) Render() string {
	return "(" + f.attr + "=" + escapeValue(f.value) + ")"
}

func (f eqFilter) Matches(attrs Attributes) bool {
	fold := caseInsensitiveAttrs[f.attr]
	for _, v := range attrs[f.attr] {
		if v == f.value || (fold && strings.EqualFold(v, f.value)) {
			return true
		}
	}
	return false
}

type subFilter struct {
	attr    string
	pattern string
}

func (f subFilter) Render() string {
	parts := strings.Split(f.pattern, "*")
	for i, p := range parts {
		parts[i] = escapeValue(p)
	}
	return "(" + f.attr + "=" + strings.Join(parts, "*") + ")"
}

func (f subFilter) Matches(attrs Attributes) bool {
	fold := caseInsensitiveAttrs[f.attr]
	for _, v := range attrs[f.attr] {
		if MatchWildcard(f.pattern, v, fold) {
			return true
		}
	}
	return false
}

type presentFilter struct {
	attr string
}

func (f presentFilter) Render() string { return "(" + f.attr + "=*)" }

func (f presentFilter) Matches(attrs Attributes) bool {
	return len(attrs[f.attr]) > 0
}

type andFilter struct {
	filters []Filter
}

func (f andFilter) Render() string { return renderSet("&", f.filters) }

func (f andFilter) Matches(attrs Attributes) bool {
	for _, inner := range f.filters {
		if !inner.Matches(attrs) {
			return false
		}
	}
	return true
}

type orFilter struct {
	filters []Filter
}

func (f orFilter) Render() string { return renderSet("|", f.filters) }

func (f orFilter) Matches(attrs Attributes) bool {
	for _, inner := range f.filters {
		if inner.Matches(attrs) {
			return true
		}
	}
	return false
}

type notFilter struct {
	inner Filter
}

func (f notFilter) Render() string { return "(!" + f.inner.Render() + ")" }

func (f notFilter) Matches(attrs Attributes) bool {
	return !f.inner.Matches(attrs)
}

func renderSet(op string, filters []Filter) string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(op)
	for _, f := range filters {
		b.WriteString(f.Render())
	}
	b.WriteString(")")
	return b.String()
}

// MatchWildcard matches value against a pattern in which `*` spans any run of
// characters. Without a wildcard the match is full-string equality.
func MatchWildcard(pattern, value string, fold bool) bool {
	if fold {
		pattern = strings.ToLower(pattern)
		value = strings.ToLower(value)
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return value == pattern
	}
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	last := parts[len(parts)-1]
	if !strings.HasSuffix(value, last) {
		return false
	}
	value = value[:len(value)-len(last)]
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(value, mid)
		if idx < 0 {
			return false
		}
		value = value[idx+len(mid):]
	}
	return true
}

// escapeValue escapes the RFC 4515 special characters in filter values.
func escapeValue(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\5c`,
		`(`, `\28`,
		`)`, `\29`,
		`*`, `\2a`,
		"\x00", `\00`,
	)
	return replacer.Replace(value)
}
