package query

import (
	"net/url"
	"strings"
)

// Request holds the raw query arguments of a read. Every list may contain
// dot-scoped entries addressing nested relations, e.g. "objects.name == 'b'"
// filters the objects relation.
type Request struct {
	Filters       []string
	EdgeFilters   []string
	Sorts         []string
	Fields        []string
	Relations     []string
	ParentFilters []string
	Search        []string
	Skip          []string
	Limit         []string
}

// FromValues reads a Request from URL query values.
func FromValues(v url.Values) Request {
	return Request{
		Filters:       v["filter"],
		EdgeFilters:   v["edge_filter"],
		Sorts:         v["sort"],
		Fields:        v["field"],
		Relations:     v["relation"],
		ParentFilters: v["parent_filter"],
		Search:        v["search"],
		Skip:          v["skip"],
		Limit:         v["limit"],
	}
}

// Scope returns the statements addressed to level, with the scope prefix
// removed. Level 0 keeps the statements whose first term has no dot. At
// level L a statement belongs to subject when the segment before the L-th
// dot of its first term equals subject and the remainder has no further
// dot. Statements addressed to other levels are dropped.
func Scope(statements []string, subject string, level int) []string {
	var out []string
	for _, item := range statements {
		first, rest, _ := strings.Cut(item, " ")

		if level == 0 {
			if !strings.Contains(first, ".") {
				out = append(out, item)
			}
			continue
		}

		parts := strings.SplitN(first, ".", level+1)
		if len(parts) <= level || parts[level-1] != subject || strings.Contains(parts[level], ".") {
			continue
		}
		out = append(out, strings.TrimSpace(parts[level]+" "+rest))
	}
	return out
}

func first(values []string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
