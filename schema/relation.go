package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Direction is the traversal direction of a relation.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
	AnyDir   Direction = "any"
)

var depthPattern = regexp.MustCompile(`^(\d{1,2})(?:\.\.(\d{1,2}))?$`)

// Relation is a typed, depth-bounded traversal to a set of target classes
// through an edge collection.
type Relation struct {
	Label string
	// Targets are snake_case class names; empty when Any is set.
	Targets        []string
	Any            bool
	EdgeCollection string
	Direction      Direction
	MinDepth       int
	MaxDepth       int
}

// ParseDepthDirection reads "[min[..max] ]direction". A single depth N
// means N..N; no depth means 1..1.
func ParseDepthDirection(s string) (minDepth, maxDepth int, dir Direction, err error) {
	minDepth, maxDepth = 1, 1
	depth, direction := "", strings.TrimSpace(s)
	if i := strings.IndexByte(direction, ' '); i >= 0 {
		depth, direction = direction[:i], strings.TrimSpace(direction[i+1:])
	}

	switch Direction(direction) {
	case Outbound, Inbound, AnyDir:
		dir = Direction(direction)
	default:
		return 0, 0, "", fmt.Errorf("Edge direction should be \"outbound\", \"inbound\", or \"any\"")
	}

	if depth == "" {
		return minDepth, maxDepth, dir, nil
	}
	match := depthPattern.FindStringSubmatch(depth)
	if match == nil {
		return 0, 0, "", fmt.Errorf("Optional traversal depth should correspond to MIN[..MAX]")
	}
	minDepth, _ = strconv.Atoi(match[1])
	maxDepth = minDepth
	if match[2] != "" {
		maxDepth, _ = strconv.Atoi(match[2])
	}
	if maxDepth < minDepth {
		return 0, 0, "", fmt.Errorf("Optional traversal depth should correspond to MIN[..MAX]")
	}
	return minDepth, maxDepth, dir, nil
}

// Traversal renders the depth and direction part of a traversal, e.g.
// "1..1 OUTBOUND".
func (r *Relation) Traversal() string {
	return fmt.Sprintf("%d..%d %s", r.MinDepth, r.MaxDepth, strings.ToUpper(string(r.Direction)))
}

// MatchEdge reports whether an edge in collection, seen from the relation's
// source as inbound or outbound, belongs to this relation.
func (r *Relation) MatchEdge(collection string, inbound bool) bool {
	if collection != r.EdgeCollection {
		return false
	}
	switch r.Direction {
	case AnyDir:
		return true
	case Inbound:
		return inbound
	default:
		return !inbound
	}
}

// Includes reports whether class may be a target of the relation.
func (r *Relation) Includes(class string) bool {
	if r.Any {
		return true
	}
	for _, t := range r.Targets {
		if t == class {
			return true
		}
	}
	return false
}
