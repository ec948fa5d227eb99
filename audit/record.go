package audit

import (
	"github.com/protojour/pymoriam/pkg/timestamp"
	"github.com/protojour/pymoriam/schema"
)

// Operations recorded in audit_log.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Meta is the request context of a change.
type Meta struct {
	TrxID   string
	Creator string
	Note    string
}

// Record is one audit_log entry.
type Record struct {
	Operation string
	Parent    string
	TrxID     string
	ChangedID string
	FromID    string
	ToID      string
	Edge      bool
	Note      string
	Created   string
	Creator   string
	Pre       map[string]any
	Post      map[string]any
}

// BuildRecord describes the change from pre to post. An empty pre is a
// creation and an empty post a deletion. It returns nil when nothing
// changed.
func BuildRecord(pre, post map[string]any, edge bool, meta Meta, clock timestamp.Clock) *Record {
	preDiff, postDiff := Diff(pre, post)
	if len(preDiff) == 0 && len(postDiff) == 0 {
		return nil
	}

	op := OpUpdate
	switch {
	case len(post) > 0 && len(pre) == 0:
		op = OpCreate
	case len(pre) > 0 && len(post) == 0:
		op = OpDelete
	}

	created := str(post, "updated")
	if created == "" {
		created = str(post, "created")
	}
	if created == "" {
		created = timestamp.NowFrom(clock)
	}

	return &Record{
		Operation: op,
		Parent:    either(post, pre, "_version"),
		TrxID:     meta.TrxID,
		ChangedID: either(post, pre, "_id"),
		FromID:    either(post, pre, "_from"),
		ToID:      either(post, pre, "_to"),
		Edge:      edge,
		Note:      meta.Note,
		Created:   created,
		Creator:   meta.Creator,
		Pre:       preDiff,
		Post:      postDiff,
	}
}

// Document renders the record for storage. Empty optional fields are null.
func (r *Record) Document() map[string]any {
	return map[string]any{
		"operation":  r.Operation,
		"parent":     nullable(r.Parent),
		"trx_id":     nullable(r.TrxID),
		"changed_id": nullable(r.ChangedID),
		"from_id":    nullable(r.FromID),
		"to_id":      nullable(r.ToID),
		"edge":       r.Edge,
		"note":       nullable(r.Note),
		"created":    r.Created,
		"creator":    nullable(r.Creator),
		"pre":        r.Pre,
		"post":       r.Post,
	}
}

// Collection is where records are stored.
const Collection = schema.AuditCollection

func str(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func either(first, second map[string]any, key string) string {
	if s := str(first, key); s != "" {
		return s
	}
	return str(second, key)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
