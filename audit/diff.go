// Package audit records changes to documents and edges: minimal pre/post
// diffs, audit_log records and the _version back-reference from a changed
// document to its latest record.
package audit

import (
	"encoding/json"
	"fmt"
)

// skipFields never count as changes.
var skipFields = map[string]bool{
	"_id": true, "_key": true, "_rev": true, "_class": true, "_index": true,
	"_meta": true, "_version": true, "creator": true, "created": true, "updated": true,
}

// Diff returns the fields of pre and post whose values differ, each side
// holding its own values. Values are compared by their JSON form, so map
// key order and the numeric type of decoded numbers do not matter.
func Diff(pre, post map[string]any) (preDiff, postDiff map[string]any) {
	preDiff = map[string]any{}
	postDiff = map[string]any{}
	preForm := canonical(pre)
	postForm := canonical(post)

	for key, form := range preForm {
		if other, ok := postForm[key]; (!ok || other != form) && !skipFields[key] {
			preDiff[key] = pre[key]
		}
	}
	for key, form := range postForm {
		if other, ok := preForm[key]; (!ok || other != form) && !skipFields[key] {
			postDiff[key] = post[key]
		}
	}
	return preDiff, postDiff
}

func canonical(doc map[string]any) map[string]string {
	out := make(map[string]string, len(doc))
	for key, value := range doc {
		data, err := json.Marshal(value)
		if err != nil {
			out[key] = fmt.Sprintf("%#v", value)
			continue
		}
		out[key] = string(data)
	}
	return out
}
