package sheet

import (
	"bytes"
	"strings"
)

const pathSeparator = "."

var emptyArrayForm = []byte("[]")

// Change describes one field whose value differs between two snapshots.
type Change struct {
	Path   string
	Before Node
	After  Node
}

// MarshalJSON omits the before or after value when that side is absent.
func (c Change) MarshalJSON() ([]byte, error) {
	return Object(
		Field("path", String(c.Path)),
		Field("before", c.Before),
		Field("after", c.After),
	).MarshalJSON()
}

// Result holds the changed fields together with both full snapshots.
type Result struct {
	Changes        []Change `json:"changes"`
	FieldPaths     []string `json:"fieldPaths"`
	BeforeSnapshot Node     `json:"beforeSnapshot"`
	AfterSnapshot  Node     `json:"afterSnapshot"`
}

// Empty reports whether no field changed.
func (r Result) Empty() bool {
	return len(r.FieldPaths) == 0
}

// Diff compares two documents field by field.
//
// Keys are visited in the order they appear in before, followed by keys only
// present in after. Nested objects are compared recursively. When either side
// is an array the whole value is compared by its serialized form, so any
// element change reports the full array. Scalars compare strictly.
func Diff(before, after Node) Result {
	changes := make([]Change, 0)
	visit(before, after, nil, &changes)

	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		paths = append(paths, change.Path)
	}
	return Result{
		Changes:        changes,
		FieldPaths:     paths,
		BeforeSnapshot: before,
		AfterSnapshot:  after,
	}
}

// DiffSheets compares two sheets.
func DiffSheets(before, after Sheet) Result {
	return Diff(before.Root(), after.Root())
}

func visit(before, after Node, path []string, changes *[]Change) {
	for _, key := range unionKeys(before, after) {
		nextPath := make([]string, len(path)+1)
		copy(nextPath, path)
		nextPath[len(path)] = key

		beforeValue := before.Get(key)
		afterValue := after.Get(key)

		if beforeValue.IsObject() && afterValue.IsObject() {
			visit(beforeValue, afterValue, nextPath, changes)
			continue
		}

		if beforeValue.IsArray() || afterValue.IsArray() {
			if !bytes.Equal(arrayForm(beforeValue), arrayForm(afterValue)) {
				*changes = append(*changes, newChange(nextPath, beforeValue, afterValue))
			}
			continue
		}

		if !beforeValue.Equal(afterValue) {
			*changes = append(*changes, newChange(nextPath, beforeValue, afterValue))
		}
	}
}

func newChange(path []string, before, after Node) Change {
	return Change{
		Path:   strings.Join(path, pathSeparator),
		Before: before,
		After:  after,
	}
}

func unionKeys(before, after Node) []string {
	beforeKeys := before.Keys()
	afterKeys := after.Keys()
	seen := make(map[string]struct{}, len(beforeKeys)+len(afterKeys))
	keys := make([]string, 0, len(beforeKeys)+len(afterKeys))
	for _, group := range [][]string{beforeKeys, afterKeys} {
		for _, key := range group {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

// arrayForm treats a missing or null side as an empty array.
func arrayForm(node Node) []byte {
	switch node.Kind() {
	case KindAbsent, KindNull:
		return emptyArrayForm
	default:
		return node.Canonical()
	}
}
