package sheet

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseNodePreservesOrderAndLiterals(t *testing.T) {
	raw := `{"zeta":1.50,"alpha":{"b":true,"a":null},"list":[3,"x",{"k":"<v>"}]}`
	node := mustParseNode(t, raw)

	if diff := cmp.Diff([]string{"zeta", "alpha", "list"}, node.Keys()); diff != "" {
		t.Fatalf("unexpected key order (-want +got):\n%s", diff)
	}

	encoded, err := node.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(encoded) != raw {
		t.Fatalf("expected verbatim round trip\nwant %s\ngot  %s", raw, encoded)
	}
}

func TestParseNodeRejectsInvalidInput(t *testing.T) {
	for _, raw := range []string{`{"a":`, `{"a":1} {"b":2}`, `[1,2`} {
		if _, err := ParseNode([]byte(raw)); !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("expected invalid document error for %q, got %v", raw, err)
		}
	}
}

func TestParseNodeEmptyInputIsAbsent(t *testing.T) {
	node, err := ParseNode([]byte("  "))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !node.IsAbsent() {
		t.Fatalf("expected absent node, got kind %d", node.Kind())
	}
}

func TestNodeEqualIsStrict(t *testing.T) {
	testCases := []struct {
		name  string
		left  Node
		right Node
		equal bool
	}{
		{name: "same-number-different-literal", left: Number("5"), right: Number("5.0"), equal: true},
		{name: "string-vs-number", left: String("5"), right: Number("5"), equal: false},
		{name: "null-vs-absent", left: Null(), right: Absent(), equal: false},
		{name: "bool", left: Bool(true), right: Bool(true), equal: true},
		{
			name:  "object-order-insensitive",
			left:  Object(Field("a", Int(1)), Field("b", Int(2))),
			right: Object(Field("b", Int(2)), Field("a", Int(1))),
			equal: true,
		},
		{name: "array-order-sensitive", left: Array(Int(1), Int(2)), right: Array(Int(2), Int(1)), equal: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.left.Equal(testCase.right); got != testCase.equal {
				t.Fatalf("expected equal=%v, got %v", testCase.equal, got)
			}
		})
	}
}

func TestNodeWithBuildsNestedObjects(t *testing.T) {
	node := Object().
		With(Int(3000), "income", "salary", "value").
		With(Int(500), "expenses", "taxes", "value")

	encoded, _ := json.Marshal(node)
	if string(encoded) != `{"income":{"salary":{"value":3000}},"expenses":{"taxes":{"value":500}}}` {
		t.Fatalf("unexpected document %s", encoded)
	}

	replaced := node.With(Int(10), "income", "salary", "value")
	if literal, _ := replaced.Lookup("income", "salary", "value").NumberLiteral(); literal != "10" {
		t.Fatalf("expected replaced value, got %q", literal)
	}
	if literal, _ := node.Lookup("income", "salary", "value").NumberLiteral(); literal != "3000" {
		t.Fatalf("original node must not change, got %q", literal)
	}
}

func TestSheetRejectsNonObjectRoot(t *testing.T) {
	if _, err := ParseSheet([]byte(`[1,2]`)); !errors.Is(err, ErrNotAnObject) {
		t.Fatalf("expected non-object error, got %v", err)
	}
	empty, err := ParseSheet([]byte(`null`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	encoded, _ := json.Marshal(empty)
	if string(encoded) != `{}` {
		t.Fatalf("expected empty object, got %s", encoded)
	}
}

func TestSheetSectionAccessors(t *testing.T) {
	document, err := ParseSheet([]byte(`{"income":{"salary":1},"fasttrack":{"beginningCashFlowDayIncome":0}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !document.Income().IsObject() {
		t.Fatalf("expected income section")
	}
	if !document.FastTrack().IsObject() {
		t.Fatalf("expected fasttrack section")
	}
	if !document.Liabilities().IsAbsent() {
		t.Fatalf("expected missing liabilities section to be absent")
	}
}
