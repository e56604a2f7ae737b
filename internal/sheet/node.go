package sheet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind enumerates the value categories a Node can hold.
type Kind uint8

const (
	// KindAbsent marks a value that is not present at all, as opposed to an explicit null.
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// ErrInvalidDocument indicates that raw input is not exactly one JSON value.
var ErrInvalidDocument = errors.New("sheet: invalid document")

// Member is a single key/value pair of an object node.
type Member struct {
	Key   string
	Value Node
}

// Field builds a Member.
func Field(key string, value Node) Member {
	return Member{Key: key, Value: value}
}

// Node is an immutable JSON value that keeps object key order and the textual
// form of numbers exactly as they were decoded.
type Node struct {
	kind    Kind
	flag    bool
	text    string
	items   []Node
	members []Member
}

// Absent returns the node used for a missing value.
func Absent() Node {
	return Node{}
}

// Null returns an explicit JSON null.
func Null() Node {
	return Node{kind: KindNull}
}

// Bool wraps a boolean.
func Bool(value bool) Node {
	return Node{kind: KindBool, flag: value}
}

// Number wraps a JSON number literal. The literal is stored verbatim.
func Number(literal string) Node {
	return Node{kind: KindNumber, text: literal}
}

// Int wraps an integer as a number node.
func Int(value int64) Node {
	return Number(strconv.FormatInt(value, 10))
}

// Float wraps a float as a number node. NaN and infinities have no JSON form and become null.
func Float(value float64) Node {
	literal := strconv.FormatFloat(value, 'f', -1, 64)
	if _, err := strconv.ParseFloat(literal, 64); err != nil {
		return Null()
	}
	return Number(literal)
}

// String wraps a string.
func String(value string) Node {
	return Node{kind: KindString, text: value}
}

// Array builds an array node from the given items.
func Array(items ...Node) Node {
	copied := make([]Node, len(items))
	copy(copied, items)
	return Node{kind: KindArray, items: copied}
}

// Object builds an object node. A repeated key keeps its first position and its last value.
func Object(members ...Member) Node {
	built := make([]Member, 0, len(members))
	for _, member := range members {
		built = setMember(built, member.Key, member.Value)
	}
	return Node{kind: KindObject, members: built}
}

// Kind reports the node category.
func (n Node) Kind() Kind {
	return n.kind
}

// IsAbsent reports whether the node represents a missing value.
func (n Node) IsAbsent() bool {
	return n.kind == KindAbsent
}

// IsObject reports whether the node is an object.
func (n Node) IsObject() bool {
	return n.kind == KindObject
}

// IsArray reports whether the node is an array.
func (n Node) IsArray() bool {
	return n.kind == KindArray
}

// Get returns the value stored under key, or Absent when the node is not an object or lacks the key.
func (n Node) Get(key string) Node {
	if n.kind != KindObject {
		return Absent()
	}
	for _, member := range n.members {
		if member.Key == key {
			return member.Value
		}
	}
	return Absent()
}

// Lookup walks nested objects along path.
func (n Node) Lookup(path ...string) Node {
	current := n
	for _, key := range path {
		current = current.Get(key)
		if current.IsAbsent() {
			return current
		}
	}
	return current
}

// Keys returns object keys in document order. Non-objects have no keys.
func (n Node) Keys() []string {
	if n.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(n.members))
	for _, member := range n.members {
		if member.Value.IsAbsent() {
			continue
		}
		keys = append(keys, member.Key)
	}
	return keys
}

// Members returns a copy of the object members.
func (n Node) Members() []Member {
	if n.kind != KindObject {
		return nil
	}
	copied := make([]Member, len(n.members))
	copy(copied, n.members)
	return copied
}

// Items returns a copy of the array items.
func (n Node) Items() []Node {
	if n.kind != KindArray {
		return nil
	}
	copied := make([]Node, len(n.items))
	copy(copied, n.items)
	return copied
}

// StringValue returns the text of a string node.
func (n Node) StringValue() (string, bool) {
	if n.kind != KindString {
		return "", false
	}
	return n.text, true
}

// NumberLiteral returns the literal of a number node.
func (n Node) NumberLiteral() (string, bool) {
	if n.kind != KindNumber {
		return "", false
	}
	return n.text, true
}

// BoolValue returns the value of a boolean node.
func (n Node) BoolValue() (bool, bool) {
	if n.kind != KindBool {
		return false, false
	}
	return n.flag, true
}

// With returns a copy of n with value stored at path, creating intermediate objects as needed.
// A non-object found along the path is replaced by an object.
func (n Node) With(value Node, path ...string) Node {
	if len(path) == 0 {
		return value
	}
	base := n
	if base.kind != KindObject {
		base = Object()
	}
	child := base.Get(path[0]).With(value, path[1:]...)
	members := make([]Member, len(base.members))
	copy(members, base.members)
	return Node{kind: KindObject, members: setMember(members, path[0], child)}
}

// Equal reports strict equality. Numbers compare by numeric value, strings never equal numbers,
// and object comparison ignores member order.
func (n Node) Equal(other Node) bool {
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindAbsent, KindNull:
		return true
	case KindBool:
		return n.flag == other.flag
	case KindNumber:
		return numbersEqual(n.text, other.text)
	case KindString:
		return n.text == other.text
	case KindArray:
		if len(n.items) != len(other.items) {
			return false
		}
		for index := range n.items {
			if !n.items[index].Equal(other.items[index]) {
				return false
			}
		}
		return true
	case KindObject:
		keys := n.Keys()
		if len(keys) != len(other.Keys()) {
			return false
		}
		for _, key := range keys {
			if !n.Get(key).Equal(other.Get(key)) {
				return false
			}
		}
		return true
	}
	return false
}

// Canonical returns a serialization with normalized numbers, suitable for value comparison.
// Member order is kept.
func (n Node) Canonical() []byte {
	var buffer bytes.Buffer
	n.encode(&buffer, true)
	return buffer.Bytes()
}

// MarshalJSON renders the node with its original number literals and key order.
// Absent object members are omitted; an absent root renders as null.
func (n Node) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	n.encode(&buffer, false)
	return buffer.Bytes(), nil
}

// UnmarshalJSON decodes a JSON value into the node.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := ParseNode(data)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// ParseNode decodes exactly one JSON value. Empty input yields Absent.
func ParseNode(data []byte) (Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Absent(), nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	node, err := decodeValue(decoder)
	if err != nil {
		return Absent(), err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return Absent(), fmt.Errorf("%w: trailing data", ErrInvalidDocument)
	}
	return node, nil
}

func decodeValue(decoder *json.Decoder) (Node, error) {
	token, err := decoder.Token()
	if err != nil {
		return Absent(), fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	switch value := token.(type) {
	case json.Delim:
		switch value {
		case '{':
			members := make([]Member, 0)
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return Absent(), fmt.Errorf("%w: %v", ErrInvalidDocument, err)
				}
				key, ok := keyToken.(string)
				if !ok {
					return Absent(), fmt.Errorf("%w: object key is not a string", ErrInvalidDocument)
				}
				child, err := decodeValue(decoder)
				if err != nil {
					return Absent(), err
				}
				members = setMember(members, key, child)
			}
			if _, err := decoder.Token(); err != nil {
				return Absent(), fmt.Errorf("%w: %v", ErrInvalidDocument, err)
			}
			return Node{kind: KindObject, members: members}, nil
		case '[':
			items := make([]Node, 0)
			for decoder.More() {
				child, err := decodeValue(decoder)
				if err != nil {
					return Absent(), err
				}
				items = append(items, child)
			}
			if _, err := decoder.Token(); err != nil {
				return Absent(), fmt.Errorf("%w: %v", ErrInvalidDocument, err)
			}
			return Node{kind: KindArray, items: items}, nil
		default:
			return Absent(), fmt.Errorf("%w: unexpected delimiter %q", ErrInvalidDocument, value)
		}
	case nil:
		return Null(), nil
	case bool:
		return Bool(value), nil
	case json.Number:
		return Number(value.String()), nil
	case string:
		return String(value), nil
	default:
		return Absent(), fmt.Errorf("%w: unexpected token %T", ErrInvalidDocument, token)
	}
}

func (n Node) encode(buffer *bytes.Buffer, canonical bool) {
	switch n.kind {
	case KindAbsent, KindNull:
		buffer.WriteString("null")
	case KindBool:
		buffer.WriteString(strconv.FormatBool(n.flag))
	case KindNumber:
		if canonical {
			if parsed, err := strconv.ParseFloat(n.text, 64); err == nil {
				buffer.WriteString(strconv.FormatFloat(parsed, 'g', -1, 64))
				return
			}
		}
		buffer.WriteString(n.text)
	case KindString:
		writeString(buffer, n.text)
	case KindArray:
		buffer.WriteByte('[')
		for index, item := range n.items {
			if index > 0 {
				buffer.WriteByte(',')
			}
			item.encode(buffer, canonical)
		}
		buffer.WriteByte(']')
	case KindObject:
		buffer.WriteByte('{')
		written := 0
		for _, member := range n.members {
			if member.Value.IsAbsent() {
				continue
			}
			if written > 0 {
				buffer.WriteByte(',')
			}
			writeString(buffer, member.Key)
			buffer.WriteByte(':')
			member.Value.encode(buffer, canonical)
			written++
		}
		buffer.WriteByte('}')
	}
}

func writeString(buffer *bytes.Buffer, value string) {
	var encoded bytes.Buffer
	encoder := json.NewEncoder(&encoded)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		buffer.WriteString(`""`)
		return
	}
	buffer.Write(bytes.TrimRight(encoded.Bytes(), "\n"))
}

func setMember(members []Member, key string, value Node) []Member {
	for index := range members {
		if members[index].Key == key {
			members[index].Value = value
			return members
		}
	}
	return append(members, Member{Key: key, Value: value})
}

func numbersEqual(left, right string) bool {
	if left == right {
		return true
	}
	leftValue, leftErr := strconv.ParseFloat(left, 64)
	rightValue, rightErr := strconv.ParseFloat(right, 64)
	if leftErr != nil || rightErr != nil {
		return false
	}
	return leftValue == rightValue
}
