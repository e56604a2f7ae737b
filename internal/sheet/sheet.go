package sheet

import (
	"errors"
	"fmt"
)

// Section names of a player sheet.
const (
	SectionIncome      = "income"
	SectionExpenses    = "expenses"
	SectionAssets      = "assets"
	SectionLiabilities = "liabilities"
	SectionInvestments = "investments"
	SectionMeta        = "meta"
	SectionFastTrack   = "fasttrack"
)

// ErrNotAnObject indicates that a sheet document root is not a JSON object.
var ErrNotAnObject = errors.New("sheet: document root must be an object")

// Sheet is a player's financial state document. Every section is optional and
// unknown keys are carried along untouched.
type Sheet struct {
	root Node
}

// New wraps a document root. Absent and null roots become an empty sheet.
func New(root Node) (Sheet, error) {
	switch root.Kind() {
	case KindAbsent, KindNull:
		return Sheet{root: Object()}, nil
	case KindObject:
		return Sheet{root: root}, nil
	default:
		return Sheet{}, fmt.Errorf("%w: got kind %d", ErrNotAnObject, root.Kind())
	}
}

// ParseSheet decodes raw JSON into a Sheet.
func ParseSheet(data []byte) (Sheet, error) {
	root, err := ParseNode(data)
	if err != nil {
		return Sheet{}, err
	}
	return New(root)
}

// Root returns the full document.
func (s Sheet) Root() Node {
	if s.root.IsAbsent() {
		return Object()
	}
	return s.root
}

// Section returns one top-level section, Absent when missing.
func (s Sheet) Section(name string) Node {
	return s.root.Get(name)
}

// Income returns the income section.
func (s Sheet) Income() Node { return s.Section(SectionIncome) }

// Expenses returns the expenses section.
func (s Sheet) Expenses() Node { return s.Section(SectionExpenses) }

// Assets returns the assets section.
func (s Sheet) Assets() Node { return s.Section(SectionAssets) }

// Liabilities returns the liabilities section.
func (s Sheet) Liabilities() Node { return s.Section(SectionLiabilities) }

// Investments returns the investments section.
func (s Sheet) Investments() Node { return s.Section(SectionInvestments) }

// Meta returns the meta section.
func (s Sheet) Meta() Node { return s.Section(SectionMeta) }

// FastTrack returns the fast-track section.
func (s Sheet) FastTrack() Node { return s.Section(SectionFastTrack) }

// Lookup walks the document from the root.
func (s Sheet) Lookup(path ...string) Node {
	return s.root.Lookup(path...)
}

// With returns a copy of the sheet with value stored at path.
func (s Sheet) With(value Node, path ...string) Sheet {
	return Sheet{root: s.Root().With(value, path...)}
}

// Equal reports whether two sheets hold equal documents.
func (s Sheet) Equal(other Sheet) bool {
	return s.Root().Equal(other.Root())
}

// MarshalJSON renders the document.
func (s Sheet) MarshalJSON() ([]byte, error) {
	return s.Root().MarshalJSON()
}

// UnmarshalJSON decodes a document, rejecting non-object roots.
func (s *Sheet) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSheet(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
