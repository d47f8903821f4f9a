package column

import (
	"bytes"
	"fmt"

	"github.com/chainindex/core/chainerrors"
)

// ChildRuntime is the narrow surface a cascade column needs from the
// child entity's own runtime. entity.AsChild adapts an entity.Runtime[C]
// to it - column never imports entity, avoiding the cycle that
// would otherwise exist ("cascades delegate to the child's runtime",
// spec §4.6).
//
// PKOf extracts a child value's own primary key, letting a cascade
// validate it against the pointer PK it derived from the parent before
// storing (spec §4.6: "validates that the child's own PK matches the
// derived one"). A ChildRuntime that cannot expose this - a test double
// standing in for a value type with no PK field of its own - may return
// nil, which cascades treat as "nothing to check".
type ChildRuntime[C any] interface {
	Store(pk []byte, c C) error
	StoreMany(pks [][]byte, cs []C) error
	Compose(pk []byte) (C, bool, error)
	ComposeByParentPrefix(parentPK []byte) ([]C, error)
	PKOf(c C) []byte
}

// validateChildPK checks a cascaded child's own PK against the PK the
// cascade derived for it from the parent, raising a ValidationError on
// mismatch. A nil got means the child runtime doesn't expose PKOf;
// there is nothing to validate against.
func validateChildPK(op string, want, got []byte) error {
	if got == nil {
		return nil
	}
	if !bytes.Equal(want, got) {
		return chainerrors.New(op, chainerrors.KindValidationError,
			fmt.Errorf("child pk %x does not match derived pk %x", got, want))
	}
	return nil
}

// CascadeOne models OneToOne (Optional=false) and OneToOption
// (Optional=true) relationships: exactly one derived child PK per
// parent (spec §4.6).
type CascadeOne[E any, C any] struct {
	ColumnName string
	Optional   bool
	ChildPK    func(parentPK []byte) []byte
	GetChild   func(E) (C, bool)
	SetChild   func(E, C) E
	Child      ChildRuntime[C]
}

func (c *CascadeOne[E, C]) Name() string   { return c.ColumnName }
func (c *CascadeOne[E, C]) Kind() Kind     { return KindCascadeOne }
func (c *CascadeOne[E, C]) DbDefs() []DbDef { return nil }

func (c *CascadeOne[E, C]) Store(routers Routers, parentPK []byte, e E) error {
	child, ok := c.GetChild(e)
	if !ok {
		if !c.Optional {
			return fmt.Errorf("cascade %s: required child missing for parent pk", c.ColumnName)
		}
		return nil
	}
	childPK := c.ChildPK(parentPK)
	if err := validateChildPK("column.CascadeOne."+c.ColumnName, childPK, c.Child.PKOf(child)); err != nil {
		return err
	}
	return c.Child.Store(childPK, child)
}

func (c *CascadeOne[E, C]) StoreMany(routers Routers, parentPKs [][]byte, es []E) error {
	var childPKs [][]byte
	var children []C
	for i, e := range es {
		child, ok := c.GetChild(e)
		if !ok {
			if !c.Optional {
				return fmt.Errorf("cascade %s: required child missing for parent pk", c.ColumnName)
			}
			continue
		}
		childPK := c.ChildPK(parentPKs[i])
		if err := validateChildPK("column.CascadeOne."+c.ColumnName, childPK, c.Child.PKOf(child)); err != nil {
			return err
		}
		childPKs = append(childPKs, childPK)
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil
	}
	return c.Child.StoreMany(childPKs, children)
}

func (c *CascadeOne[E, C]) Load(routers Routers, parentPK []byte, e *E) (LoadOutcome, error) {
	child, ok, err := c.Child.Compose(c.ChildPK(parentPK))
	if err != nil {
		return LoadReject, err
	}
	if !ok {
		if c.Optional {
			return LoadSkip, nil
		}
		return LoadReject, nil
	}
	*e = c.SetChild(*e, child)
	return LoadValue, nil
}

// CascadeMany models OneToMany: a parent owns an ordered list of
// children, each at a pointer PK `child_pk_at(parent_pk, i)` (spec
// §4.6). StoreMany batches every parent's children into one flat
// Child.StoreMany call.
type CascadeMany[E any, C any] struct {
	ColumnName   string
	ChildPKAt    func(parentPK []byte, index int) []byte
	GetChildren  func(E) []C
	SetChildren  func(E, []C) E
	Child        ChildRuntime[C]
}

func (c *CascadeMany[E, C]) Name() string   { return c.ColumnName }
func (c *CascadeMany[E, C]) Kind() Kind     { return KindCascadeMany }
func (c *CascadeMany[E, C]) DbDefs() []DbDef { return nil }

func (c *CascadeMany[E, C]) Store(routers Routers, parentPK []byte, e E) error {
	children := c.GetChildren(e)
	if len(children) == 0 {
		return nil
	}
	pks := make([][]byte, len(children))
	for i, child := range children {
		pk := c.ChildPKAt(parentPK, i)
		if err := validateChildPK("column.CascadeMany."+c.ColumnName, pk, c.Child.PKOf(child)); err != nil {
			return err
		}
		pks[i] = pk
	}
	return c.Child.StoreMany(pks, children)
}

func (c *CascadeMany[E, C]) StoreMany(routers Routers, parentPKs [][]byte, es []E) error {
	var flatPKs [][]byte
	var flatChildren []C
	for pi, e := range es {
		children := c.GetChildren(e)
		for i, child := range children {
			pk := c.ChildPKAt(parentPKs[pi], i)
			if err := validateChildPK("column.CascadeMany."+c.ColumnName, pk, c.Child.PKOf(child)); err != nil {
				return err
			}
			flatPKs = append(flatPKs, pk)
			flatChildren = append(flatChildren, child)
		}
	}
	if len(flatChildren) == 0 {
		return nil
	}
	return c.Child.StoreMany(flatPKs, flatChildren)
}

func (c *CascadeMany[E, C]) Load(routers Routers, parentPK []byte, e *E) (LoadOutcome, error) {
	children, err := c.Child.ComposeByParentPrefix(parentPK)
	if err != nil {
		return LoadReject, err
	}
	*e = c.SetChildren(*e, children)
	return LoadValue, nil
}
