package column

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainindex/core/chainerrors"
)

// fakeChildRuntime is a minimal in-memory ChildRuntime[C], standing in for
// entity.AsChild so cascade/write-from columns can be tested without
// importing the entity package (which itself imports column). pkOf is
// nil for child value types that carry no PK field of their own (the
// cascade treats that as "nothing to validate"); tests that exercise PK
// validation supply one.
type fakeChildRuntime[C any] struct {
	byPK map[string]C
	pkOf func(C) []byte
}

func newFakeChildRuntime[C any](pkOf func(C) []byte) *fakeChildRuntime[C] {
	return &fakeChildRuntime[C]{byPK: map[string]C{}, pkOf: pkOf}
}

func (f *fakeChildRuntime[C]) PKOf(c C) []byte {
	if f.pkOf == nil {
		return nil
	}
	return f.pkOf(c)
}

func (f *fakeChildRuntime[C]) Store(pk []byte, c C) error {
	f.byPK[string(pk)] = c
	return nil
}

func (f *fakeChildRuntime[C]) StoreMany(pks [][]byte, cs []C) error {
	for i, pk := range pks {
		f.byPK[string(pk)] = cs[i]
	}
	return nil
}

func (f *fakeChildRuntime[C]) Compose(pk []byte) (C, bool, error) {
	c, ok := f.byPK[string(pk)]
	return c, ok, nil
}

func (f *fakeChildRuntime[C]) ComposeByParentPrefix(parentPK []byte) ([]C, error) {
	var out []C
	prefix := string(parentPK)
	for k, v := range f.byPK {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, v)
		}
	}
	return out, nil
}

type parent struct {
	ID       uint64
	Child    string
	Optional string
	Children []string
}

func childPKFor(parentPK []byte) []byte {
	return append(append([]byte{}, parentPK...), 0)
}

func childPKAt(parentPK []byte, i int) []byte {
	return append(append([]byte{}, parentPK...), byte(i))
}

func TestCascadeOneRequiredMissingChildErrors(t *testing.T) {
	child := newFakeChildRuntime[string](nil)
	c := &CascadeOne[parent, string]{
		ColumnName: "child",
		Optional:   false,
		ChildPK:    childPKFor,
		GetChild:   func(p parent) (string, bool) { return p.Child, p.Child != "" },
		SetChild:   func(p parent, v string) parent { p.Child = v; return p },
		Child:      child,
	}
	err := c.Store(nil, encodeU64(1), parent{ID: 1})
	require.Error(t, err)
}

func TestCascadeOneOptionalMissingChildSkipsOnLoad(t *testing.T) {
	child := newFakeChildRuntime[string](nil)
	c := &CascadeOne[parent, string]{
		ColumnName: "optional",
		Optional:   true,
		ChildPK:    childPKFor,
		GetChild:   func(p parent) (string, bool) { return p.Optional, p.Optional != "" },
		SetChild:   func(p parent, v string) parent { p.Optional = v; return p },
		Child:      child,
	}
	require.NoError(t, c.Store(nil, encodeU64(1), parent{ID: 1}))

	var out parent
	outcome, err := c.Load(nil, encodeU64(1), &out)
	require.NoError(t, err)
	require.Equal(t, LoadSkip, outcome)
}

func TestCascadeOneStoresAndLoadsChild(t *testing.T) {
	child := newFakeChildRuntime[string](nil)
	c := &CascadeOne[parent, string]{
		ColumnName: "child",
		ChildPK:    childPKFor,
		GetChild:   func(p parent) (string, bool) { return p.Child, p.Child != "" },
		SetChild:   func(p parent, v string) parent { p.Child = v; return p },
		Child:      child,
	}
	require.NoError(t, c.Store(nil, encodeU64(1), parent{ID: 1, Child: "hello"}))

	var out parent
	outcome, err := c.Load(nil, encodeU64(1), &out)
	require.NoError(t, err)
	require.Equal(t, LoadValue, outcome)
	require.Equal(t, "hello", out.Child)
}

func TestCascadeManyStoresAllChildrenAndLoadsByPrefix(t *testing.T) {
	child := newFakeChildRuntime[string](nil)
	c := &CascadeMany[parent, string]{
		ColumnName:  "children",
		ChildPKAt:   childPKAt,
		GetChildren: func(p parent) []string { return p.Children },
		SetChildren: func(p parent, v []string) parent { p.Children = v; return p },
		Child:       child,
	}
	require.NoError(t, c.StoreMany(nil, [][]byte{encodeU64(1), encodeU64(2)}, []parent{
		{ID: 1, Children: []string{"a", "b"}},
		{ID: 2, Children: []string{"c"}},
	}))

	var out parent
	outcome, err := c.Load(nil, encodeU64(1), &out)
	require.NoError(t, err)
	require.Equal(t, LoadValue, outcome)
	require.ElementsMatch(t, []string{"a", "b"}, out.Children)

	var out2 parent
	_, err = c.Load(nil, encodeU64(2), &out2)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, out2.Children)
}

func TestCascadeOneStoreRejectsChildPKMismatch(t *testing.T) {
	child := newFakeChildRuntime[string](func(string) []byte { return []byte("wrong-pk") })
	c := &CascadeOne[parent, string]{
		ColumnName: "child",
		ChildPK:    childPKFor,
		GetChild:   func(p parent) (string, bool) { return p.Child, p.Child != "" },
		SetChild:   func(p parent, v string) parent { p.Child = v; return p },
		Child:      child,
	}
	err := c.Store(nil, encodeU64(1), parent{ID: 1, Child: "hello"})
	require.Error(t, err)
	require.True(t, chainerrors.Is(err, chainerrors.KindValidationError))
}

func TestCascadeManyStoreManyRejectsChildPKMismatch(t *testing.T) {
	child := newFakeChildRuntime[string](func(string) []byte { return []byte("wrong-pk") })
	c := &CascadeMany[parent, string]{
		ColumnName:  "children",
		ChildPKAt:   childPKAt,
		GetChildren: func(p parent) []string { return p.Children },
		SetChildren: func(p parent, v []string) parent { p.Children = v; return p },
		Child:       child,
	}
	err := c.StoreMany(nil, [][]byte{encodeU64(1)}, []parent{{ID: 1, Children: []string{"a"}}})
	require.Error(t, err)
	require.True(t, chainerrors.Is(err, chainerrors.KindValidationError))
}

func TestCascadeManyEmptyChildrenIsNoop(t *testing.T) {
	child := newFakeChildRuntime[string](nil)
	c := &CascadeMany[parent, string]{
		ColumnName:  "children",
		ChildPKAt:   childPKAt,
		GetChildren: func(p parent) []string { return p.Children },
		SetChildren: func(p parent, v []string) parent { p.Children = v; return p },
		Child:       child,
	}
	require.NoError(t, c.Store(nil, encodeU64(1), parent{ID: 1}))
	require.Empty(t, child.byPK)
}
