package column

// Relationship models a cross-entity reference with no dedicated
// storage of its own: store/load are opaque closures supplied by the
// entity runtime, which is free to delegate to whatever the referenced
// entity's own runtime needs (spec §4.6: "opaque closures for
// store/load; used to model cross-entity references").
type Relationship[E any] struct {
	ColumnName string
	Defs       []DbDef // usually empty; present only if the closures open their own tables

	StoreFn     func(routers Routers, pk []byte, e E) error
	StoreManyFn func(routers Routers, pks [][]byte, es []E) error
	LoadFn      func(routers Routers, pk []byte, e *E) (LoadOutcome, error)
}

func (r *Relationship[E]) Name() string   { return r.ColumnName }
func (r *Relationship[E]) Kind() Kind     { return KindRelationship }
func (r *Relationship[E]) DbDefs() []DbDef { return r.Defs }

func (r *Relationship[E]) Store(routers Routers, pk []byte, e E) error {
	return r.StoreFn(routers, pk, e)
}

func (r *Relationship[E]) StoreMany(routers Routers, pks [][]byte, es []E) error {
	if r.StoreManyFn != nil {
		return r.StoreManyFn(routers, pks, es)
	}
	for i, pk := range pks {
		if err := r.StoreFn(routers, pk, es[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relationship[E]) Load(routers Routers, pk []byte, e *E) (LoadOutcome, error) {
	return r.LoadFn(routers, pk, e)
}
