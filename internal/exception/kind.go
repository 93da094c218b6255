package exception

// Kind tags an exception variant. Two kinds are the same only when they are
// the same pointer; names are for logs and metrics.
type Kind struct {
	name      string
	ancestors []*Kind // nearest first
}

// NewKind declares a kind. A nil parent makes a root kind.
func NewKind(name string, parent *Kind) *Kind {
	k := &Kind{name: name}
	if parent != nil {
		k.ancestors = make([]*Kind, 0, len(parent.ancestors)+1)
		k.ancestors = append(k.ancestors, parent)
		k.ancestors = append(k.ancestors, parent.ancestors...)
	}
	return k
}

// Name returns the declared name.
func (k *Kind) Name() string {
	if k == nil {
		return ""
	}
	return k.name
}

// Parent returns the direct parent, or nil for a root kind.
func (k *Kind) Parent() *Kind {
	if k == nil || len(k.ancestors) == 0 {
		return nil
	}
	return k.ancestors[0]
}

// Ancestors returns a copy of the ancestor chain, nearest first.
func (k *Kind) Ancestors() []*Kind {
	if k == nil {
		return nil
	}
	out := make([]*Kind, len(k.ancestors))
	copy(out, k.ancestors)
	return out
}

// Is reports whether k is other or descends from it.
func (k *Kind) Is(other *Kind) bool {
	if k == nil || other == nil {
		return false
	}
	if k == other {
		return true
	}
	for _, a := range k.ancestors {
		if a == other {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (k *Kind) String() string { return k.Name() }
