package anystore

// Layer wraps an accessor to add behavior. Layer must not have side effects
// beyond capturing inner; the same Layer value may wrap several accessors.
type Layer interface {
	Layer(inner Accessor) Accessor
}

// LayerFunc adapts a function to the Layer interface.
type LayerFunc func(inner Accessor) Accessor

func (f LayerFunc) Layer(inner Accessor) Accessor { return f(inner) }

// Stack is an ordered sequence of layers. The first layer wraps the backend
// directly, the last one sees calls first: Stack{L1, L2}.Apply(a) is
// L2(L1(a)).
type Stack []Layer

// Apply wraps inner with every layer in order.
func (s Stack) Apply(inner Accessor) Accessor {
	for _, l := range s {
		inner = l.Layer(inner)
	}
	return inner
}

// Append returns a new stack with ls on top of s. s is not modified.
func (s Stack) Append(ls ...Layer) Stack {
	out := make(Stack, 0, len(s)+len(ls))
	out = append(out, s...)
	return append(out, ls...)
}
