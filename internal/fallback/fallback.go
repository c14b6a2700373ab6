// Package fallback supplies substitute data when live retrieval is exhausted.
package fallback

// Source yields a substitute value, either a fixed one or one built on demand.
// A nil *Source resolves to nothing.
type Source[T any] struct {
	value    T
	generate func() T
}

// Static returns a source that always yields v.
func Static[T any](v T) *Source[T] {
	return &Source[T]{value: v}
}

// Generated returns a source that calls fn once per resolution. fn must not
// fail; it is never retried.
func Generated[T any](fn func() T) *Source[T] {
	return &Source[T]{generate: fn}
}

// Resolve returns the substitute value, or false when there is none.
func (s *Source[T]) Resolve() (T, bool) {
	if s == nil {
		var zero T
		return zero, false
	}
	if s.generate != nil {
		return s.generate(), true
	}
	return s.value, true
}
