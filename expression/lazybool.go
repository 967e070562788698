package expression

import "sync"

// LazyBool wraps an expensive predicate (git status, filesystem probes) so a
// condition like "plan_mode or dirty_worktree" can skip the probe when an
// earlier operand already decides the result. The thunk runs at most once,
// on first boolean coercion.
type LazyBool struct {
	once sync.Once
	fn   func() bool
	v    bool
}

// NewLazyBool wraps fn in a memoized lazy boolean.
func NewLazyBool(fn func() bool) *LazyBool {
	return &LazyBool{fn: fn}
}

// Bool forces the thunk, memoizing the result.
func (l *LazyBool) Bool() bool {
	l.once.Do(func() {
		if l.fn != nil {
			l.v = l.fn()
		}
	})
	return l.v
}
