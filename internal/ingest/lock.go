package ingest

import "sync/atomic"

// Lock is the process-wide single-flight gate. It never blocks: a caller either
// gets it or learns who holds it.
type Lock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
	owner atomic.Pointer[string]
}

// TryAcquire takes the lock for owner. It returns false when the lock is held.
func (l *Lock) TryAcquire(owner string) bool {
	if !l.state.CompareAndSwap(0, 1) {
		return false
	}
	l.owner.Store(&owner)
	return true
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *Lock) Release() {
	l.owner.Store(nil)
	l.state.Store(0)
}

// Holder returns the current owner, or false when the lock is free.
func (l *Lock) Holder() (string, bool) {
	if l.state.Load() == 0 {
		return "", false
	}
	if p := l.owner.Load(); p != nil {
		return *p, true
	}
	return "", true
}
