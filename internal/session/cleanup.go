package session

import "sync"

// The process has a single cleanup hook: the active session's shutdown.
// Signal handlers call RunCleanup so an interrupted process still drains
// its staging data.
var (
	cleanupMu   sync.Mutex
	cleanupFn   func()
	cleanupOnce *sync.Once
)

// RegisterCleanup installs fn as the process cleanup hook, replacing any
// previous one. The returned func removes the hook if it is still the
// active one.
func RegisterCleanup(fn func()) (unregister func()) {
	once := new(sync.Once)

	cleanupMu.Lock()
	cleanupFn = fn
	cleanupOnce = once
	cleanupMu.Unlock()

	return func() {
		cleanupMu.Lock()
		defer cleanupMu.Unlock()
		if cleanupOnce == once {
			cleanupFn = nil
			cleanupOnce = nil
		}
	}
}

// RunCleanup runs the registered hook at most once and reports whether a
// hook was registered.
func RunCleanup() bool {
	cleanupMu.Lock()
	fn, once := cleanupFn, cleanupOnce
	cleanupMu.Unlock()

	if fn == nil {
		return false
	}
	once.Do(fn)
	return true
}
