package sessions

import "github.com/paigeai/paige/pkg/models"

// Editor state accessors. The hub handlers feed these; the tool surface and
// restore payloads read them back.

// HintLevel returns the current hint level.
func (r *Registry) HintLevel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ui.hintLevel
}

// SetHintLevel records a hint level change.
func (r *Registry) SetHintLevel(level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ui.hintLevel = level
}

// FileOpened appends a tab, keeping tab order stable on reopen.
func (r *Registry) FileOpened(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tab := range r.ui.tabs {
		if tab == path {
			return
		}
	}
	r.ui.tabs = append(r.ui.tabs, path)
}

// FileClosed removes a tab and its editor state.
func (r *Registry) FileClosed(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, tab := range r.ui.tabs {
		if tab == path {
			r.ui.tabs = append(r.ui.tabs[:i], r.ui.tabs[i+1:]...)
			break
		}
	}
	delete(r.ui.cursors, path)
	delete(r.ui.scrolls, path)
}

// OpenFiles returns the open tabs in order.
func (r *Registry) OpenFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tabs := make([]string, len(r.ui.tabs))
	copy(tabs, r.ui.tabs)
	return tabs
}

// SetCursor records the cursor position for a path.
func (r *Registry) SetCursor(path string, pos models.Range) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ui.cursors[path] = pos
}

// SetScroll records the scroll position for a path.
func (r *Registry) SetScroll(path string, line int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ui.scrolls[path] = line
}

// MuteObserver toggles the active session's observer. Without an active
// session this is a no-op.
func (r *Registry) MuteObserver(muted bool) {
	r.mu.Lock()
	observer := r.observer
	r.mu.Unlock()
	if observer != nil {
		observer.SetMuted(muted)
	}
}
