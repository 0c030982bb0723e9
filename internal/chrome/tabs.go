package chrome

import (
	"sort"
	"sync"

	"github.com/HsiangNianian/uiabridge/internal/host"
)

const pageTarget = "page"

// targetInfo is the subset of Target.TargetInfo the host tracks.
type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

type tabEntry struct {
	tab      host.Tab
	targetID string
	session  string
	listed   uint64
}

// tabTable maps page targets to integer tab ids and derives tab lifecycle
// notifications from target discovery.
type tabTable struct {
	mu        sync.Mutex
	next      host.TabID
	listed    uint64
	byTarget  map[string]host.TabID
	bySession map[string]host.TabID
	entries   map[host.TabID]*tabEntry
}

func newTabTable() *tabTable {
	return &tabTable{
		byTarget:  make(map[string]host.TabID),
		bySession: make(map[string]host.TabID),
		entries:   make(map[host.TabID]*tabEntry),
	}
}

// known reports whether the target already has a tab id.
func (t *tabTable) known(targetID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byTarget[targetID]
	return ok
}

// created assigns the next tab id to a new page target living in window.
func (t *tabTable) created(info targetInfo, window int) []host.Notification {
	if info.Type != pageTarget {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byTarget[info.TargetID]; ok {
		return t.changedLocked(info)
	}

	t.next++
	id := t.next
	t.listed++
	e := &tabEntry{
		tab:      host.Tab{ID: id, WindowID: window, URL: info.URL, Title: info.Title, Status: host.StatusComplete},
		targetID: info.TargetID,
		listed:   t.listed,
	}
	if navigable(info.URL) {
		e.tab.Status = host.StatusLoading
	}
	t.byTarget[info.TargetID] = id
	t.entries[id] = e

	snap := t.snapshotLocked(e)
	out := []host.Notification{{Kind: host.TabCreated, TabID: id, Tab: snap, Payload: *snap}}
	if navigable(info.URL) {
		out = append(out, host.Notification{
			Kind:    host.TabUpdated,
			TabID:   id,
			Tab:     t.snapshotLocked(e),
			Payload: host.ChangeInfo{Status: host.StatusLoading, URL: info.URL},
		})
	}
	return out
}

func (t *tabTable) changed(info targetInfo, window int) []host.Notification {
	if info.Type != pageTarget {
		return nil
	}

	t.mu.Lock()
	_, known := t.byTarget[info.TargetID]
	if known {
		defer t.mu.Unlock()
		return t.changedLocked(info)
	}
	t.mu.Unlock()
	return t.created(info, window)
}

// changedLocked diffs the target against the tab. Only a URL change counts
// as user activity for the current window; title updates happen in the
// background.
func (t *tabTable) changedLocked(info targetInfo) []host.Notification {
	e := t.entries[t.byTarget[info.TargetID]]

	var change host.ChangeInfo
	if info.URL != e.tab.URL {
		t.listed++
		e.listed = t.listed
		e.tab.URL = info.URL
		change.URL = info.URL
		if e.tab.Status != host.StatusLoading {
			e.tab.Status = host.StatusLoading
			change.Status = host.StatusLoading
		}
	}
	if info.Title != e.tab.Title {
		e.tab.Title = info.Title
		change.Title = info.Title
	}
	if change == (host.ChangeInfo{}) {
		return nil
	}
	return []host.Notification{{Kind: host.TabUpdated, TabID: e.tab.ID, Tab: t.snapshotLocked(e), Payload: change}}
}

// destroyed forgets the target and returns its removal notification and
// the session that was attached to it, if any.
func (t *tabTable) destroyed(targetID string) ([]host.Notification, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byTarget[targetID]
	if !ok {
		return nil, ""
	}
	e := t.entries[id]
	delete(t.byTarget, targetID)
	delete(t.entries, id)
	if e.session != "" {
		delete(t.bySession, e.session)
	}
	return []host.Notification{{
		Kind:    host.TabRemoved,
		TabID:   id,
		Payload: host.RemoveInfo{WindowID: e.tab.WindowID},
	}}, e.session
}

// loading marks the tab loading when its main frame starts a load the target
// info did not reveal, such as a reload.
func (t *tabTable) loading(id host.TabID) []host.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.tab.Status == host.StatusLoading {
		return nil
	}
	e.tab.Status = host.StatusLoading
	return []host.Notification{{
		Kind:    host.TabUpdated,
		TabID:   id,
		Tab:     t.snapshotLocked(e),
		Payload: host.ChangeInfo{Status: host.StatusLoading},
	}}
}

// loaded marks the tab complete after its main frame stopped loading.
func (t *tabTable) loaded(id host.TabID) []host.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.tab.Status == host.StatusComplete {
		return nil
	}
	e.tab.Status = host.StatusComplete
	return []host.Notification{{
		Kind:    host.TabUpdated,
		TabID:   id,
		Tab:     t.snapshotLocked(e),
		Payload: host.ChangeInfo{Status: host.StatusComplete},
	}}
}

func (t *tabTable) target(id host.TabID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return "", false
	}
	return e.targetID, true
}

func (t *tabTable) tab(id host.TabID) (host.Tab, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return host.Tab{}, false
	}
	return *t.snapshotLocked(e), true
}

func (t *tabTable) session(id host.TabID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.session == "" {
		return "", false
	}
	return e.session, true
}

func (t *tabTable) bindSession(id host.TabID, session string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	e.session = session
	t.bySession[session] = id
	return true
}

func (t *tabTable) unbindSession(id host.TabID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.session == "" {
		return "", false
	}
	session := e.session
	e.session = ""
	delete(t.bySession, session)
	return session, true
}

// sessionDetached clears a session the browser detached on its own.
func (t *tabTable) sessionDetached(session string) (host.TabID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.bySession[session]
	if !ok {
		return 0, false
	}
	delete(t.bySession, session)
	if e, ok := t.entries[id]; ok && e.session == session {
		e.session = ""
	}
	return id, true
}

func (t *tabTable) bySessionID(session string) (host.TabID, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.bySession[session]
	if !ok {
		return 0, "", false
	}
	return id, t.entries[id].targetID, true
}

// list returns all tabs ordered by id, plus the window of the page that was
// most recently opened or navigated to a new URL.
func (t *tabTable) list() ([]host.Tab, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		tabs   = make([]host.Tab, 0, len(t.entries))
		latest uint64
		window int
	)
	for _, e := range t.entries {
		tabs = append(tabs, *t.snapshotLocked(e))
		if e.listed > latest {
			latest = e.listed
			window = e.tab.WindowID
		}
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs, window
}

// snapshotLocked copies the tab with its index among the tabs of its window.
func (t *tabTable) snapshotLocked(e *tabEntry) *host.Tab {
	tab := e.tab
	tab.Index = 0
	for id, other := range t.entries {
		if id < tab.ID && other.tab.WindowID == tab.WindowID {
			tab.Index++
		}
	}
	return &tab
}

func navigable(url string) bool {
	return url != "" && url != "about:blank"
}
