// Package hosttest provides an in-memory browser for exercising the bridge.
package hosttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/HsiangNianian/uiabridge/internal/host"
)

var ErrNoResource = errors.New("No resource with given identifier found")

type CommandFunc func(tab host.TabID, params json.RawMessage) (json.RawMessage, error)

type attachment struct {
	sessionID string
	version   string
}

// Host is a host.Host backed by maps. Tabs live in windows; one window is focused.
type Host struct {
	events host.Events
	debug  host.Listeners[host.DebugEvent]

	mu            sync.Mutex
	tabs          map[host.TabID]*host.Tab
	focusedWindow int
	attached      map[host.TabID]attachment
	attachCalls   map[host.TabID]int
	detachCalls   map[host.TabID]int
	attachErr     error
	bodies        map[host.TabID]map[string]string
	handlers      map[string]CommandFunc
	calls         []string
	nextSession   int
}

var _ host.Host = (*Host)(nil)

func New() *Host {
	return &Host{
		tabs:          make(map[host.TabID]*host.Tab),
		focusedWindow: 1,
		attached:      make(map[host.TabID]attachment),
		attachCalls:   make(map[host.TabID]int),
		detachCalls:   make(map[host.TabID]int),
		bodies:        make(map[host.TabID]map[string]string),
		handlers:      make(map[string]CommandFunc),
	}
}

func (h *Host) Subscribe(kind host.EventKind, fn func(host.Notification)) func() {
	return h.events.Subscribe(kind, fn)
}

func (h *Host) SubscribeDebugger(fn func(host.DebugEvent)) func() {
	return h.debug.Add(fn)
}

func (h *Host) DebugListeners() int {
	return h.debug.Len()
}

func (h *Host) Attach(_ context.Context, tab host.TabID, version string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attachCalls[tab]++
	if h.attachErr != nil {
		return h.attachErr
	}
	if _, ok := h.tabs[tab]; !ok {
		return host.UnknownTabError(tab)
	}
	if _, ok := h.attached[tab]; ok {
		return fmt.Errorf("another debugger is already attached to the tab with id: %d", tab)
	}
	h.nextSession++
	h.attached[tab] = attachment{sessionID: fmt.Sprintf("S%d", h.nextSession), version: version}
	return nil
}

func (h *Host) Detach(_ context.Context, tab host.TabID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachCalls[tab]++
	if _, ok := h.attached[tab]; !ok {
		return host.NotAttachedError(tab)
	}
	delete(h.attached, tab)
	return nil
}

func (h *Host) SendCommand(_ context.Context, tab host.TabID, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.calls = append(h.calls, fmt.Sprintf("%d:%s", tab, method))
	_, attached := h.attached[tab]
	handler := h.handlers[method]
	h.mu.Unlock()

	if !attached {
		return nil, host.NotAttachedError(tab)
	}
	if handler != nil {
		return handler(tab, raw)
	}

	switch method {
	case "Network.enable", "Page.enable":
		return json.RawMessage(`{}`), nil
	case "Network.getResponseBody":
		var p struct {
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		h.mu.Lock()
		body, ok := h.bodies[tab][p.RequestID]
		h.mu.Unlock()
		if !ok {
			return nil, ErrNoResource
		}
		return json.Marshal(map[string]any{"body": body, "base64Encoded": false})
	default:
		return nil, fmt.Errorf("'%s' wasn't found", method)
	}
}

func (h *Host) QueryTabs(_ context.Context, q host.TabQuery) ([]host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tabs := make([]host.Tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		if q.CurrentWindow && t.WindowID != h.focusedWindow {
			continue
		}
		tabs = append(tabs, *t)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs, nil
}

func (h *Host) Navigate(_ context.Context, tab host.TabID, url string) (host.Tab, error) {
	h.mu.Lock()
	t, ok := h.tabs[tab]
	if !ok {
		h.mu.Unlock()
		return host.Tab{}, host.UnknownTabError(tab)
	}
	t.URL = url
	t.Status = host.StatusLoading
	snapshot := *t
	h.mu.Unlock()

	h.events.Publish(host.Notification{
		Kind:    host.TabUpdated,
		TabID:   tab,
		Tab:     &snapshot,
		Payload: host.ChangeInfo{Status: host.StatusLoading, URL: url},
	})
	return snapshot, nil
}

// OpenTab adds a tab to window without publishing anything.
func (h *Host) OpenTab(id host.TabID, window int, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tabs[id] = &host.Tab{ID: id, WindowID: window, URL: url, Title: url, Status: host.StatusComplete}
}

// Load publishes the loading then complete updates of a navigation to url.
func (h *Host) Load(id host.TabID, url string) {
	h.Update(id, host.ChangeInfo{Status: host.StatusLoading, URL: url})
	h.Update(id, host.ChangeInfo{Status: host.StatusComplete})
}

func (h *Host) Update(id host.TabID, change host.ChangeInfo) {
	h.mu.Lock()
	t, ok := h.tabs[id]
	if !ok {
		t = &host.Tab{ID: id, WindowID: h.focusedWindow}
		h.tabs[id] = t
	}
	if change.URL != "" {
		t.URL = change.URL
	}
	if change.Title != "" {
		t.Title = change.Title
	}
	if change.Status != "" {
		t.Status = change.Status
	}
	snapshot := *t
	h.mu.Unlock()

	h.events.Publish(host.Notification{Kind: host.TabUpdated, TabID: id, Tab: &snapshot, Payload: change})
}

func (h *Host) CloseTab(id host.TabID) {
	h.mu.Lock()
	t, ok := h.tabs[id]
	info := host.RemoveInfo{}
	if ok {
		info.WindowID = t.WindowID
		delete(h.tabs, id)
	}
	h.mu.Unlock()

	h.events.Publish(host.Notification{Kind: host.TabRemoved, TabID: id, Payload: info})
}

func (h *Host) Publish(n host.Notification) {
	h.events.Publish(n)
}

// EmitDebug publishes a raw protocol event as if it came from the tab's session.
func (h *Host) EmitDebug(tab host.TabID, method string, params any) {
	raw, _ := json.Marshal(params)
	h.mu.Lock()
	session := h.attached[tab].sessionID
	h.mu.Unlock()
	h.debug.Publish(host.DebugEvent{TabID: tab, SessionID: session, Method: method, Params: raw})
}

func (h *Host) SetBody(tab host.TabID, requestID, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bodies[tab] == nil {
		h.bodies[tab] = make(map[string]string)
	}
	h.bodies[tab][requestID] = body
}

func (h *Host) Handle(method string, fn CommandFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[method] = fn
}

func (h *Host) FailAttach(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attachErr = err
}

func (h *Host) FocusWindow(window int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.focusedWindow = window
}

func (h *Host) AttachCalls(tab host.TabID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attachCalls[tab]
}

func (h *Host) DetachCalls(tab host.TabID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detachCalls[tab]
}

func (h *Host) Attached(tab host.TabID) (version string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.attached[tab]
	return a.version, ok
}

// Calls returns "<tab>:<method>" for every SendCommand so far.
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}
