// Package chrome implements host.Host for Chromium over the DevTools protocol.
//
// Page targets found through target discovery become tabs with integer ids.
// Debugger sessions are flattened onto the browser connection, so one event
// stream carries target and session events alike.
package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/resiliency"
)

const DefaultConnectTimeout = 30 * time.Second

var (
	ErrNoBrowser            = errors.New("no debugger url configured and launching is disabled")
	ErrIncompatibleProtocol = errors.New("incompatible debugger protocol version")
)

type Options struct {
	// DebuggerURL is a DevTools websocket URL or a host:port to resolve one from.
	DebuggerURL    string
	Launch         bool
	Headless       bool
	ConnectTimeout time.Duration
}

type Host struct {
	log  logr.Logger
	opts Options

	events host.Events
	debug  host.Listeners[host.DebugEvent]

	tabs     *tabTable
	sessions *sessionEvents

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
}

var _ host.Host = (*Host)(nil)

func New(log logr.Logger, opts Options) *Host {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	tabs := newTabTable()
	return &Host{
		log:      log,
		opts:     opts,
		tabs:     tabs,
		sessions: &sessionEvents{tabs: tabs, requests: newRequestTable(), now: time.Now},
	}
}

// Start connects to the browser and begins target discovery. Events are
// pumped until ctx is done.
func (h *Host) Start(ctx context.Context) error {
	browser, err := h.connect(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.browser = browser
	h.mu.Unlock()

	go h.pump(ctx, browser.Context(ctx).Event())

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(browser.Context(ctx)); err != nil {
		return fmt.Errorf("enable target discovery: %w", err)
	}
	h.log.Info("connected to browser")
	return nil
}

func (h *Host) controlURL() (string, error) {
	if h.opts.DebuggerURL != "" {
		return h.opts.DebuggerURL, nil
	}
	if !h.opts.Launch {
		return "", ErrNoBrowser
	}

	l := launcher.New().Headless(h.opts.Headless)
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	h.mu.Lock()
	h.launched = l
	h.mu.Unlock()
	h.log.Info("launched browser", "url", u)
	return u, nil
}

func (h *Host) connect(ctx context.Context) (*rod.Browser, error) {
	control, err := h.controlURL()
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = h.opts.ConnectTimeout

	browser, err := resiliency.RetryGet(ctx, policy, func() (*rod.Browser, error) {
		u := control
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			resolved, err := launcher.ResolveURL(u)
			if err != nil {
				h.log.V(1).Info("devtools endpoint not ready", "url", u, "error", err.Error())
				return nil, err
			}
			u = resolved
		}
		b := rod.New().ControlURL(u).Context(ctx)
		if err := b.Connect(); err != nil {
			return nil, err
		}
		return b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to browser at %s: %w", control, err)
	}
	return browser, nil
}

// Close releases the connection and kills a browser this host launched.
// An externally started browser is left running.
func (h *Host) Close() error {
	h.mu.Lock()
	browser, launched := h.browser, h.launched
	h.browser, h.launched = nil, nil
	h.mu.Unlock()

	if launched == nil {
		return nil
	}
	var err error
	if browser != nil {
		err = browser.Close()
	}
	launched.Cleanup()
	return err
}

func (h *Host) connected(ctx context.Context) (*rod.Browser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.browser == nil {
		return nil, errors.New("browser is not connected")
	}
	return h.browser.Context(ctx), nil
}

func (h *Host) Subscribe(kind host.EventKind, fn func(host.Notification)) func() {
	return h.events.Subscribe(kind, fn)
}

func (h *Host) SubscribeDebugger(fn func(host.DebugEvent)) func() {
	return h.debug.Add(fn)
}

func (h *Host) publish(notifications []host.Notification) {
	for _, n := range notifications {
		h.events.Publish(n)
	}
}

func (h *Host) pump(ctx context.Context, events <-chan *rod.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			h.handle(ctx, msg)
		}
	}
}

func (h *Host) handle(ctx context.Context, msg *rod.Message) {
	params, ok := eventParams(msg)
	if !ok {
		return
	}
	if msg.SessionID == "" {
		h.handleTarget(ctx, msg.Method, params)
		return
	}

	session := string(msg.SessionID)
	tab, targetID, ok := h.tabs.bySessionID(session)
	if !ok {
		return
	}
	h.debug.Publish(host.DebugEvent{TabID: tab, SessionID: session, Method: msg.Method, Params: params})
	h.publish(h.sessions.translate(tab, targetID, msg.Method, params))
}

// eventParams re-encodes the typed event carried by msg.
func eventParams(msg *rod.Message) (json.RawMessage, bool) {
	t := proto.GetType(msg.Method)
	if t == nil {
		return nil, false
	}
	ev, ok := reflect.New(t).Interface().(proto.Event)
	if !ok || !msg.Load(ev) {
		return nil, false
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (h *Host) handleTarget(ctx context.Context, method string, params json.RawMessage) {
	switch method {
	case "Target.targetCreated", "Target.targetInfoChanged":
		var ev struct {
			TargetInfo targetInfo `json:"targetInfo"`
		}
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		info := ev.TargetInfo
		window := 0
		if info.Type == pageTarget && !h.tabs.known(info.TargetID) {
			window = h.windowOf(ctx, info.TargetID)
		}
		if method == "Target.targetCreated" {
			h.publish(h.tabs.created(info, window))
		} else {
			h.publish(h.tabs.changed(info, window))
		}

	case "Target.targetDestroyed":
		var ev struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		removed, _ := h.tabs.destroyed(ev.TargetID)
		for _, n := range removed {
			h.sessions.requests.forget(n.TabID)
		}
		h.publish(removed)

	case "Target.detachedFromTarget":
		var ev struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		if tab, ok := h.tabs.sessionDetached(ev.SessionID); ok {
			h.sessions.requests.forget(tab)
			h.log.V(1).Info("debugger session detached by browser", "tabId", tab)
		}
	}
}

func (h *Host) windowOf(ctx context.Context, targetID string) int {
	b, err := h.connected(ctx)
	if err != nil {
		return 0
	}
	res, err := proto.BrowserGetWindowForTarget{TargetID: proto.TargetTargetID(targetID)}.Call(b)
	if err != nil {
		h.log.V(1).Info("cannot resolve window", "targetId", targetID, "error", err.Error())
		return 0
	}
	return int(res.WindowID)
}

func (h *Host) Attach(ctx context.Context, tab host.TabID, protocolVersion string) error {
	targetID, ok := h.tabs.target(tab)
	if !ok {
		return host.UnknownTabError(tab)
	}
	if _, attached := h.tabs.session(tab); attached {
		return fmt.Errorf("another debugger is already attached to the tab with id: %d", tab)
	}

	b, err := h.connected(ctx)
	if err != nil {
		return err
	}
	version, err := proto.BrowserGetVersion{}.Call(b)
	if err != nil {
		return fmt.Errorf("read browser version: %w", err)
	}
	if !compatible(version.ProtocolVersion, protocolVersion) {
		return fmt.Errorf("%w: requested %s, browser speaks %s", ErrIncompatibleProtocol, protocolVersion, version.ProtocolVersion)
	}

	res, err := proto.TargetAttachToTarget{TargetID: proto.TargetTargetID(targetID), Flatten: true}.Call(b)
	if err != nil {
		return fmt.Errorf("attach to tab %d: %w", tab, err)
	}
	if !h.tabs.bindSession(tab, string(res.SessionID)) {
		_ = proto.TargetDetachFromTarget{SessionID: res.SessionID}.Call(b)
		return host.UnknownTabError(tab)
	}
	return nil
}

func (h *Host) Detach(ctx context.Context, tab host.TabID) error {
	session, ok := h.tabs.unbindSession(tab)
	h.sessions.requests.forget(tab)
	if !ok {
		return host.NotAttachedError(tab)
	}

	b, err := h.connected(ctx)
	if err != nil {
		return err
	}
	return proto.TargetDetachFromTarget{SessionID: proto.TargetSessionID(session)}.Call(b)
}

func (h *Host) SendCommand(ctx context.Context, tab host.TabID, method string, params any) (json.RawMessage, error) {
	session, ok := h.tabs.session(tab)
	if !ok {
		if _, known := h.tabs.target(tab); !known {
			return nil, host.UnknownTabError(tab)
		}
		return nil, host.NotAttachedError(tab)
	}

	b, err := h.connected(ctx)
	if err != nil {
		return nil, err
	}
	res, err := b.Call(ctx, session, method, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (h *Host) QueryTabs(_ context.Context, q host.TabQuery) ([]host.Tab, error) {
	tabs, window := h.tabs.list()
	if !q.CurrentWindow {
		return tabs, nil
	}
	current := make([]host.Tab, 0, len(tabs))
	for _, t := range tabs {
		if t.WindowID == window {
			current = append(current, t)
		}
	}
	return current, nil
}

// Navigate loads url in the tab, borrowing a short-lived session when the tab
// is not attached.
func (h *Host) Navigate(ctx context.Context, tab host.TabID, url string) (host.Tab, error) {
	targetID, ok := h.tabs.target(tab)
	if !ok {
		return host.Tab{}, host.UnknownTabError(tab)
	}
	b, err := h.connected(ctx)
	if err != nil {
		return host.Tab{}, err
	}

	session, attached := h.tabs.session(tab)
	if !attached {
		res, err := proto.TargetAttachToTarget{TargetID: proto.TargetTargetID(targetID), Flatten: true}.Call(b)
		if err != nil {
			return host.Tab{}, fmt.Errorf("attach to tab %d: %w", tab, err)
		}
		session = string(res.SessionID)
		defer func() {
			_ = proto.TargetDetachFromTarget{SessionID: res.SessionID}.Call(b)
		}()
	}

	raw, err := b.Call(ctx, session, "Page.navigate", proto.PageNavigate{URL: url})
	if err != nil {
		return host.Tab{}, err
	}
	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &nav); err == nil && nav.ErrorText != "" {
		return host.Tab{}, errors.New(nav.ErrorText)
	}

	current, ok := h.tabs.tab(tab)
	if !ok {
		return host.Tab{}, host.UnknownTabError(tab)
	}
	current.URL = url
	current.Status = host.StatusLoading
	return current, nil
}

// compatible reports whether both versions share a major number.
func compatible(have, want string) bool {
	if want == "" {
		return true
	}
	haveMajor, _, _ := strings.Cut(have, ".")
	wantMajor, _, _ := strings.Cut(want, ".")
	return haveMajor == wantMajor
}
