package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

// DefaultDebugEvents is the allow-list of raw protocol events forwarded to the controller.
var DefaultDebugEvents = []string{
	"Page.frameStartedLoading",
	"Page.frameStoppedLoading",
	"Network.responseReceived",
}

var DefaultInternalURLPrefixes = []string{"chrome://", "devtools://"}

var enabledDomains = []string{"Network.enable", "Page.enable"}

type DebugOptions struct {
	ProtocolVersion     string
	Events              []string
	InternalURLPrefixes []string
	DetachOnRemove      bool
}

// DebugSessions attaches one instrumentation session per monitored tab and
// forwards an allow-listed subset of its raw events.
type DebugSessions struct {
	log     logr.Logger
	host    host.Host
	send    func(protocol.Message)
	opts    DebugOptions
	allowed map[string]bool
}

func NewDebugSessions(log logr.Logger, h host.Host, opts DebugOptions, send func(protocol.Message)) *DebugSessions {
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = host.DefaultProtocolVersion
	}
	if opts.Events == nil {
		opts.Events = DefaultDebugEvents
	}
	if opts.InternalURLPrefixes == nil {
		opts.InternalURLPrefixes = DefaultInternalURLPrefixes
	}

	d := &DebugSessions{
		log:     log,
		host:    h,
		send:    send,
		opts:    opts,
		allowed: make(map[string]bool, len(opts.Events)),
	}
	for _, method := range opts.Events {
		d.allowed[method] = true
	}
	return d
}

func (d *DebugSessions) internal(url string) bool {
	for _, prefix := range d.opts.InternalURLPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// Observe reacts to tab lifecycle notifications. It runs on the loop.
func (d *DebugSessions) Observe(ctx context.Context, st *State, n host.Notification) {
	switch n.Kind {
	case host.TabUpdated:
		change, _ := n.Payload.(host.ChangeInfo)
		if change.Status != host.StatusLoading {
			return
		}
		url := change.URL
		if url == "" && n.Tab != nil {
			url = n.Tab.URL
		}
		if url == "" || d.internal(url) {
			return
		}
		if !st.Monitor(n.TabID) {
			return
		}
		go d.attach(ctx, n.TabID)

	case host.TabRemoved:
		if !st.Forget(n.TabID) {
			return
		}
		if d.opts.DetachOnRemove {
			go d.detach(ctx, n.TabID)
		}
	}
}

func (d *DebugSessions) attach(ctx context.Context, tab host.TabID) {
	if err := d.host.Attach(ctx, tab, d.opts.ProtocolVersion); err != nil {
		d.log.Error(err, "attach debugger failed", "tabId", tab)
		return
	}
	d.log.Info("debugger attached", "tabId", tab, "protocolVersion", d.opts.ProtocolVersion)

	for _, method := range enabledDomains {
		if _, err := d.host.SendCommand(ctx, tab, method, nil); err != nil {
			d.log.Error(fmt.Errorf("%s: %w", method, err), "enable domain failed", "tabId", tab)
			return
		}
	}
}

func (d *DebugSessions) detach(ctx context.Context, tab host.TabID) {
	if err := d.host.Detach(ctx, tab); err != nil {
		d.log.V(1).Info("detach debugger failed", "tabId", tab, "error", err.Error())
		return
	}
	d.log.V(1).Info("debugger detached", "tabId", tab)
}

// Forward is the single handler shared by every attached session.
func (d *DebugSessions) Forward(ev host.DebugEvent) {
	if !d.allowed[ev.Method] {
		return
	}
	source := &protocol.Source{TabID: int(ev.TabID), SessionID: ev.SessionID}
	msg, err := protocol.NewEvent(ev.Method, source, ev.Params)
	if err != nil {
		d.log.Error(err, "cannot encode debugger event", "method", ev.Method, "tabId", ev.TabID)
		return
	}
	d.send(msg)
}
