// Package host describes the browser capabilities the bridge instruments.
//
// Implementations publish notifications through Listeners so that every event
// source shares one subscribe/unsubscribe contract.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// TabID identifies a monitored unit for its whole lifetime in the browser.
type TabID int

// EventKind is the namespaced name of a host notification, e.g. "tabs.onUpdated".
type EventKind string

const (
	TabCreated           EventKind = "tabs.onCreated"
	TabUpdated           EventKind = "tabs.onUpdated"
	TabRemoved           EventKind = "tabs.onRemoved"
	NavigationBefore     EventKind = "webNavigation.onBeforeNavigate"
	NavigationDOMReady   EventKind = "webNavigation.onDOMContentLoaded"
	NavigationCompleted  EventKind = "webNavigation.onCompleted"
	RequestCompleted     EventKind = "webRequest.onCompleted"
	RequestErrorOccurred EventKind = "webRequest.onErrorOccurred"
)

// DefaultProtocolVersion is the debugger protocol version sessions are pinned to.
const DefaultProtocolVersion = "1.3"

// DefaultEventKinds are the notifications forwarded unless configured otherwise.
var DefaultEventKinds = []EventKind{
	TabUpdated,
	TabRemoved,
	NavigationBefore,
	NavigationCompleted,
	RequestCompleted,
}

// AllEventKinds lists every notification a host may publish.
var AllEventKinds = []EventKind{
	TabCreated,
	TabUpdated,
	TabRemoved,
	NavigationBefore,
	NavigationDOMReady,
	NavigationCompleted,
	RequestCompleted,
	RequestErrorOccurred,
}

func (k EventKind) Valid() bool {
	for _, known := range AllEventKinds {
		if k == known {
			return true
		}
	}
	return false
}

var (
	ErrUnknownTab  = errors.New("no tab with given id")
	ErrNotAttached = errors.New("debugger is not attached to the tab")
)

// UnknownTabError reports a tab id the host does not know.
func UnknownTabError(id TabID) error {
	return fmt.Errorf("%w: %d", ErrUnknownTab, id)
}

func NotAttachedError(id TabID) error {
	return fmt.Errorf("%w with id: %d", ErrNotAttached, id)
}

type Tab struct {
	ID       TabID  `json:"id"`
	WindowID int    `json:"windowId"`
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
}

const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

// ChangeInfo is the payload of a TabUpdated notification.
type ChangeInfo struct {
	Status string `json:"status,omitempty"`
	URL    string `json:"url,omitempty"`
	Title  string `json:"title,omitempty"`
}

type RemoveInfo struct {
	WindowID        int  `json:"windowId"`
	IsWindowClosing bool `json:"isWindowClosing"`
}

// NavigationDetails is the payload of webNavigation notifications.
type NavigationDetails struct {
	TabID     TabID  `json:"tabId"`
	FrameID   string `json:"frameId"`
	URL       string `json:"url"`
	TimeStamp int64  `json:"timeStamp"`
}

// RequestDetails is the payload of webRequest notifications.
type RequestDetails struct {
	TabID      TabID  `json:"tabId"`
	RequestID  string `json:"requestId"`
	URL        string `json:"url"`
	Method     string `json:"method,omitempty"`
	Type       string `json:"type,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	FromCache  bool   `json:"fromCache,omitempty"`
	Error      string `json:"error,omitempty"`
	TimeStamp  int64  `json:"timeStamp"`
}

// Notification is one lifecycle, navigation or network observation.
// Tab is set for tab lifecycle notifications; Payload is forwarded verbatim.
type Notification struct {
	Kind    EventKind
	TabID   TabID
	Tab     *Tab
	Payload any
}

// DebugEvent is a raw protocol event received on an attached session.
type DebugEvent struct {
	TabID     TabID
	SessionID string
	Method    string
	Params    json.RawMessage
}

type TabQuery struct {
	CurrentWindow bool
}

type Host interface {
	Subscribe(kind EventKind, fn func(Notification)) (unsubscribe func())
	SubscribeDebugger(fn func(DebugEvent)) (unsubscribe func())

	Attach(ctx context.Context, tab TabID, protocolVersion string) error
	Detach(ctx context.Context, tab TabID) error
	SendCommand(ctx context.Context, tab TabID, method string, params any) (json.RawMessage, error)

	QueryTabs(ctx context.Context, q TabQuery) ([]Tab, error)
	Navigate(ctx context.Context, tab TabID, url string) (Tab, error)
}
