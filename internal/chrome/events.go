package chrome

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/HsiangNianian/uiabridge/internal/host"
)

type requestKey struct {
	tab host.TabID
	id  string
}

// requestTable correlates request and response events until the request
// finishes or fails.
type requestTable struct {
	mu      sync.Mutex
	pending map[requestKey]host.RequestDetails
}

func newRequestTable() *requestTable {
	return &requestTable{pending: make(map[requestKey]host.RequestDetails)}
}

func (r *requestTable) update(tab host.TabID, id string, fn func(*host.RequestDetails)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := requestKey{tab: tab, id: id}
	d, ok := r.pending[key]
	if !ok {
		d = host.RequestDetails{TabID: tab, RequestID: id}
	}
	fn(&d)
	r.pending[key] = d
}

func (r *requestTable) take(tab host.TabID, id string) host.RequestDetails {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := requestKey{tab: tab, id: id}
	d, ok := r.pending[key]
	if !ok {
		d = host.RequestDetails{TabID: tab, RequestID: id}
	}
	delete(r.pending, key)
	return d
}

func (r *requestTable) forget(tab host.TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.pending {
		if key.tab == tab {
			delete(r.pending, key)
		}
	}
}

func (r *requestTable) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

type frameParams struct {
	FrameID string `json:"frameId"`
}

type requestParams struct {
	RequestID        string    `json:"requestId"`
	LoaderID         string    `json:"loaderId"`
	FrameID          string    `json:"frameId"`
	Type             string    `json:"type"`
	RedirectResponse *struct{} `json:"redirectResponse"`
	Request          struct {
		URL    string `json:"url"`
		Method string `json:"method"`
	} `json:"request"`
	Response struct {
		URL           string `json:"url"`
		Status        int    `json:"status"`
		FromDiskCache bool   `json:"fromDiskCache"`
	} `json:"response"`
	ErrorText string `json:"errorText"`
}

// startsNavigation reports whether the request is the document load of a new
// navigation. Redirect hops reuse the request id and are not new navigations.
func (p requestParams) startsNavigation() bool {
	return p.Type == "Document" && p.RequestID != "" && p.RequestID == p.LoaderID && p.RedirectResponse == nil
}

// resourceTypes maps Network.ResourceType to the webRequest resource type names.
var resourceTypes = map[string]string{
	"Document":           "main_frame",
	"Stylesheet":         "stylesheet",
	"Image":              "image",
	"Media":              "media",
	"Font":               "font",
	"Script":             "script",
	"XHR":                "xmlhttprequest",
	"Fetch":              "xmlhttprequest",
	"WebSocket":          "websocket",
	"Ping":               "ping",
	"CSPViolationReport": "csp_report",
}

func resourceType(t string) string {
	if t == "" {
		return ""
	}
	if mapped, ok := resourceTypes[t]; ok {
		return mapped
	}
	return "other"
}

// sessionEvents derives navigation and request notifications from the raw
// events of attached sessions.
type sessionEvents struct {
	tabs     *tabTable
	requests *requestTable
	now      func() time.Time
}

func (s *sessionEvents) translate(tab host.TabID, targetID, method string, raw json.RawMessage) []host.Notification {
	stamp := s.now().UnixMilli()

	switch method {
	case "Page.frameStartedLoading":
		var p frameParams
		if json.Unmarshal(raw, &p) != nil || p.FrameID != targetID {
			return nil
		}
		return s.tabs.loading(tab)

	case "Page.domContentEventFired":
		current, _ := s.tabs.tab(tab)
		return []host.Notification{{
			Kind:    host.NavigationDOMReady,
			TabID:   tab,
			Payload: host.NavigationDetails{TabID: tab, FrameID: targetID, URL: current.URL, TimeStamp: stamp},
		}}

	case "Page.frameStoppedLoading":
		var p frameParams
		if json.Unmarshal(raw, &p) != nil || p.FrameID != targetID {
			return nil
		}
		current, _ := s.tabs.tab(tab)
		out := []host.Notification{{
			Kind:    host.NavigationCompleted,
			TabID:   tab,
			Payload: host.NavigationDetails{TabID: tab, FrameID: p.FrameID, URL: current.URL, TimeStamp: stamp},
		}}
		return append(out, s.tabs.loaded(tab)...)

	case "Network.requestWillBeSent":
		var p requestParams
		if json.Unmarshal(raw, &p) != nil {
			return nil
		}
		s.requests.update(tab, p.RequestID, func(d *host.RequestDetails) {
			d.URL = p.Request.URL
			d.Method = p.Request.Method
			d.Type = resourceType(p.Type)
		})
		if p.startsNavigation() {
			frame := p.FrameID
			if frame == "" {
				frame = targetID
			}
			return []host.Notification{{
				Kind:    host.NavigationBefore,
				TabID:   tab,
				Payload: host.NavigationDetails{TabID: tab, FrameID: frame, URL: p.Request.URL, TimeStamp: stamp},
			}}
		}

	case "Network.responseReceived":
		var p requestParams
		if json.Unmarshal(raw, &p) != nil {
			return nil
		}
		s.requests.update(tab, p.RequestID, func(d *host.RequestDetails) {
			if p.Response.URL != "" {
				d.URL = p.Response.URL
			}
			if t := resourceType(p.Type); t != "" {
				d.Type = t
			}
			d.StatusCode = p.Response.Status
			d.FromCache = p.Response.FromDiskCache
		})

	case "Network.loadingFinished":
		var p requestParams
		if json.Unmarshal(raw, &p) != nil {
			return nil
		}
		d := s.requests.take(tab, p.RequestID)
		d.TimeStamp = stamp
		return []host.Notification{{Kind: host.RequestCompleted, TabID: tab, Payload: d}}

	case "Network.loadingFailed":
		var p requestParams
		if json.Unmarshal(raw, &p) != nil {
			return nil
		}
		d := s.requests.take(tab, p.RequestID)
		if t := resourceType(p.Type); t != "" {
			d.Type = t
		}
		d.Error = p.ErrorText
		d.TimeStamp = stamp
		return []host.Notification{{Kind: host.RequestErrorOccurred, TabID: tab, Payload: d}}
	}
	return nil
}
