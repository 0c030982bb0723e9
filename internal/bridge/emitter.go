package bridge

import (
	"github.com/go-logr/logr"

	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

// Emitter turns host notifications into Event.<kind> messages, one per
// accepted notification, with no batching.
type Emitter struct {
	log   logr.Logger
	kinds map[host.EventKind]bool
	send  func(protocol.Message)
}

func NewEmitter(log logr.Logger, kinds []host.EventKind, send func(protocol.Message)) *Emitter {
	e := &Emitter{
		log:   log,
		kinds: make(map[host.EventKind]bool, len(kinds)),
		send:  send,
	}
	for _, k := range kinds {
		e.kinds[k] = true
	}
	return e
}

func (e *Emitter) Kinds() []host.EventKind {
	kinds := make([]host.EventKind, 0, len(e.kinds))
	for _, k := range host.AllEventKinds {
		if e.kinds[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (e *Emitter) Accepts(kind host.EventKind) bool {
	return e.kinds[kind]
}

func (e *Emitter) Emit(n host.Notification) {
	if !e.Accepts(n.Kind) {
		return
	}

	var source *protocol.Source
	if n.TabID != 0 {
		source = &protocol.Source{TabID: int(n.TabID)}
	}
	msg, err := protocol.NewEvent(string(n.Kind), source, n.Payload)
	if err != nil {
		e.log.Error(err, "cannot encode notification", "kind", n.Kind, "tabId", n.TabID)
		return
	}
	e.send(msg)
}
