// Package bridge connects host observations and controller commands.
//
// All bridge state lives in a State value owned by a single loop goroutine.
// Producers (the controller reader, host event sources, finished host calls)
// post closures to the loop through an unbounded queue and never block on it,
// so callbacks never preempt each other and the monitored-tab registry needs
// no locking. Messages leave in the order their loop callbacks ran.
package bridge

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"

	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/protocol"
	"github.com/HsiangNianian/uiabridge/internal/store"
)

const taskQueueCapacity = 64

type Sender interface {
	Send(msg protocol.Message) error
}

type Recorder interface {
	Record(dir store.Direction, msg protocol.Message)
}

type Options struct {
	Events   []host.EventKind
	Debug    DebugOptions
	Handlers map[protocol.Command]Handler
	Recorder Recorder
}

type task func(ctx context.Context, st *State)

type Bridge struct {
	log      logr.Logger
	host     host.Host
	conn     Sender
	recorder Recorder

	emitter    *Emitter
	sessions   *DebugSessions
	dispatcher *Dispatcher

	lifetime context.Context
	stop     context.CancelFunc
	tasks    *chanx.UnboundedChan[task]
	runOnce  sync.Once
	ready    chan struct{}
}

func New(log logr.Logger, h host.Host, conn Sender, opts Options) *Bridge {
	if opts.Events == nil {
		opts.Events = host.DefaultEventKinds
	}
	if opts.Handlers == nil {
		opts.Handlers = Handlers()
	}

	lifetime, stop := context.WithCancel(context.Background())
	b := &Bridge{
		log:      log,
		host:     h,
		conn:     conn,
		recorder: opts.Recorder,
		lifetime: lifetime,
		stop:     stop,
		tasks:    chanx.NewUnboundedChan[task](lifetime, taskQueueCapacity),
		ready:    make(chan struct{}),
	}
	b.emitter = NewEmitter(log.WithName("events"), opts.Events, b.send)
	b.sessions = NewDebugSessions(log.WithName("debugger"), h, opts.Debug, b.send)
	b.dispatcher = NewDispatcher(log.WithName("commands"), h, opts.Handlers)
	return b
}

// Run executes posted callbacks until ctx is done. A Bridge runs at most once.
func (b *Bridge) Run(ctx context.Context) error {
	ran := false
	b.runOnce.Do(func() { ran = true })
	if !ran {
		return nil
	}
	defer b.stop()

	unsubscribe := b.subscribe()
	defer unsubscribe()
	close(b.ready)

	st := NewState()
	b.log.Info("bridge running", "events", b.emitter.Kinds())
	for {
		select {
		case <-ctx.Done():
			b.log.Info("bridge stopped", "monitored", len(st.monitored))
			return nil
		case t, ok := <-b.tasks.Out:
			if !ok {
				return nil
			}
			t(ctx, st)
		}
	}
}

// Ready is closed once Run has subscribed to the host.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bridge) subscribe() func() {
	var unsubscribers []func()

	kinds := map[host.EventKind]bool{host.TabUpdated: true, host.TabRemoved: true}
	for _, k := range b.emitter.Kinds() {
		kinds[k] = true
	}
	for _, k := range host.AllEventKinds {
		if !kinds[k] {
			continue
		}
		unsubscribers = append(unsubscribers, b.host.Subscribe(k, func(n host.Notification) {
			b.post(func(ctx context.Context, st *State) {
				b.emitter.Emit(n)
				b.sessions.Observe(ctx, st, n)
			})
		}))
	}

	unsubscribers = append(unsubscribers, b.host.SubscribeDebugger(func(ev host.DebugEvent) {
		b.post(func(context.Context, *State) {
			b.sessions.Forward(ev)
		})
	}))

	return func() {
		for _, fn := range unsubscribers {
			fn()
		}
	}
}

func (b *Bridge) post(t task) {
	select {
	case b.tasks.In <- t:
	case <-b.lifetime.Done():
	}
}

// Inbound accepts a raw controller frame from any goroutine.
func (b *Bridge) Inbound(frame []byte) {
	b.post(func(ctx context.Context, _ *State) {
		msg, err := protocol.Decode(frame)
		if err != nil {
			b.log.V(1).Info("drop unparsable frame", "error", err.Error())
			return
		}
		if b.recorder != nil {
			b.recorder.Record(store.Inbound, msg)
		}
		b.dispatcher.Dispatch(ctx, msg, func(rsp protocol.Message) {
			b.post(func(context.Context, *State) {
				b.send(rsp)
			})
		})
	})
}

// send runs on the loop. Messages are dropped when the controller is away.
func (b *Bridge) send(msg protocol.Message) {
	if err := b.conn.Send(msg); err != nil {
		b.log.V(1).Info("drop message", "id", msg.ID, "command", msg.Command, "reply", msg.Reply, "error", err.Error())
		return
	}
	if b.recorder != nil {
		b.recorder.Record(store.Outbound, msg)
	}
}

type Snapshot struct {
	Monitored []host.TabID `json:"monitored"`
}

// Snapshot copies bridge state on the loop.
func (b *Bridge) Snapshot(ctx context.Context) (Snapshot, error) {
	result := make(chan Snapshot, 1)
	b.post(func(_ context.Context, st *State) {
		result <- Snapshot{Monitored: st.MonitoredTabs()}
	})

	select {
	case s := <-result:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-b.lifetime.Done():
		return Snapshot{}, context.Canceled
	}
}
