package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/HsiangNianian/uiabridge/internal/bridge"
	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/protocol"
	"github.com/HsiangNianian/uiabridge/internal/store"
	"github.com/HsiangNianian/uiabridge/internal/ws"
)

type fakeConn struct{ state ws.State }

func (c fakeConn) State() ws.State { return c.state }
func (c fakeConn) URL() string     { return "ws://127.0.0.1:8020/ws/ext" }

type fakeBridge struct {
	snap bridge.Snapshot
	err  error
}

func (b fakeBridge) Snapshot(context.Context) (bridge.Snapshot, error) { return b.snap, b.err }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(testr.New(t), fakeConn{}, fakeBridge{}, nil, nil)
	rec := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestStatusReport(t *testing.T) {
	s := New(testr.New(t), fakeConn{state: ws.Connected}, fakeBridge{snap: bridge.Snapshot{Monitored: []host.TabID{3, 7}}}, nil, func() uint64 { return 4 })

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{
		"controller": {"url": "ws://127.0.0.1:8020/ws/ext", "state": "connected"},
		"monitored": [3, 7],
		"journalDropped": 4
	}`, rec.Body.String())

	s = New(testr.New(t), fakeConn{}, fakeBridge{}, nil, nil)
	rec = get(t, s.Handler(), "/status")
	require.JSONEq(t, `{
		"controller": {"url": "ws://127.0.0.1:8020/ws/ext", "state": "disconnected"},
		"monitored": [],
		"journalDropped": 0
	}`, rec.Body.String())
}

func TestStatusUnavailable(t *testing.T) {
	s := New(testr.New(t), fakeConn{}, fakeBridge{err: errors.New("stopped")}, nil, nil)
	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMessages(t *testing.T) {
	journal := store.NewMemoryStore(8)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, journal.Append(context.Background(), store.Entry{
			Direction: store.Outbound,
			Message:   protocol.Message{ID: id, Command: "Event.tabs.onUpdated"},
		}))
	}
	s := New(testr.New(t), fakeConn{}, fakeBridge{}, journal, nil)

	rec := get(t, s.Handler(), "/messages?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []store.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	require.Equal(t, "m3", entries[0].Message.ID)
	require.Equal(t, "m2", entries[1].Message.ID)

	rec = get(t, s.Handler(), "/messages")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)

	require.Equal(t, http.StatusBadRequest, get(t, s.Handler(), "/messages?limit=-1").Code)
	require.Equal(t, http.StatusBadRequest, get(t, s.Handler(), "/messages?limit=ten").Code)
}

func TestMessagesFilteredByKind(t *testing.T) {
	journal := store.NewMemoryStore(8)
	for _, e := range []store.Entry{
		{Direction: store.Inbound, Message: protocol.Message{ID: "c1", Command: "Request.queryTabs"}},
		{Direction: store.Outbound, Message: protocol.Message{ID: "r1", Command: "Response.queryTabs", Reply: "c1"}},
		{Direction: store.Outbound, Message: protocol.Message{ID: "e1", Command: "Event.tabs.onUpdated"}},
		{Direction: store.Outbound, Message: protocol.Message{ID: "e2", Command: "Event.tabs.onRemoved"}},
		{Direction: store.Outbound, Message: protocol.Message{ID: "e3", Command: "Event.tabs.onUpdated"}},
	} {
		require.NoError(t, journal.Append(context.Background(), e))
	}
	s := New(testr.New(t), fakeConn{}, fakeBridge{}, journal, nil)

	ids := func(target string) []string {
		rec := get(t, s.Handler(), target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		var entries []store.Entry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		var out []string
		for _, e := range entries {
			out = append(out, e.Message.ID)
		}
		return out
	}

	require.Equal(t, []string{"e3", "e2"}, ids("/messages?kind=event&limit=2"))
	require.Equal(t, []string{"r1"}, ids("/messages?kind=reply"))
	require.Equal(t, []string{"c1"}, ids("/messages?kind=command"))
	require.Equal(t, http.StatusBadRequest, get(t, s.Handler(), "/messages?kind=broadcast").Code)
}

func TestMessagesWithoutJournal(t *testing.T) {
	s := New(testr.New(t), fakeConn{}, fakeBridge{}, nil, nil)
	require.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/messages").Code)
}

func TestEmptyJournal(t *testing.T) {
	s := New(testr.New(t), fakeConn{}, fakeBridge{}, store.NewMemoryStore(4), nil)
	rec := get(t, s.Handler(), "/messages")
	require.JSONEq(t, `[]`, rec.Body.String())
}
