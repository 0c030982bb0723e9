package chrome

import (
	"context"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/HsiangNianian/uiabridge/internal/host"
)

func kinds(ns []host.Notification) []host.EventKind {
	var out []host.EventKind
	for _, n := range ns {
		out = append(out, n.Kind)
	}
	return out
}

func TestTabIDsFollowDiscoveryOrder(t *testing.T) {
	tabs := newTabTable()

	first := tabs.created(targetInfo{TargetID: "A", Type: "page", URL: "about:blank"}, 1)
	require.Equal(t, []host.EventKind{host.TabCreated}, kinds(first))
	require.Equal(t, host.TabID(1), first[0].TabID)

	require.Nil(t, tabs.created(targetInfo{TargetID: "W", Type: "service_worker", URL: "https://example.com/sw.js"}, 1))

	second := tabs.created(targetInfo{TargetID: "B", Type: "page", URL: "https://example.com/"}, 1)
	require.Equal(t, []host.EventKind{host.TabCreated, host.TabUpdated}, kinds(second))
	require.Equal(t, host.TabID(2), second[0].TabID)
	require.Equal(t, host.ChangeInfo{Status: host.StatusLoading, URL: "https://example.com/"}, second[1].Payload)
	require.Equal(t, 1, second[1].Tab.Index)
}

func TestTargetInfoChanges(t *testing.T) {
	tabs := newTabTable()
	tabs.created(targetInfo{TargetID: "A", Type: "page", URL: "about:blank"}, 1)

	out := tabs.changed(targetInfo{TargetID: "A", Type: "page", URL: "https://example.com/", Title: "example.com"}, 0)
	require.Len(t, out, 1)
	require.Equal(t, host.TabUpdated, out[0].Kind)
	require.Equal(t, host.ChangeInfo{Status: host.StatusLoading, URL: "https://example.com/", Title: "example.com"}, out[0].Payload)
	require.Equal(t, host.StatusLoading, out[0].Tab.Status)

	out = tabs.changed(targetInfo{TargetID: "A", Type: "page", URL: "https://example.com/", Title: "Example Domain"}, 0)
	require.Equal(t, host.ChangeInfo{Title: "Example Domain"}, out[0].Payload)

	require.Nil(t, tabs.changed(targetInfo{TargetID: "A", Type: "page", URL: "https://example.com/", Title: "Example Domain"}, 0))

	out = tabs.loaded(1)
	require.Equal(t, host.ChangeInfo{Status: host.StatusComplete}, out[0].Payload)
	require.Nil(t, tabs.loaded(1))
}

func TestChangedUnknownTargetCreatesTab(t *testing.T) {
	tabs := newTabTable()

	out := tabs.changed(targetInfo{TargetID: "A", Type: "page", URL: "https://example.com/"}, 3)
	require.Equal(t, []host.EventKind{host.TabCreated, host.TabUpdated}, kinds(out))
	require.Equal(t, 3, out[0].Tab.WindowID)
}

func TestDestroyedReleasesSession(t *testing.T) {
	tabs := newTabTable()
	tabs.created(targetInfo{TargetID: "A", Type: "page"}, 2)
	require.True(t, tabs.bindSession(1, "S1"))

	id, target, ok := tabs.bySessionID("S1")
	require.True(t, ok)
	require.Equal(t, host.TabID(1), id)
	require.Equal(t, "A", target)

	out, session := tabs.destroyed("A")
	require.Equal(t, "S1", session)
	require.Equal(t, []host.EventKind{host.TabRemoved}, kinds(out))
	require.Equal(t, host.RemoveInfo{WindowID: 2}, out[0].Payload)

	_, _, ok = tabs.bySessionID("S1")
	require.False(t, ok)
	_, ok = tabs.target(1)
	require.False(t, ok)

	out, _ = tabs.destroyed("A")
	require.Nil(t, out)

	next := tabs.created(targetInfo{TargetID: "A", Type: "page"}, 2)
	require.Equal(t, host.TabID(2), next[0].TabID)
}

func TestSessionBinding(t *testing.T) {
	tabs := newTabTable()
	tabs.created(targetInfo{TargetID: "A", Type: "page"}, 1)

	require.False(t, tabs.bindSession(9, "S9"))
	require.True(t, tabs.bindSession(1, "S1"))
	session, ok := tabs.session(1)
	require.True(t, ok)
	require.Equal(t, "S1", session)

	id, ok := tabs.sessionDetached("S1")
	require.True(t, ok)
	require.Equal(t, host.TabID(1), id)
	_, ok = tabs.session(1)
	require.False(t, ok)

	require.True(t, tabs.bindSession(1, "S2"))
	session, ok = tabs.unbindSession(1)
	require.True(t, ok)
	require.Equal(t, "S2", session)
	_, ok = tabs.unbindSession(1)
	require.False(t, ok)
}

func TestCurrentWindowFollowsLatestListing(t *testing.T) {
	tabs := newTabTable()
	tabs.created(targetInfo{TargetID: "A", Type: "page"}, 1)
	tabs.created(targetInfo{TargetID: "B", Type: "page"}, 1)
	tabs.created(targetInfo{TargetID: "C", Type: "page"}, 2)

	all, window := tabs.list()
	require.Len(t, all, 3)
	require.Equal(t, 2, window)
	require.Equal(t, 0, all[2].Index)
	require.Equal(t, 1, all[1].Index)

	tabs.changed(targetInfo{TargetID: "A", Type: "page", URL: "https://example.com/"}, 0)
	_, window = tabs.list()
	require.Equal(t, 1, window)

	h := New(testr.New(t), Options{})
	h.tabs = tabs
	current, err := h.QueryTabs(context.Background(), host.TabQuery{CurrentWindow: true})
	require.NoError(t, err)
	require.Len(t, current, 2)
	require.Equal(t, host.TabID(1), current[0].ID)
	require.Equal(t, host.TabID(2), current[1].ID)
}

func TestBackgroundTitleChangeKeepsCurrentWindow(t *testing.T) {
	tabs := newTabTable()
	tabs.created(targetInfo{TargetID: "A", Type: "page"}, 1)
	tabs.created(targetInfo{TargetID: "B", Type: "page"}, 2)
	tabs.created(targetInfo{TargetID: "C", Type: "page"}, 1)
	_, window := tabs.list()
	require.Equal(t, 1, window)

	out := tabs.changed(targetInfo{TargetID: "B", Type: "page", Title: "(3) Inbox"}, 0)
	require.Equal(t, host.ChangeInfo{Title: "(3) Inbox"}, out[0].Payload)
	_, window = tabs.list()
	require.Equal(t, 1, window)
}

func TestReloadReportsLoading(t *testing.T) {
	tabs := newTabTable()
	tabs.created(targetInfo{TargetID: "A", Type: "page", URL: "https://example.com/"}, 1)
	tabs.loaded(1)

	require.Nil(t, tabs.changed(targetInfo{TargetID: "A", Type: "page", URL: "https://example.com/"}, 0))

	out := tabs.loading(1)
	require.Equal(t, []host.EventKind{host.TabUpdated}, kinds(out))
	require.Equal(t, host.ChangeInfo{Status: host.StatusLoading}, out[0].Payload)
	require.Nil(t, tabs.loading(1))

	out = tabs.changed(targetInfo{TargetID: "A", Type: "page", URL: "https://example.com/next"}, 0)
	require.Equal(t, host.ChangeInfo{URL: "https://example.com/next"}, out[0].Payload)

	out = tabs.loaded(1)
	require.Equal(t, host.ChangeInfo{Status: host.StatusComplete}, out[0].Payload)
	require.Nil(t, tabs.loading(9))
}

func TestCompatibleProtocolVersions(t *testing.T) {
	require.True(t, compatible("1.3", "1.3"))
	require.True(t, compatible("1.2", "1.3"))
	require.True(t, compatible("1.3", ""))
	require.False(t, compatible("2.0", "1.3"))
}
