package bridge

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

func TestStateMonitorForget(t *testing.T) {
	st := NewState()

	require.True(t, st.Monitor(9))
	require.True(t, st.Monitor(2))
	require.False(t, st.Monitor(9))
	require.True(t, st.Monitored(9))
	require.Equal(t, []host.TabID{2, 9}, st.MonitoredTabs())

	require.True(t, st.Forget(9))
	require.False(t, st.Forget(9))
	require.False(t, st.Monitored(9))
	require.True(t, st.Monitor(9))
}

func TestEmitterKindsFollowDeclarationOrder(t *testing.T) {
	e := NewEmitter(logr.Discard(), []host.EventKind{host.RequestCompleted, host.TabCreated}, func(protocol.Message) {})
	require.Equal(t, []host.EventKind{host.TabCreated, host.RequestCompleted}, e.Kinds())
	require.True(t, e.Accepts(host.TabCreated))
	require.False(t, e.Accepts(host.TabUpdated))
}
