package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.ID)
	}
	return out
}

func TestMemoryStoreKeepsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(3)

	empty, err := st.Recent(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, empty)

	for _, id := range []string{"m1", "m2"} {
		require.NoError(t, st.Append(ctx, Entry{Direction: Outbound, Message: protocol.Message{ID: id}}))
	}
	got, err := st.Recent(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"m2", "m1"}, ids(got))

	for _, id := range []string{"m3", "m4", "m5"} {
		require.NoError(t, st.Append(ctx, Entry{Direction: Inbound, Message: protocol.Message{ID: id}}))
	}
	got, err = st.Recent(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"m5", "m4", "m3"}, ids(got))

	got, err = st.Recent(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"m5", "m4"}, ids(got))
}

type blockingStore struct {
	release chan struct{}
	*MemoryStore
}

func (b *blockingStore) Append(ctx context.Context, e Entry) error {
	<-b.release
	return b.MemoryStore.Append(ctx, e)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := &blockingStore{release: make(chan struct{}), MemoryStore: NewMemoryStore(16)}
	rec := NewRecorder(logr.Discard(), st, 2)
	go rec.Run(ctx)

	// The first entry is picked up by Run and blocks; two more fill the buffer.
	rec.Record(Outbound, protocol.Message{ID: "1"})
	require.Eventually(t, func() bool { return len(rec.entries) == 0 }, time.Second, time.Millisecond)
	rec.Record(Outbound, protocol.Message{ID: "2"})
	rec.Record(Outbound, protocol.Message{ID: "3"})
	rec.Record(Outbound, protocol.Message{ID: "4"})
	require.Equal(t, uint64(1), rec.Dropped())

	close(st.release)
	require.Eventually(t, func() bool {
		got, _ := st.Recent(ctx, 0)
		return len(got) == 3
	}, time.Second, time.Millisecond)

	got, err := rec.Store().Recent(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"3", "2", "1"}, ids(got))
}
