package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

// Requires a reachable server in REDIS_ADDR.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	key := "uiabridge:test:" + uuid.NewString()
	channel := key + ":traffic"
	st := NewRedisStoreWithClient(client, key, channel, 2)
	defer func() {
		client.Del(context.Background(), key)
		_ = st.Close()
	}()

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, st.Append(ctx, Entry{Direction: Outbound, At: time.Now(), Message: protocol.Message{ID: id}}))
	}

	got, err := st.Recent(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"m3", "m2"}, ids(got))

	got, err = st.Recent(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"m3"}, ids(got))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var published Entry
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &published))
	require.Equal(t, "m1", published.Message.ID)
}
