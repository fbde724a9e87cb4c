package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/yatesi-xyz/statserver/internal/config"
)

type fakeCache struct {
	values []uint64
}

func (f *fakeCache) MGet(ctx context.Context, keys ...string) []uint64 {
	return f.values
}

func toWebsocketURL(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		panic(err)
	}
	if u.Scheme == "http" {
		u.Scheme = "ws"
	}
	return u.String()
}

func newTestServer(t *testing.T, values []uint64) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	srv := New(config.ServerConfig{}, &fakeCache{values: values}, nil, nil)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.handle(w, r)
	}))
	t.Cleanup(httpSrv.Close)

	conn, _, err := websocket.Dial(context.Background(), toWebsocketURL(httpSrv.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })

	return httpSrv, conn
}

func TestHeartbeatDeliversRepeatedSnapshots(t *testing.T) {
	_, conn := newTestServer(t, []uint64{1, 2, 3, 4})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	count := 0
	deadline := time.Now().Add(2100 * time.Millisecond)
	for time.Now().Before(deadline) {
		readCtx, readCancel := context.WithTimeout(ctx, time.Second)
		_, data, err := conn.Read(readCtx)
		readCancel()
		require.NoError(t, err)

		var payload snapshotPayload
		require.NoError(t, json.Unmarshal(data, &payload))
		require.Equal(t, uint64(1), payload.TotalEmojiCount)
		require.Equal(t, uint64(4), payload.IndexedEmojipackCount)
		count++
	}

	require.GreaterOrEqual(t, count, 4)
}

func TestOnDemandFrameTriggersImmediateSnapshot(t *testing.T) {
	_, conn := newTestServer(t, []uint64{9, 9, 9, 9})

	writeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, []byte("x")))
	cancel()

	readCtx, readCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)

	var payload snapshotPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Equal(t, uint64(9), payload.TotalEmojiCount)
}

func TestSnapshotDegradesToZerosWhenCacheShortCircuits(t *testing.T) {
	_, conn := newTestServer(t, []uint64{0, 0, 0, 0})

	readCtx, readCancel := context.WithTimeout(context.Background(), time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)

	require.JSONEq(t, `{"total_emoji_count":0,"total_emojipack_count":0,"indexed_emoji_count":0,"indexed_emojipack_count":0}`, string(data))
}
