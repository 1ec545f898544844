package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"githubtriage/models"
	"githubtriage/service"
)

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	srv := httptest.NewServer(New(new(MockSyncController), setupStore(t), hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Notify(service.Event{Type: service.EventRepoSynced, SessionID: "s1", Repo: "acme/widgets", Kind: models.KindIssues})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var e service.Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, service.EventRepoSynced, e.Type)
	assert.Equal(t, "acme/widgets", e.Repo)
	assert.Equal(t, models.KindIssues, e.Kind)
	assert.False(t, e.Time.IsZero())

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubNotifyAfterClose(t *testing.T) {
	hub := NewHub()
	hub.Close()
	hub.Notify(service.Event{Type: service.EventSyncStarted})
	assert.Equal(t, 0, hub.ClientCount())
}
