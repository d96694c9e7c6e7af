package notifications

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stagepass/ticket-marketplace/marketplace-backend/internal/orchestrator"
)

func newHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.HandleConnection(w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHubDeliversProgressToSubscribers(t *testing.T) {
	hub, url := newHubServer(t)
	defer hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)

	runID := uuid.New()
	hub.Emit(orchestrator.ProgressEvent{
		RunID:      runID,
		Intent:     "publish",
		StageIndex: 0,
		StageID:    "create-event",
		StageCount: 5,
		At:         time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeProgress, msg.Type)
	require.NotNil(t, msg.Progress)
	assert.Equal(t, runID, msg.Progress.RunID)
	assert.Equal(t, "create-event", msg.Progress.StageID)
}

func TestHubShutdownReleasesSubscribers(t *testing.T) {
	hub, url := newHubServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.Close()

	// The subscriber's connection is torn down rather than left hanging.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 },
		time.Second, 10*time.Millisecond)

	// A connection arriving after shutdown is closed immediately instead of
	// blocking on the stopped dispatch loop.
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		late.SetReadDeadline(time.Now().Add(time.Second))
		_, _, readErr := late.ReadMessage()
		assert.Error(t, readErr)
		late.Close()
	}
	assert.Zero(t, hub.ConnectionCount())
}
