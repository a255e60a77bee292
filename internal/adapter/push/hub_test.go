package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/quizforge/internal/domain"
)

type staticLister struct{ jobs []*domain.GenerationJob }

func (l *staticLister) JobsFor(string) []*domain.GenerationJob { return l.jobs }

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recipient := strings.TrimPrefix(r.URL.Path, "/ws/")
		hub.ServeWS(w, r, recipient)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, recipient string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + recipient
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var e domain.Event
	require.NoError(t, json.Unmarshal(raw, &e))
	return e
}

func TestServeWS_GreetsOnConnect(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv, "a@example.com")

	e := readEvent(t, conn)
	assert.Equal(t, domain.EventConnectionEstablished, e.Type)
	assert.NotEmpty(t, e.Message)
}

func TestPublish_ReachesOnlyTheRecipient(t *testing.T) {
	hub, srv := newTestHub(t)
	alice := dial(t, srv, "a@example.com")
	bob := dial(t, srv, "b@example.com")
	readEvent(t, alice) // greeting
	readEvent(t, bob)

	require.Eventually(t, func() bool { return hub.StreamCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Publish("a@example.com", domain.Event{
		Type:   domain.EventJobUpdate,
		JobID:  "j-1",
		Status: domain.JobRunning,
	})

	e := readEvent(t, alice)
	assert.Equal(t, domain.EventJobUpdate, e.Type)
	assert.Equal(t, "j-1", e.JobID)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "bob must not see alice's events")
}

func TestPublish_MultipleStreamsPerRecipient(t *testing.T) {
	hub, srv := newTestHub(t)
	first := dial(t, srv, "a@example.com")
	second := dial(t, srv, "a@example.com")
	readEvent(t, first)
	readEvent(t, second)

	require.Eventually(t, func() bool { return hub.StreamCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Publish("a@example.com", domain.Event{Type: domain.EventJobCompleted, JobID: "j-2"})
	assert.Equal(t, "j-2", readEvent(t, first).JobID)
	assert.Equal(t, "j-2", readEvent(t, second).JobID)
}

func TestBroadcast_ReachesEveryStream(t *testing.T) {
	hub, srv := newTestHub(t)
	alice := dial(t, srv, "a@example.com")
	bob := dial(t, srv, "b@example.com")
	readEvent(t, alice)
	readEvent(t, bob)

	require.Eventually(t, func() bool { return hub.StreamCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(domain.Event{Type: domain.EventJobUpdate, Message: "maintenance"})
	assert.Equal(t, "maintenance", readEvent(t, alice).Message)
	assert.Equal(t, "maintenance", readEvent(t, bob).Message)
}

func TestReadPump_PingGetsPong(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv, "a@example.com")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	e := readEvent(t, conn)
	assert.Equal(t, domain.EventPong, e.Type)
	assert.NotEmpty(t, e.Timestamp)
}

func TestReadPump_JobsStatusQuery(t *testing.T) {
	hub, srv := newTestHub(t)
	hub.SetJobLister(&staticLister{jobs: []*domain.GenerationJob{
		{ID: "j-1", Status: domain.JobRunning, TargetCount: 5},
		{ID: "j-2", Status: domain.JobCompleted, TargetCount: 3, GeneratedCount: 3},
	}})
	conn := dial(t, srv, "a@example.com")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "jobs_status"}))
	e := readEvent(t, conn)
	assert.Equal(t, domain.EventJobsStatus, e.Type)
	require.Len(t, e.Jobs, 2)
	assert.Equal(t, "j-1", e.Jobs[0].ID)
}

func TestStreamCount_DropsOnDisconnect(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "a@example.com")
	readEvent(t, conn)
	require.Eventually(t, func() bool { return hub.StreamCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.StreamCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestReadPump_GarbageFramesIgnored(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv, "a@example.com")
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, domain.EventPong, readEvent(t, conn).Type)
}

func TestEnqueue_AfterDropIsNoOp(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	// An unbuffered send channel with no write pump: the first delivery
	// overflows and the hub drops the stream.
	c := &Client{hub: hub, recipient: "a@example.com", send: make(chan []byte)}
	hub.register <- c
	require.Eventually(t, func() bool { return hub.StreamCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish("a@example.com", domain.Event{Type: domain.EventJobUpdate, JobID: "j-1"})
	require.Eventually(t, func() bool { return hub.StreamCount() == 0 }, time.Second, 10*time.Millisecond)

	// A late direct reply from the read pump must be discarded, not panic
	// on the closed channel.
	require.NotPanics(t, func() {
		c.enqueue(domain.Event{Type: domain.EventPong})
	})
	assert.False(t, c.trySend([]byte("{}")))
}

func TestServeWS_AfterStopClosesConnection(t *testing.T) {
	hub := NewHub()
	hub.Stop() // run loop never started; register must not block

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "a@example.com")
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "stream on a stopped hub must be closed, not left hanging")
	assert.Equal(t, 0, hub.StreamCount())
}
