package hub_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nigamk1/tutorboard/hub"
	"github.com/nigamk1/tutorboard/tests/helpers"
)

func recv(t *testing.T, conn *hub.Connection) []byte {
	t.Helper()
	select {
	case data := <-conn.Send:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestBroadcastReachesSessionSubscribers(t *testing.T) {
	h := hub.NewHub(helpers.NewTestLogger())
	go h.Run()

	a := h.NewConnection(nil)
	b := h.NewConnection(nil)
	other := h.NewConnection(nil)
	h.Register(a)
	h.Register(b)
	h.Register(other)
	h.Join(a, "sess_1")
	h.Join(b, "sess_1")
	h.Join(other, "sess_2")

	if n := h.Subscribers("sess_1"); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}

	if err := h.BroadcastJSON("sess_1", map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for _, conn := range []*hub.Connection{a, b} {
		var msg map[string]string
		if err := json.Unmarshal(recv(t, conn), &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg["type"] != "ping" {
			t.Fatalf("message = %v", msg)
		}
	}

	select {
	case data := <-other.Send:
		t.Fatalf("unsubscribed session received %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinLeavesPreviousSession(t *testing.T) {
	h := hub.NewHub(helpers.NewTestLogger())

	conn := h.NewConnection(nil)
	h.Join(conn, "sess_1")
	h.Join(conn, "sess_2")

	if n := h.Subscribers("sess_1"); n != 0 {
		t.Fatalf("old session subscribers = %d, want 0", n)
	}
	if n := h.Subscribers("sess_2"); n != 1 {
		t.Fatalf("new session subscribers = %d, want 1", n)
	}
	if conn.SessionID != "sess_2" {
		t.Fatalf("conn session = %q, want sess_2", conn.SessionID)
	}
}

func TestSendFailsWhenBufferFull(t *testing.T) {
	h := hub.NewHub(helpers.NewTestLogger())
	conn := h.NewConnection(nil)

	payload := []byte("x")
	for {
		if err := h.Send(conn, payload); err != nil {
			if err != hub.ErrBufferFull {
				t.Fatalf("err = %v, want ErrBufferFull", err)
			}
			return
		}
	}
}
