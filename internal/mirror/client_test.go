package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/pkg/tabledto"
)

// echoTable seats every connection as first mover and answers each move
// request with a move-applied frame.
func echoTable(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		if err := wsjson.Write(ctx, conn, tabledto.RoleAssigned(tabledto.SeatFirst)); err != nil {
			return
		}
		for {
			var in tabledto.Message
			if err := wsjson.Read(ctx, conn, &in); err != nil {
				return
			}
			if in.Type != tabledto.TypeMoveRequest || in.Move == nil {
				continue
			}
			out := tabledto.MoveApplied(*in.Move, in.Move.To, "8/8/8/8/8/8/8/K6k b - - 0 1")
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_DrivesMirror(t *testing.T) {
	srv := echoTable(t)

	var m *Mirror
	client := NewClient(wsURL(srv), func(msg tabledto.Message) { m.Dispatch(msg) }, ClientOptions{})
	m = New(rules.NewChessOracle(), client, nil)

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	waitFor(t, "role", func() bool { return m.View().Seat == tabledto.SeatFirst })
	if client.State() != StateConnected {
		t.Fatalf("state = %s", client.State())
	}

	if err := m.Gesture(ctx, "e2", "e4"); err != nil {
		t.Fatalf("Gesture: %v", err)
	}
	waitFor(t, "broadcast", func() bool { return m.View().LastSAN == "e4" })
	if fen := m.View().FEN; fen != "8/8/8/8/8/8/8/K6k b - - 0 1" {
		t.Fatalf("server position did not win: %s", fen)
	}
}

func TestClient_SendBeforeConnect(t *testing.T) {
	c := NewClient("ws://127.0.0.1:0", nil, ClientOptions{})
	if err := c.Send(context.Background(), tabledto.MoveRequest("e2", "e4", "q")); err != ErrNotConnected {
		t.Fatalf("Send = %v", err)
	}
}

func TestClient_DialFailureWithoutRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var states []State
	c := NewClient(wsURL(srv), nil, ClientOptions{OnState: func(s State) { states = append(states, s) }})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error against a plain HTTP handler")
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %s", c.State())
	}
	if len(states) == 0 || states[0] != StateConnecting {
		t.Fatalf("state transitions = %v", states)
	}
}

func TestClient_AttachAfterCloseIsRefused(t *testing.T) {
	srv := echoTable(t)
	c := NewClient(wsURL(srv), nil, ClientOptions{})
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// a redial that completes after Close must not start new loops
	conn, err := c.dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if c.attach(conn) {
		t.Fatalf("attach succeeded on a closed client")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
	if err := c.Send(context.Background(), tabledto.MoveRequest("e2", "e4", "")); err != ErrNotConnected {
		t.Fatalf("Send after Close = %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loops started after Close")
	}
}

func TestClient_ConnectAfterCloseFails(t *testing.T) {
	srv := echoTable(t)
	c := NewClient(wsURL(srv), nil, ClientOptions{})
	_ = c.Close(context.Background())
	if err := c.Connect(context.Background()); err != ErrNotConnected {
		t.Fatalf("Connect after Close = %v", err)
	}
}

func TestBackoffDuration(t *testing.T) {
	if backoffDuration(0) != 100*time.Millisecond || backoffDuration(3) != 400*time.Millisecond {
		t.Fatalf("unexpected backoff progression")
	}
	if backoffDuration(10) != backoffDuration(6) {
		t.Fatalf("backoff must cap at attempt 6")
	}
}
