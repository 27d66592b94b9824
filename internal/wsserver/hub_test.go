package wsserver

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
	"github.com/park285/chess-table/internal/table"
	"github.com/park285/chess-table/pkg/tabledto"
)

type fixture struct {
	hub   *Hub
	coord *table.Coordinator
	srv   *httptest.Server
	url   string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	hub := NewHub(opts)
	coord := table.NewCoordinator(table.Options{Oracle: rules.NewChessOracle(), Sender: hub})
	hub.Attach(coord)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coord.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
		cancel()
		<-done
	})
	return &fixture{hub: hub, coord: coord, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func read(t *testing.T, c *websocket.Conn) tabledto.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var msg tabledto.Message
	if err := wsjson.Read(ctx, c, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func write(t *testing.T, c *websocket.Conn, msg any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// join dials and consumes the role message and the private board-state.
func (f *fixture) join(t *testing.T) (*websocket.Conn, tabledto.Message) {
	t.Helper()
	c := f.dial(t)
	role := read(t, c)
	if bs := read(t, c); bs.Type != tabledto.TypeBoardState {
		t.Fatalf("expected board-state after role, got %+v", bs)
	}
	return c, role
}

func TestHub_SeatsAndBroadcast(t *testing.T) {
	f := newFixture(t, Options{})
	a, roleA := f.join(t)
	b, roleB := f.join(t)
	s, roleS := f.join(t)

	if roleA.Seat != tabledto.SeatFirst || roleB.Seat != tabledto.SeatSecond || roleS.Type != tabledto.TypeSpectator {
		t.Fatalf("roles = %+v %+v %+v", roleA, roleB, roleS)
	}

	write(t, a, tabledto.MoveRequest("e2", "e4", "q"))
	for name, c := range map[string]*websocket.Conn{"a": a, "b": b, "s": s} {
		m := read(t, c)
		if m.Type != tabledto.TypeMoveApplied || m.SAN != "e4" || !strings.Contains(m.FEN, " b ") {
			t.Fatalf("%s got %+v", name, m)
		}
	}

	// out of turn
	write(t, a, tabledto.MoveRequest("d2", "d4", "q"))
	if m := read(t, a); m.Type != tabledto.TypeMoveRejected || m.Code != tabledto.CodeNotYourTurn {
		t.Fatalf("out of turn = %+v", m)
	}
}

func TestHub_MalformedFrameIsRejectedAsInvalid(t *testing.T) {
	f := newFixture(t, Options{})
	a, _ := f.join(t)
	f.join(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	if m := read(t, a); m.Type != tabledto.TypeMoveRejected || m.Code != tabledto.CodeInvalidMove {
		t.Fatalf("malformed frame = %+v", m)
	}

	write(t, a, map[string]string{"type": "chat"})
	if m := read(t, a); m.Type != tabledto.TypeMoveRejected || m.Code != tabledto.CodeInvalidMove {
		t.Fatalf("foreign frame type = %+v", m)
	}

	write(t, a, tabledto.MoveRequest("e2", "e9", ""))
	if m := read(t, a); m.Type != tabledto.TypeMoveRejected || m.Code != tabledto.CodeInvalidMove {
		t.Fatalf("out-of-range square = %+v", m)
	}
}

func TestHub_DisconnectVacatesSeat(t *testing.T) {
	f := newFixture(t, Options{})
	f.join(t)
	b, _ := f.join(t)
	_ = b.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for {
		snap, err := f.coord.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.SecondMover == "" && snap.Connections == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("seat not vacated: %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, role := f.join(t)
	if role.Seat != tabledto.SeatSecond {
		t.Fatalf("rejoin got %+v, want second-mover", role)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, Options{AllowedOrigins: []string{"chess.example.com"}})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("Origin", "https://evil.example.net")
	if _, resp, err := websocket.Dial(ctx, f.url, &websocket.DialOptions{HTTPHeader: hdr}); err == nil {
		t.Fatalf("expected foreign origin to be refused")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	hdr.Set("Origin", "https://chess.example.com")
	c, _, err := websocket.Dial(ctx, f.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("allowed origin refused: %v", err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}

func TestHub_SendUnknownConnectionIsNoop(t *testing.T) {
	h := NewHub(Options{})
	h.Send("nobody", tabledto.Reset())
	if h.Count() != 0 {
		t.Fatalf("count = %d", h.Count())
	}
}

func TestHub_ThrottledFrameIsRejectedPrivately(t *testing.T) {
	f := newFixture(t, Options{RateBurst: 1, RateInterval: time.Hour})
	a, _ := f.join(t)
	b, _ := f.join(t)

	write(t, a, tabledto.MoveRequest("e2", "e4", ""))
	if m := read(t, a); m.Type != tabledto.TypeMoveApplied {
		t.Fatalf("first move = %+v", m)
	}
	if m := read(t, b); m.Type != tabledto.TypeMoveApplied {
		t.Fatalf("opponent saw %+v", m)
	}

	write(t, a, tabledto.MoveRequest("d2", "d4", ""))
	m := read(t, a)
	if m.Type != tabledto.TypeMoveRejected || m.Code != tabledto.CodeInvalidMove {
		t.Fatalf("throttled frame = %+v", m)
	}
	if m.Reason != "Too many requests. Slow down." {
		t.Fatalf("reason = %q", m.Reason)
	}

	snap, err := f.coord.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.MovesUCI) != 1 {
		t.Fatalf("throttled frame reached the table: %+v", snap.MovesUCI)
	}
}

func TestNewLimiter_BurstThenRefill(t *testing.T) {
	l := newLimiter(3, 300*time.Millisecond)
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		if !l.AllowN(now, 1) {
			t.Fatalf("frame %d within burst was refused", i)
		}
	}
	if l.AllowN(now, 1) {
		t.Fatalf("frame beyond burst was allowed")
	}
	now = now.Add(100 * time.Millisecond)
	if !l.AllowN(now, 1) {
		t.Fatalf("expected one token after refill")
	}
	if l.AllowN(now, 1) {
		t.Fatalf("expected bucket to be empty again")
	}
}

func TestDecodeMoveRequest(t *testing.T) {
	req := decodeMoveRequest([]byte(`{"type":"move-request","move":{"from":"e2","to":"e4","promotion":"q"}}`))
	if req.From != "e2" || req.To != "e4" || req.Promotion != "q" {
		t.Fatalf("decoded %+v", req)
	}
	for _, raw := range []string{`{"type":"move-request"}`, `garbage`, `{"type":"hello","move":{"from":"e2","to":"e4"}}`} {
		if req := decodeMoveRequest([]byte(raw)); req != (rules.MoveRequest{}) {
			t.Fatalf("%s decoded to %+v", raw, req)
		}
	}
}
