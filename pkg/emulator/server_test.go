package emulator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nasa/XPlaneConnect/pkg/discovery"
	"github.com/nasa/XPlaneConnect/pkg/protocol"
	"github.com/nasa/XPlaneConnect/pkg/transport"
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s := New(opts...)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *Server) *transport.Session {
	t.Helper()
	sess, err := transport.Open(transport.Config{Host: "127.0.0.1", Port: s.Addr().Port, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func send(t *testing.T, sess *transport.Session, m protocol.Message) {
	t.Helper()
	b, err := protocol.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal %s: %v", m.Opcode(), err)
	}
	if err := sess.Send(context.Background(), b); err != nil {
		t.Fatalf("Send %s: %v", m.Opcode(), err)
	}
}

func recv(t *testing.T, sess *transport.Session, m protocol.Message) {
	t.Helper()
	b, err := sess.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive %s: %v", m.Opcode(), err)
	}
	if err := protocol.Unmarshal(b, m); err != nil {
		t.Fatalf("Unmarshal %s: %v", m.Opcode(), err)
	}
}

// eventually polls cond for up to a second.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPositionSetAndGet(t *testing.T) {
	s := startServer(t)
	sess := dial(t, s)

	send(t, sess, &protocol.Posi{Aircraft: 1, Values: []float32{37.5, -122.25, 1000}})
	send(t, sess, &protocol.Getp{Aircraft: 1})
	var got protocol.Posi
	recv(t, sess, &got)

	want := []float32{37.5, -122.25, 1000, 0, 0, 0, 1}
	if got.Aircraft != 1 {
		t.Errorf("Aircraft = %d, want 1", got.Aircraft)
	}
	for i, v := range want {
		if got.Values[i] != v {
			t.Errorf("Values[%d] = %v, want %v", i, got.Values[i], v)
		}
	}
}

func TestControlsKeepUnchanged(t *testing.T) {
	s := startServer(t)
	sess := dial(t, s)

	send(t, sess, &protocol.Ctrl{Values: []float32{0.5, 0.25, 0.1, 0.9, 0, 0.3, 0.7}})
	send(t, sess, &protocol.Ctrl{Values: []float32{protocol.Unchanged, -0.25}})
	send(t, sess, &protocol.Getc{})
	var got protocol.Ctrl
	recv(t, sess, &got)

	want := []float32{0.5, -0.25, 0.1, 0.9, 0, 0.3, 0.7}
	if len(got.Values) != 7 {
		t.Fatalf("len(Values) = %d, want 7", len(got.Values))
	}
	for i, v := range want {
		if got.Values[i] != v {
			t.Errorf("Values[%d] = %v, want %v", i, got.Values[i], v)
		}
	}
}

func TestDrefSetAndGet(t *testing.T) {
	s := startServer(t)
	sess := dial(t, s)

	send(t, sess, &protocol.Dref{Entries: []protocol.DrefValue{
		{Name: "sim/a", Values: []float32{1}},
		{Name: "sim/b", Values: []float32{1, 2, 3, 4}},
	}})
	send(t, sess, &protocol.Getd{Names: []string{"sim/a", "sim/b", "sim/missing"}})
	var got protocol.DrefResponse
	recv(t, sess, &got)

	if len(got.Values) != 3 {
		t.Fatalf("entries = %d, want 3", len(got.Values))
	}
	if len(got.Values[0]) != 1 || len(got.Values[1]) != 4 || len(got.Values[2]) != 0 {
		t.Errorf("values = %v", got.Values)
	}
}

func TestConnRedirectsReply(t *testing.T) {
	s := startServer(t)
	sess := dial(t, s)

	target, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer target.Close()

	send(t, sess, &protocol.Conn{Port: target.LocalAddr().(*net.UDPAddr).Port})
	buf := make([]byte, 16)
	_ = target.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := target.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read CONF: %v", err)
	}
	var ack protocol.ConnAck
	if err := protocol.Unmarshal(buf[:n], &ack); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ack.ID != 1 {
		t.Errorf("ID = %d, want 1", ack.ID)
	}
}

func TestWorldUpdates(t *testing.T) {
	s := startServer(t)
	sess := dial(t, s)
	st := s.State()

	send(t, sess, &protocol.Simu{Code: protocol.SimuPause})
	send(t, sess, &protocol.Simu{Code: protocol.SimuResumeAircraft + 3})
	send(t, sess, &protocol.View{View: protocol.ViewChase})
	send(t, sess, &protocol.Text{Message: "hello", X: 10, Y: 20})
	send(t, sess, &protocol.Wypt{Op: protocol.WaypointAdd, Points: []float32{1, 2, 3, 4, 5, 6}})
	send(t, sess, &protocol.Wypt{Op: protocol.WaypointRemove, Points: []float32{1, 2, 3}})
	send(t, sess, &protocol.Comm{Command: "sim/operation/pause_toggle"})

	eventually(t, "command", func() bool { return len(st.Commands()) == 1 })
	if !st.Paused(0) || st.Paused(3) {
		t.Errorf("paused(0)=%v paused(3)=%v, want true false", st.Paused(0), st.Paused(3))
	}
	if st.View() != protocol.ViewChase {
		t.Errorf("View = %v, want chase", st.View())
	}
	if msg, x, y := st.Text(); msg != "hello" || x != 10 || y != 20 {
		t.Errorf("Text = %q (%d,%d)", msg, x, y)
	}
	if wp := st.Waypoints(); len(wp) != 3 || wp[0] != 4 {
		t.Errorf("Waypoints = %v, want [4 5 6]", wp)
	}

	send(t, sess, &protocol.Wypt{Op: protocol.WaypointClear})
	eventually(t, "waypoints cleared", func() bool { return len(st.Waypoints()) == 0 })
}

func TestDataSelect(t *testing.T) {
	s := startServer(t)
	sess := dial(t, s)

	send(t, sess, &protocol.Data{Rows: []protocol.DataRow{{Index: 17, Values: [8]float32{1, 2, 3, 4, 5, 6, 7, 8}}}})
	send(t, sess, &protocol.Dsel{Rows: []int{17}})
	var got protocol.Data
	recv(t, sess, &got)
	if len(got.Rows) != 1 || got.Rows[0].Index != 17 || got.Rows[0].Values[7] != 8 {
		t.Errorf("rows = %+v", got.Rows)
	}
}

func TestRrefStreaming(t *testing.T) {
	s := startServer(t, WithStreamTick(5*time.Millisecond))
	s.State().SetDataref("sim/time/total_running_time_sec", 42)
	sess := dial(t, s)

	send(t, sess, &protocol.Rref{Name: "sim/time/total_running_time_sec", Freq: 50, Index: 3})
	var stream protocol.RrefStream
	recv(t, sess, &stream)
	if len(stream.Values) != 1 || stream.Values[0] != (protocol.RrefValue{Index: 3, Value: 42}) {
		t.Errorf("stream = %+v", stream.Values)
	}

	send(t, sess, &protocol.Rref{Name: "sim/time/total_running_time_sec", Freq: 0, Index: 3})
	eventually(t, "unsubscribe", func() bool { return s.Subscriptions() == 0 })
}

func TestMalformedRequestIgnored(t *testing.T) {
	s := startServer(t)
	sess := dial(t, s)

	if err := sess.Send(context.Background(), []byte("GETP\x00\x01\x02")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := sess.Send(context.Background(), []byte("ZZZZ\x00")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	send(t, sess, &protocol.Getp{Aircraft: 0})
	var got protocol.Posi
	recv(t, sess, &got)
	if got.Aircraft != 0 {
		t.Errorf("Aircraft = %d, want 0", got.Aircraft)
	}
}

func TestStopIdempotent(t *testing.T) {
	s := New()
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()
}

func TestAnnouncer(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	a := NewAnnouncer(DefaultBeacon("emu", 49009),
		WithAnnounceGroup(listener.LocalAddr().(*net.UDPAddr)),
		WithAnnounceInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	buf := make([]byte, 256)
	_ = listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read beacon: %v", err)
	}
	info, err := discovery.ParseBeacon(buf[:n], from)
	if err != nil {
		t.Fatalf("ParseBeacon: %v", err)
	}
	if info.Hostname != "emu" || info.Port != 49009 {
		t.Errorf("info = %+v", info)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
