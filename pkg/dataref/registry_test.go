package dataref

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
	"github.com/nasa/XPlaneConnect/pkg/transport"
)

// fakeConn records sent datagrams and replays queued ones.
type fakeConn struct {
	sent    [][]byte
	inbox   [][]byte
	sendErr error
}

func (c *fakeConn) Send(_ context.Context, b []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), b...))
	return nil
}

func (c *fakeConn) Receive(context.Context) ([]byte, error) {
	if len(c.inbox) == 0 {
		return nil, transport.ErrTimeout
	}
	p := c.inbox[0]
	c.inbox = c.inbox[1:]
	return p, nil
}

func (c *fakeConn) lastRref(t *testing.T) protocol.Rref {
	t.Helper()
	if len(c.sent) == 0 {
		t.Fatal("nothing sent")
	}
	var m protocol.Rref
	if err := protocol.Unmarshal(c.sent[len(c.sent)-1], &m); err != nil {
		t.Fatalf("decode sent RREF: %v", err)
	}
	return m
}

func TestSubscribeAssignsSequentialIndices(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)
	ctx := context.Background()

	idx, err := r.Subscribe(ctx, "sim/a", 10)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(0))
	g.Expect(conn.lastRref(t)).To(Equal(protocol.Rref{Name: "sim/a", Freq: 10, Index: 0}))

	idx, err = r.Subscribe(ctx, "sim/b", 5)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(1))
	g.Expect(conn.sent).To(HaveLen(2))
}

func TestSubscribeRetunesFrequency(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)
	ctx := context.Background()

	_, _ = r.Subscribe(ctx, "sim/a", 10)
	idx, err := r.Subscribe(ctx, "sim/a", 20)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(0))
	g.Expect(conn.lastRref(t).Freq).To(Equal(20))
	g.Expect(r.Subscriptions()).To(ConsistOf(Subscription{Name: "sim/a", Index: 0, Freq: 20}))
}

func TestUnsubscribeNeverReusesIndex(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)
	ctx := context.Background()

	_, _ = r.Subscribe(ctx, "sim/a", 10)
	_, _ = r.Subscribe(ctx, "sim/b", 10)
	conn.inbox = append(conn.inbox, protocol.MarshalRrefStream([]protocol.RrefValue{{Index: 0, Value: 1}}))
	_, err := r.Poll(ctx)
	g.Expect(err).NotTo(HaveOccurred())

	idx, err := r.Subscribe(ctx, "sim/a", 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(0))
	g.Expect(conn.lastRref(t)).To(Equal(protocol.Rref{Name: "sim/a", Freq: 0, Index: 0}))
	g.Expect(r.Values()).NotTo(HaveKey("sim/a"))

	idx, err = r.Subscribe(ctx, "sim/a", 10)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(2))
}

func TestSubscribeUnknownWithZeroFreqIsNoop(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)

	idx, err := r.Subscribe(context.Background(), "sim/never", 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(-1))
	g.Expect(conn.sent).To(BeEmpty())
	g.Expect(r.Unsubscribe(context.Background(), "sim/never")).To(Succeed())
}

func TestSubscribeValidation(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)
	ctx := context.Background()

	var ve *protocol.ValidationError
	_, err := r.Subscribe(ctx, "sim/a", -1)
	g.Expect(errors.As(err, &ve)).To(BeTrue())
	_, err = r.Subscribe(ctx, "", 1)
	g.Expect(errors.As(err, &ve)).To(BeTrue())
	_, err = r.Subscribe(ctx, strings.Repeat("x", 400), 1)
	g.Expect(errors.As(err, &ve)).To(BeTrue())
	g.Expect(conn.sent).To(BeEmpty())
	g.Expect(r.Len()).To(Equal(0))
}

func TestFailedSendCommitsNothing(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{sendErr: errors.New("network down")}
	r := NewRegistry(conn)

	_, err := r.Subscribe(context.Background(), "sim/a", 1)
	g.Expect(err).To(MatchError("network down"))
	g.Expect(r.Len()).To(Equal(0))

	conn.sendErr = nil
	idx, err := r.Subscribe(context.Background(), "sim/a", 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(0))
}

func TestAdmissionDelay(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn, WithAdmissionDelay(50*time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 99; i++ {
		_, err := r.Subscribe(ctx, fmt.Sprintf("sim/d%d", i), 1)
		g.Expect(err).NotTo(HaveOccurred())
	}
	start := time.Now()
	idx, err := r.Subscribe(ctx, "sim/d99", 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(99))
	g.Expect(time.Since(start)).To(BeNumerically(">=", 40*time.Millisecond))

	// Retuning an existing name is not an admission.
	start = time.Now()
	_, err = r.Subscribe(ctx, "sim/d99", 2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(time.Since(start)).To(BeNumerically("<", 40*time.Millisecond))
}

func TestPollMergesAndNormalizes(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)
	ctx := context.Background()
	_, _ = r.Subscribe(ctx, "sim/a", 1)
	_, _ = r.Subscribe(ctx, "sim/b", 1)

	conn.inbox = append(conn.inbox,
		protocol.MarshalRrefStream([]protocol.RrefValue{
			{Index: 0, Value: 1.5},
			{Index: 1, Value: -0.0005},
			{Index: 42, Value: 9}, // untracked
		}),
		protocol.MarshalRrefStream([]protocol.RrefValue{{Index: 0, Value: 2.5}}),
	)

	vals, err := r.Poll(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(vals).To(Equal(map[string]float32{"sim/a": 1.5, "sim/b": 0}))

	vals, err = r.Poll(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(vals).To(Equal(map[string]float32{"sim/a": 2.5, "sim/b": 0}))

	// The returned map is a copy.
	vals["sim/a"] = 100
	g.Expect(r.Values()["sim/a"]).To(Equal(float32(2.5)))
}

func TestNormalizeOnlyInsideOpenInterval(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)
	ctx := context.Background()
	for _, name := range []string{"sim/half", "sim/edge", "sim/inside"} {
		_, err := r.Subscribe(ctx, name, 1)
		g.Expect(err).NotTo(HaveOccurred())
	}

	conn.inbox = append(conn.inbox, protocol.MarshalRrefStream([]protocol.RrefValue{
		{Index: 0, Value: -0.5},
		{Index: 1, Value: -0.001},
		{Index: 2, Value: -0.0009999},
	}))

	vals, err := r.Poll(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(vals).To(HaveKeyWithValue("sim/half", float32(-0.5)))
	g.Expect(vals).To(HaveKeyWithValue("sim/edge", float32(-0.001)))
	g.Expect(vals).To(HaveKeyWithValue("sim/inside", float32(0)))
	g.Expect(math.Signbit(float64(vals["sim/inside"]))).To(BeFalse())
}

func TestPollErrors(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)
	ctx := context.Background()

	_, err := r.Poll(ctx)
	g.Expect(errors.Is(err, transport.ErrTimeout)).To(BeTrue())

	conn.inbox = append(conn.inbox, []byte("DATA\x00\x00\x00\x00\x00"))
	_, err = r.Poll(ctx)
	var pe *protocol.ProtocolError
	g.Expect(errors.As(err, &pe)).To(BeTrue())
}

func TestMergeStrayPacket(t *testing.T) {
	g := NewWithT(t)
	r := NewRegistry(&fakeConn{})
	ctx := context.Background()

	idx, err := r.Subscribe(ctx, "sim/flightmodel/position/latitude", 10)
	g.Expect(err).NotTo(HaveOccurred())

	vals, err := r.Merge(protocol.MarshalRrefStream([]protocol.RrefValue{{Index: int32(idx), Value: 37.5}}))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(vals).To(HaveKeyWithValue("sim/flightmodel/position/latitude", float32(37.5)))

	_, err = r.Merge([]byte("POSI\x00"))
	g.Expect(err).To(HaveOccurred())
	g.Expect(r.Values()).To(HaveLen(1))
}

func TestCloseUnsubscribesAll(t *testing.T) {
	g := NewWithT(t)
	conn := &fakeConn{}
	r := NewRegistry(conn)
	ctx := context.Background()
	_, _ = r.Subscribe(ctx, "sim/a", 1)
	_, _ = r.Subscribe(ctx, "sim/b", 1)
	conn.sent = nil

	g.Expect(r.Close(ctx)).To(Succeed())
	g.Expect(r.Len()).To(Equal(0))
	g.Expect(conn.sent).To(HaveLen(2))
	for _, b := range conn.sent {
		var m protocol.Rref
		g.Expect(protocol.Unmarshal(b, &m)).To(Succeed())
		g.Expect(m.Freq).To(Equal(0))
	}
}

func TestRegistryOverLoopback(t *testing.T) {
	g := NewWithT(t)
	sim, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	g.Expect(err).NotTo(HaveOccurred())
	defer sim.Close()

	s, err := transport.Open(transport.Config{
		Host:    "127.0.0.1",
		Port:    sim.LocalAddr().(*net.UDPAddr).Port,
		Timeout: time.Second,
	})
	g.Expect(err).NotTo(HaveOccurred())
	defer s.Close()

	r := NewRegistry(s)
	ctx := context.Background()
	idx, err := r.Subscribe(ctx, "sim/flightmodel/position/elevation", 20)
	g.Expect(err).NotTo(HaveOccurred())

	buf := make([]byte, 512)
	_ = sim.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := sim.ReadFromUDP(buf)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(n).To(Equal(413))

	_, err = sim.WriteToUDP(protocol.MarshalRrefStream([]protocol.RrefValue{{Index: int32(idx), Value: 1234}}), from)
	g.Expect(err).NotTo(HaveOccurred())

	vals, err := r.Poll(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(vals).To(HaveKeyWithValue("sim/flightmodel/position/elevation", float32(1234)))
}
