// Package dataref tracks RREF dataref subscriptions and the values X-Plane
// streams back for them.
//
// A Registry assigns each subscribed name a stream index, sends the RREF
// request over a Conn and decodes incoming RREF packets into a
// name-to-value cache. It is not safe for concurrent use; the owner
// serializes calls.
package dataref

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

// X-Plane drops requests that arrive in large bursts, so every
// admissionEvery new subscriptions the registry pauses.
const (
	DefaultAdmissionDelay = 200 * time.Millisecond
	admissionEvery        = 100
)

// Conn is the datagram pipe a Registry talks over. *transport.Session
// implements it.
type Conn interface {
	Send(ctx context.Context, b []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Subscription is one tracked dataref.
type Subscription struct {
	Name     string
	Index    int
	Freq     int // packets per second
	Value    float32
	HasValue bool // false until the first streamed value arrives
}

// Option configures a Registry.
type Option func(*Registry)

// WithAdmissionDelay sets the pause taken every 100th new subscription.
func WithAdmissionDelay(d time.Duration) Option {
	return func(r *Registry) {
		r.admissionDelay = d
	}
}

// WithLogger sets the registry logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// Registry maps dataref names to RREF stream indices.
type Registry struct {
	conn           Conn
	byName         map[string]*Subscription
	byIndex        map[int]*Subscription
	next           int
	admissionDelay time.Duration
	log            logrus.FieldLogger
}

// NewRegistry returns an empty registry sending over conn.
func NewRegistry(conn Conn, opts ...Option) *Registry {
	r := &Registry{
		conn:           conn,
		byName:         make(map[string]*Subscription),
		byIndex:        make(map[int]*Subscription),
		admissionDelay: DefaultAdmissionDelay,
		log:            logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.WithField("component", "dataref")
	return r
}

func (r *Registry) send(ctx context.Context, name string, freq, index int) error {
	b, err := protocol.Marshal(&protocol.Rref{Name: name, Freq: freq, Index: index})
	if err != nil {
		return err
	}
	return r.conn.Send(ctx, b)
}

// Subscribe starts, retunes or stops the stream for name and returns its
// index.
//
// A new name with freq > 0 gets the next unused index. A tracked name with
// freq > 0 keeps its index and changes frequency. A tracked name with
// freq == 0 is dropped along with its cached value; its index is never
// reused. A new name with freq == 0 sends nothing and returns -1.
//
// Nothing is committed unless the RREF request was sent. If ctx ends during
// the admission pause the subscription is kept and ctx.Err() is returned
// with its index.
func (r *Registry) Subscribe(ctx context.Context, name string, freq int) (int, error) {
	if freq < 0 {
		return -1, &protocol.ValidationError{Op: "subscribe", Reason: "frequency must be >= 0"}
	}
	if sub, ok := r.byName[name]; ok {
		if err := r.send(ctx, name, freq, sub.Index); err != nil {
			return -1, err
		}
		if freq == 0 {
			delete(r.byName, name)
			delete(r.byIndex, sub.Index)
			r.log.WithFields(logrus.Fields{"dref": name, "index": sub.Index}).Debug("unsubscribed")
			return sub.Index, nil
		}
		sub.Freq = freq
		r.log.WithFields(logrus.Fields{"dref": name, "freq": freq}).Debug("frequency changed")
		return sub.Index, nil
	}

	if freq == 0 {
		return -1, nil
	}
	idx := r.next
	if err := r.send(ctx, name, freq, idx); err != nil {
		return -1, err
	}
	sub := &Subscription{Name: name, Index: idx, Freq: freq}
	r.byName[name] = sub
	r.byIndex[idx] = sub
	r.next++
	r.log.WithFields(logrus.Fields{"dref": name, "index": idx, "freq": freq}).Debug("subscribed")

	if r.next%admissionEvery == 0 && r.admissionDelay > 0 {
		t := time.NewTimer(r.admissionDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return idx, ctx.Err()
		}
	}
	return idx, nil
}

// Unsubscribe stops the stream for name. Unknown names are ignored.
func (r *Registry) Unsubscribe(ctx context.Context, name string) error {
	_, err := r.Subscribe(ctx, name, 0)
	return err
}

// Poll receives one packet and merges it with Merge. When nothing arrives
// in time the Conn's timeout error is returned.
func (r *Registry) Poll(ctx context.Context) (map[string]float32, error) {
	packet, err := r.conn.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return r.Merge(packet)
}

// Merge decodes an RREF stream packet into the cache and returns a copy of
// every cached value. Indices the registry does not track are dropped;
// values in (-0.001, 0) are stored as 0. A packet that is not an RREF
// stream is a *protocol.ProtocolError and leaves the cache untouched.
func (r *Registry) Merge(packet []byte) (map[string]float32, error) {
	var stream protocol.RrefStream
	if err := protocol.Unmarshal(packet, &stream); err != nil {
		r.log.WithError(err).Warn("dropping non-RREF packet")
		return nil, err
	}
	for _, v := range stream.Values {
		sub, ok := r.byIndex[int(v.Index)]
		if !ok {
			continue
		}
		sub.Value = normalize(v.Value)
		sub.HasValue = true
	}
	return r.Values(), nil
}

func normalize(v float32) float32 {
	if v < 0 && v > -0.001 {
		return 0
	}
	return v
}

// Values returns a copy of the cache: every tracked name that has
// received at least one value.
func (r *Registry) Values() map[string]float32 {
	out := make(map[string]float32, len(r.byName))
	for name, sub := range r.byName {
		if sub.HasValue {
			out[name] = sub.Value
		}
	}
	return out
}

// Subscriptions returns the tracked datarefs ordered by index.
func (r *Registry) Subscriptions() []Subscription {
	out := make([]Subscription, 0, len(r.byName))
	for _, sub := range r.byName {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Len returns the number of tracked datarefs.
func (r *Registry) Len() int {
	return len(r.byName)
}

// Close unsubscribes every tracked dataref and reports all send failures.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, sub := range r.Subscriptions() {
		if err := r.Unsubscribe(ctx, sub.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
