package mocks

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/absmach/flround/pkg/mqtt"
)

var ErrDisconnected = errors.New("connection closed")

type Message struct {
	From    string
	Topic   string
	Payload []byte
}

type subscription struct {
	conn    *Conn
	filter  string
	handler mqtt.Handler
}

// Broker is an in-process stand-in for an MQTT broker. Messages are delivered
// synchronously on the publisher's goroutine to every matching subscription.
type Broker struct {
	mu        sync.Mutex
	subs      []*subscription
	published []Message
	drop      func(Message) bool
}

func NewBroker() *Broker {
	return &Broker{}
}

// Connect returns a PubSub bound to the broker under the given client id.
func (b *Broker) Connect(id string) *Conn {
	return &Conn{id: id, broker: b}
}

// Drop installs a filter; published messages for which it returns true are
// recorded but not delivered.
func (b *Broker) Drop(fn func(Message) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop = fn
}

// Inject delivers a message as if some other party had published it.
func (b *Broker) Inject(topic string, payload []byte) {
	b.route(Message{From: "inject", Topic: topic, Payload: payload})
}

// Published returns every recorded message whose topic matches filter.
func (b *Broker) Published(filter string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Message
	for _, m := range b.published {
		if Matches(filter, m.Topic) {
			out = append(out, m)
		}
	}

	return out
}

func (b *Broker) Subscribed(filter string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.ContainsFunc(b.subs, func(s *subscription) bool { return s.filter == filter })
}

func (b *Broker) route(m Message) {
	b.mu.Lock()
	b.published = append(b.published, m)
	if b.drop != nil && b.drop(m) {
		b.mu.Unlock()

		return
	}
	var targets []*subscription
	for _, s := range b.subs {
		if Matches(s.filter, m.Topic) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		_ = s.handler(m.Topic, slices.Clone(m.Payload))
	}
}

// Matches reports whether topic is covered by an MQTT filter using the "+"
// and "#" wildcards.
func Matches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range fp {
		if part == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if part != "+" && part != tp[i] {
			return false
		}
	}

	return len(fp) == len(tp)
}

var _ mqtt.PubSub = (*Conn)(nil)

type Conn struct {
	id     string
	broker *Broker

	mu     sync.Mutex
	closed bool
}

func (c *Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.isClosed() {
		return ErrDisconnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.broker.route(Message{From: c.id, Topic: topic, Payload: slices.Clone(payload)})

	return nil
}

func (c *Conn) Subscribe(_ context.Context, topic string, handler mqtt.Handler) error {
	if c.isClosed() {
		return ErrDisconnected
	}
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.subs = append(c.broker.subs, &subscription{conn: c, filter: topic, handler: handler})

	return nil
}

func (c *Conn) Unsubscribe(_ context.Context, topic string) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.subs = slices.DeleteFunc(c.broker.subs, func(s *subscription) bool {
		return s.conn == c && s.filter == topic
	})

	return nil
}

func (c *Conn) Disconnect(_ context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.subs = slices.DeleteFunc(c.broker.subs, func(s *subscription) bool { return s.conn == c })

	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}
