// Package natsclient is a thin wrapper around nats.go used by the
// trace-ingest command to receive events to feed into a back-end.
package natsclient

import (
	"sync"

	"github.com/nats-io/nats.go"
)

// MessageHandler processes one received message's payload.
type MessageHandler func(subject string, data []byte)

// Client wraps a *nats.Conn with the subset of operations trace
// ingestion needs.
type Client struct {
	conn *nats.Conn
}

var (
	once sync.Once
	inst *Client
	err  error
)

// Connect returns the process-wide NATS connection, dialing it on
// first use.
func Connect(url string, opts ...nats.Option) (*Client, error) {
	once.Do(func() {
		var conn *nats.Conn
		conn, err = nats.Connect(url, opts...)
		if err == nil {
			inst = &Client{conn: conn}
		}
	})
	return inst, err
}

// Subscribe registers handler on subject. nats.go delivers the
// subscription's messages one at a time, in order, on a goroutine of
// its own.
func (c *Client) Subscribe(subject string, handler MessageHandler) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
}

// SubscribeQueue registers handler on subject within queue group
// queue, load-balancing deliveries across every member.
func (c *Client) SubscribeQueue(subject, queue string, handler MessageHandler) (*nats.Subscription, error) {
	return c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
}

// Publish sends data on subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Flush blocks until all buffered data has been sent to the server.
func (c *Client) Flush() error { return c.conn.Flush() }

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool { return c.conn.IsConnected() }

// Close closes the connection; pending messages are not drained.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
