package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes fired notifications as JSON events on a subject so
// other services can consume them.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (n *NATSSink) Name() string { return "nats" }

func (n *NATSSink) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (n *NATSSink) Schedule(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject, data)
}

func (n *NATSSink) SetBadge(ctx context.Context, count int) error {
	data, err := json.Marshal(map[string]int{"badge": count})
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject+".badge", data)
}

func (n *NATSSink) Close() {
	if n.conn != nil {
		n.conn.Drain()
		n.conn.Close()
	}
}
