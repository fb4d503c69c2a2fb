// Package zmqfabric implements the fan-out half of the transport (§4.2)
// over ZeroMQ PUB/SUB, grounded on the deehdev-teste chat fabric's
// PUB/SUB/REP socket layout: a node PUB-binds once and every peer SUB-
// connects to it.
package zmqfabric

import (
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/rtcluster/coordinator/pkg/observability/metrics"
	"github.com/rtcluster/coordinator/pkg/transport"
	"github.com/rtcluster/coordinator/pkg/wire"
)

// Publisher binds a PUB socket and frames every broadcast as
// (topic, msgpack-encoded envelope) multipart messages, matching
// Subscriber.Recv's expectation of a two-part message.
type Publisher struct {
	mu   sync.Mutex
	sock *zmq.Socket
}

// NewPublisher creates the underlying PUB socket without binding it.
func NewPublisher() (*Publisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("zmqfabric: new PUB socket: %w", err)
	}
	sock.SetLinger(0)
	return &Publisher{sock: sock}, nil
}

func (p *Publisher) Bind(addr string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sock.Bind(addr); err != nil {
		return "", fmt.Errorf("zmqfabric: bind PUB %s: %w", addr, err)
	}
	resolved, err := p.sock.GetLastEndpoint()
	if err != nil {
		return addr, nil
	}
	return resolved, nil
}

func (p *Publisher) Publish(topic transport.Topic, payload map[string]any) error {
	envelope := wire.NewEnvelope(string(topic), payload, time.Now())
	body, err := wire.Encode(envelope)
	if err != nil {
		return fmt.Errorf("zmqfabric: encode envelope: %w", err)
	}
	p.mu.Lock()
	_, err = p.sock.SendMessage(string(topic), body)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("zmqfabric: publish %s: %w", topic, err)
	}
	metrics.ZMQPublishTotal.WithLabelValues(string(topic)).Inc()
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Close()
}

var _ transport.Publisher = (*Publisher)(nil)
