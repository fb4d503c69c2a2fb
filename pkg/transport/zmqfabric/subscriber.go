package zmqfabric

import (
	"fmt"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/rtcluster/coordinator/pkg/observability/metrics"
	"github.com/rtcluster/coordinator/pkg/transport"
	"github.com/rtcluster/coordinator/pkg/wire"
)

// Subscriber connects a SUB socket to one or more peer publishers and
// subscribes to every topic this module cares about (§4.2's topic list).
type Subscriber struct {
	mu    sync.Mutex
	sock  *zmq.Socket
	peers map[string]struct{}
}

// NewSubscriber creates the underlying SUB socket, pre-subscribed to
// every well-known topic.
func NewSubscriber() (*Subscriber, error) {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("zmqfabric: new SUB socket: %w", err)
	}
	sock.SetLinger(0)
	for _, topic := range []transport.Topic{
		transport.TopicHeartbeat,
		transport.TopicSync,
		transport.TopicNotifyDocument,
		transport.TopicNotifyUser,
		transport.TopicAdminResetSecurity,
		transport.TopicAdminDump,
		transport.TopicAdminShutdown,
		transport.TopicReady,
	} {
		if err := sock.SetSubscribe(string(topic)); err != nil {
			_ = sock.Close()
			return nil, fmt.Errorf("zmqfabric: subscribe %s: %w", topic, err)
		}
	}
	return &Subscriber{sock: sock, peers: make(map[string]struct{})}, nil
}

func (s *Subscriber) Connect(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[addr]; ok {
		return nil
	}
	if err := s.sock.Connect(addr); err != nil {
		return fmt.Errorf("zmqfabric: connect SUB to %s: %w", addr, err)
	}
	s.peers[addr] = struct{}{}
	return nil
}

func (s *Subscriber) Disconnect(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[addr]; !ok {
		return nil
	}
	delete(s.peers, addr)
	return s.sock.Disconnect(addr)
}

// Recv blocks for the next published message and decodes its envelope.
// It is not safe to call Recv concurrently from multiple goroutines.
func (s *Subscriber) Recv() (transport.Topic, map[string]any, error) {
	parts, err := s.sock.RecvMessageBytes(0)
	if err != nil {
		return "", nil, fmt.Errorf("zmqfabric: recv: %w", err)
	}
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("zmqfabric: malformed message: %d parts", len(parts))
	}
	topic := transport.Topic(parts[0])
	envelope, err := wire.Decode(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("zmqfabric: decode envelope: %w", err)
	}
	metrics.ZMQSubscribeRecvTotal.WithLabelValues(string(topic)).Inc()
	return topic, envelope.Payload, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.Close()
}

var _ transport.Subscriber = (*Subscriber)(nil)
