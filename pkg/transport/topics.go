// Package transport defines the node-to-node message fabric contract
// (§4.2): a fan-out publisher, a request/reply router, and the topic
// vocabulary both carry.
package transport

import "context"

// StatusFunc returns a JSON-encoded status payload for the operator-facing
// /status endpoint. Using []byte avoids an import cycle on cluster types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// Topic names the well-known cluster:* subjects carried over the
// publisher and router sockets (§4.2).
type Topic string

const (
	TopicHeartbeat = Topic("cluster:heartbeat")
	TopicSync      = Topic("cluster:sync")

	TopicNotifyDocument = Topic("cluster:notify:document")
	TopicNotifyUser     = Topic("cluster:notify:user")

	TopicAdminResetSecurity = Topic("cluster:admin:resetSecurity")
	TopicAdminDump          = Topic("cluster:admin:dump")
	TopicAdminShutdown      = Topic("cluster:admin:shutdown")

	TopicReady = Topic("cluster:ready")
)

// Envelope is the canonical frame carried on every topic: an event name
// plus an arbitrary payload map, the same shape the wire codec
// (pkg/wire) serializes to bytes.
type Envelope struct {
	Topic   Topic
	Payload map[string]any
}

// Heartbeat is the payload of TopicHeartbeat.
type Heartbeat struct {
	UUID      string   `msgpack:"uuid"`
	Birthdate int64    `msgpack:"birthdate"`
	Addresses []string `msgpack:"addresses"`
}

// Publisher is the fan-out half of the transport: every peer subscribes
// to every other peer's publisher.
type Publisher interface {
	Bind(addr string) (resolved string, err error)
	Publish(topic Topic, payload map[string]any) error
	Close() error
}

// Subscriber consumes another peer's publisher stream.
type Subscriber interface {
	Connect(addr string) error
	Disconnect(addr string) error
	Recv() (Topic, map[string]any, error)
	Close() error
}

// Router is the request/reply half: every peer dials every other peer's
// router to perform targeted queries (§4.2).
type Router interface {
	Bind(addr string) (resolved string, err error)
	// Handle registers the single dispatch entrypoint: incoming
	// (topic, payload) requests are answered with a reply payload or an
	// error.
	Handle(fn func(topic Topic, payload map[string]any) (map[string]any, error))
	Close() error
}

// RouterClient dials a specific peer's router for a request/reply call.
type RouterClient interface {
	Dispatch(peerAddr string, topic Topic, payload map[string]any) (map[string]any, error)
	Close() error
}
