package grpcrouter

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/rtcluster/coordinator/pkg/transport"
)

// Client implements transport.RouterClient over gRPC, dialing a peer's
// router endpoint per Dispatch call and caching the connection.
type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config
	cm      *connManager
}

// NewClient returns a client with the given per-call timeout (3s if <= 0).
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

// UseTLS sets TLS config for outgoing connections.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
		grpc.WithBlock(),
	}
	if c.tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
	if c.cm == nil {
		c.cm = newConnManager(30*time.Second, c.dialCtx)
	}
	return c.cm.Get(ctx, addr)
}

// Dispatch sends (topic, payload) to a peer's router and returns its reply.
func (c *Client) Dispatch(peerAddr string, topic transport.Topic, payload map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cc, release, err := c.getConn(ctx, peerAddr)
	if err != nil {
		return nil, err
	}
	defer release()

	var reply dispatchReply
	req := &dispatchRequest{Topic: string(topic), Payload: payload}
	if err := cc.Invoke(ctx, "/rtcluster.v1.Router/Dispatch", req, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("router: %s", reply.Error)
	}
	return reply.Payload, nil
}

func (c *Client) Close() error {
	if c.cm != nil {
		c.cm.Close()
	}
	return nil
}

var _ transport.RouterClient = (*Client)(nil)
