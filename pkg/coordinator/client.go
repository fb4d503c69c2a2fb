// Package coordinator wraps the external key-value coordinator (§4.1):
// hashes, sets, and four atomic scripts keyed by a {index/collection} hash
// tag, so that every key touched by one script lives on a single shard of
// a sharded deployment. The concrete implementation targets Redis (single
// node or Cluster), the same kind of store the spec's "scripts sourced as
// text files" contract describes.
package coordinator

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rtcluster/coordinator/pkg/clustererr"
)

//go:embed scripts/subOn.lua
var subOnScript string

//go:embed scripts/suboff.lua
var subOffScript string

//go:embed scripts/cleanNode.lua
var cleanNodeScript string

//go:embed scripts/getState.lua
var getStateScript string

// Room is a snapshot row returned by GetState.
type Room struct {
	RoomID string
	Count  int64
	Filter string // empty when no filter was stored for this room
}

// Client is the narrow contract the rest of the cluster depends on; see
// §4.1. Implementations must guarantee the atomicity described there: a
// caller never observes a count without its matching version.
type Client interface {
	SubOn(ctx context.Context, tag, nodeUUID, roomID, connectionID, filterOrNone string) (version int64, totalCount int64, err error)
	SubOff(ctx context.Context, tag, nodeUUID, roomID, connectionID string) (version int64, totalCount int64, err error)
	CleanNode(ctx context.Context, tag, nodeUUID string) error
	GetState(ctx context.Context, tag string) (version int64, rooms []Room, err error)

	// DiscoveryAdd / DiscoveryRemove / DiscoveryMembers manage
	// cluster:discovery (§3).
	DiscoveryAdd(ctx context.Context, member string) error
	DiscoveryRemove(ctx context.Context, member string) error
	DiscoveryMembers(ctx context.Context) ([]string, error)

	// Strategies manage the cluster:strategies hash (§3).
	StrategySet(ctx context.Context, name string, payload []byte) error
	StrategyDelete(ctx context.Context, name string) error
	StrategyAll(ctx context.Context) (map[string][]byte, error)

	// Collections manage the cluster:collections set (§3).
	CollectionAdd(ctx context.Context, tag string) error
	Collections(ctx context.Context) ([]string, error)

	Close() error
}

type redisClient struct {
	rdb redis.UniversalClient

	subOn     *redis.Script
	subOff    *redis.Script
	cleanNode *redis.Script
	getState  *redis.Script
}

// Options configures the Redis-backed coordinator client. Addrs with more
// than one entry, or an explicit ClusterMode, builds a ClusterClient; a
// single address builds a plain Client — both satisfy redis.UniversalClient,
// matching §6's "addressable as either a single node or a sharded cluster".
type Options struct {
	Addrs       []string
	Username    string
	Password    string
	DB          int // ignored in cluster mode
	ClusterMode bool
}

// New connects to the coordinator store and registers the four scripts.
// Registration failure is fatal per §7 (ErrFatal): the node cannot start
// without working scripts.
func New(ctx context.Context, opts Options) (Client, error) {
	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("coordinator: no addresses configured")
	}
	var rdb redis.UniversalClient
	if opts.ClusterMode || len(opts.Addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    opts.Addrs,
			Username: opts.Username,
			Password: opts.Password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.Addrs[0],
			Username: opts.Username,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}
	c := &redisClient{
		rdb:       rdb,
		subOn:     redis.NewScript(subOnScript),
		subOff:    redis.NewScript(subOffScript),
		cleanNode: redis.NewScript(cleanNodeScript),
		getState:  redis.NewScript(getStateScript),
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("coordinator: ping failed: %w", err)
	}
	for _, s := range []*redis.Script{c.subOn, c.subOff, c.cleanNode, c.getState} {
		if err := s.Load(ctx, c.rdb).Err(); err != nil {
			return nil, clustererr.Wrap(clustererr.ErrFatal, "coordinator: register scripts", err)
		}
	}
	return c, nil
}

func (c *redisClient) SubOn(ctx context.Context, tag, nodeUUID, roomID, connectionID, filterOrNone string) (int64, int64, error) {
	res, err := c.subOn.Run(ctx, c.rdb, []string{tag}, nodeUUID, roomID, connectionID, filterOrNone).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("coordinator: subOn: %w", err)
	}
	return toInt64(res[0]), toInt64(res[1]), nil
}

func (c *redisClient) SubOff(ctx context.Context, tag, nodeUUID, roomID, connectionID string) (int64, int64, error) {
	res, err := c.subOff.Run(ctx, c.rdb, []string{tag}, nodeUUID, roomID, connectionID).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("coordinator: subOff: %w", err)
	}
	return toInt64(res[0]), toInt64(res[1]), nil
}

func (c *redisClient) CleanNode(ctx context.Context, tag, nodeUUID string) error {
	_, err := c.cleanNode.Run(ctx, c.rdb, []string{tag}, nodeUUID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("coordinator: cleanNode: %w", err)
	}
	return nil
}

func (c *redisClient) GetState(ctx context.Context, tag string) (int64, []Room, error) {
	res, err := c.getState.Run(ctx, c.rdb, []string{tag}).Slice()
	if err != nil {
		return 0, nil, fmt.Errorf("coordinator: getState: %w", err)
	}
	version := toInt64(res[0])
	flat, ok := res[1].([]interface{})
	if !ok {
		return version, nil, nil
	}
	rooms := make([]Room, 0, len(flat)/3)
	for i := 0; i+2 < len(flat); i += 3 {
		roomID, _ := flat[i].(string)
		count := toInt64(flat[i+1])
		filter, _ := flat[i+2].(string)
		rooms = append(rooms, Room{RoomID: roomID, Count: count, Filter: filter})
	}
	return version, rooms, nil
}

func (c *redisClient) DiscoveryAdd(ctx context.Context, member string) error {
	return c.rdb.SAdd(ctx, "cluster:discovery", member).Err()
}

func (c *redisClient) DiscoveryRemove(ctx context.Context, member string) error {
	return c.rdb.SRem(ctx, "cluster:discovery", member).Err()
}

func (c *redisClient) DiscoveryMembers(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, "cluster:discovery").Result()
}

func (c *redisClient) StrategySet(ctx context.Context, name string, payload []byte) error {
	return c.rdb.HSet(ctx, "cluster:strategies", name, payload).Err()
}

func (c *redisClient) StrategyDelete(ctx context.Context, name string) error {
	return c.rdb.HDel(ctx, "cluster:strategies", name).Err()
}

func (c *redisClient) StrategyAll(ctx context.Context) (map[string][]byte, error) {
	raw, err := c.rdb.HGetAll(ctx, "cluster:strategies").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		out[k] = []byte(v)
	}
	return out, nil
}

func (c *redisClient) CollectionAdd(ctx context.Context, tag string) error {
	return c.rdb.SAdd(ctx, "cluster:collections", tag).Err()
}

func (c *redisClient) Collections(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, "cluster:collections").Result()
}

func (c *redisClient) Close() error { return c.rdb.Close() }

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
