package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rtcluster/coordinator/pkg/clustererr"
	"github.com/rtcluster/coordinator/pkg/platform"
)

type ctxKey string

const tokenKey ctxKey = "cluster:auth-token"

// WithToken attaches the caller's auth token to ctx so realtimeListOverride
// can consult the auth collaborator on its behalf. platform.ListOverride's
// signature carries no token parameter of its own (§6); the host is
// expected to stash it on the context before invoking the override, the
// same way a net/http handler threads request-scoped identity.
func WithToken(ctx context.Context, token any) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

func tokenFromContext(ctx context.Context) any {
	return ctx.Value(tokenKey)
}

// realtimeCountOverride implements §4.7's realtime.count: a single retry
// absorbs replication lag before failing notFound.
func (c *Cluster) realtimeCountOverride(ctx context.Context, roomID string) (int64, error) {
	if roomID == "" {
		return 0, clustererr.Wrap(clustererr.ErrInvalidInput, "cluster: realtime.count requires roomId", nil)
	}
	if room, ok := c.replica.Room(roomID); ok {
		return room.Count, nil
	}

	select {
	case <-time.After(c.opts.Timers.WaitForMissingRooms):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	if room, ok := c.replica.Room(roomID); ok {
		return room.Count, nil
	}
	return 0, clustererr.Wrap(clustererr.ErrNotFound, fmt.Sprintf("cluster: room %s not found", roomID), nil)
}

// realtimeListOverride implements §4.7's realtime.list: every room the
// caller is authorized to see, shaped as index -> collection -> roomId ->
// count. Rooms are first grouped through plain maps (cheap, order
// doesn't matter yet), then flattened into platform.RoomList's ordered
// slices; when sorted is true each level is sorted lexicographically
// before flattening, matching scenario 4's exact-order expectation.
func (c *Cluster) realtimeListOverride(ctx context.Context, sorted bool) (platform.RoomList, error) {
	grouped := make(map[string]map[string]map[string]int64)
	token := tokenFromContext(ctx)

	for roomID, room := range c.replica.Flat() {
		if c.auth != nil {
			allowed, err := c.auth.IsActionAllowed(ctx, token, room.Index, room.Collection, "document:search")
			if err != nil || !allowed {
				continue
			}
		}
		byCollection, ok := grouped[room.Index]
		if !ok {
			byCollection = make(map[string]map[string]int64)
			grouped[room.Index] = byCollection
		}
		byRoom, ok := byCollection[room.Collection]
		if !ok {
			byRoom = make(map[string]int64)
			byCollection[room.Collection] = byRoom
		}
		byRoom[roomID] = room.Count
	}

	indexNames := make([]string, 0, len(grouped))
	for index := range grouped {
		indexNames = append(indexNames, index)
	}
	if sorted {
		sort.Strings(indexNames)
	}

	out := platform.RoomList{Indexes: make([]platform.IndexRooms, 0, len(indexNames))}
	for _, index := range indexNames {
		byCollection := grouped[index]
		collectionNames := make([]string, 0, len(byCollection))
		for collection := range byCollection {
			collectionNames = append(collectionNames, collection)
		}
		if sorted {
			sort.Strings(collectionNames)
		}

		collections := make([]platform.CollectionRooms, 0, len(collectionNames))
		for _, collection := range collectionNames {
			byRoom := byCollection[collection]
			roomIDs := make([]string, 0, len(byRoom))
			for roomID := range byRoom {
				roomIDs = append(roomIDs, roomID)
			}
			if sorted {
				sort.Strings(roomIDs)
			}

			rooms := make([]platform.RoomCount, 0, len(roomIDs))
			for _, roomID := range roomIDs {
				rooms = append(rooms, platform.RoomCount{RoomID: roomID, Count: byRoom[roomID]})
			}
			collections = append(collections, platform.CollectionRooms{Collection: collection, Rooms: rooms})
		}
		out.Indexes = append(out.Indexes, platform.IndexRooms{Index: index, Collections: collections})
	}
	return out, nil
}
