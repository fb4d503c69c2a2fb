// Package platform defines the contracts the cluster subsystem expects
// from its host: the event bus it hangs hooks/pipes off of, the realtime
// engine whose room bookkeeping it overrides, the auth collaborator it
// consults for list filtering, and the storage collaborator whose index
// cache it keeps in sync. In the original system these were satisfied by
// monkey-patching a running instance; here they are ordinary interfaces
// injected at construction (§9).
package platform

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// CountOverride is the cluster-aware replacement for realtime.count
// (§4.7).
type CountOverride func(ctx context.Context, roomID string) (int64, error)

// ListOverride is the cluster-aware replacement for realtime.list
// (§4.7).
type ListOverride func(ctx context.Context, sorted bool) (RoomList, error)

// RoomCount is a single roomId/count pair under a collection.
type RoomCount struct {
	RoomID string
	Count  int64
}

// CollectionRooms is the rooms known under one collection.
type CollectionRooms struct {
	Collection string
	Rooms      []RoomCount
}

// IndexRooms is the collections known under one index.
type IndexRooms struct {
	Index       string
	Collections []CollectionRooms
}

// RoomList is realtime.list's result shape: index -> collection -> roomId
// -> count (§4.7). It carries the three levels as slices rather than
// plain maps because a Go map has no iteration order of its own, and the
// msgpack encoder this module standardizes on (vmihailenco/msgpack) does
// not sort map keys unless SetSortMapKeys is set — neither gives the
// "sorted" request argument anywhere to land. The caller building a
// RoomList decides the slice order; EncodeMsgpack/MarshalJSON below just
// walk it faithfully instead of re-deriving order from a map.
type RoomList struct {
	Indexes []IndexRooms
}

// EncodeMsgpack implements msgpack.CustomEncoder, emitting the same
// nested index/collection/room maps a naive map[string]map[string]... Go
// value would, but walking Indexes/Collections/Rooms in the order they
// were assembled rather than map iteration order.
func (l RoomList) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(l.Indexes)); err != nil {
		return err
	}
	for _, idx := range l.Indexes {
		if err := enc.EncodeString(idx.Index); err != nil {
			return err
		}
		if err := enc.EncodeMapLen(len(idx.Collections)); err != nil {
			return err
		}
		for _, col := range idx.Collections {
			if err := enc.EncodeString(col.Collection); err != nil {
				return err
			}
			if err := enc.EncodeMapLen(len(col.Rooms)); err != nil {
				return err
			}
			for _, r := range col.Rooms {
				if err := enc.EncodeString(r.RoomID); err != nil {
					return err
				}
				if err := enc.EncodeInt64(r.Count); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// MarshalJSON writes the same nested shape as a JSON object, preserving
// Indexes/Collections/Rooms order instead of delegating to
// encoding/json's own alphabetical map-key sort.
func (l RoomList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, idx := range l.Indexes {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONKey(&buf, idx.Index)
		buf.WriteByte('{')
		for j, col := range idx.Collections {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeJSONKey(&buf, col.Collection)
			buf.WriteByte('{')
			for k, r := range col.Rooms {
				if k > 0 {
					buf.WriteByte(',')
				}
				writeJSONKey(&buf, r.RoomID)
				count, err := json.Marshal(r.Count)
				if err != nil {
					return nil, err
				}
				buf.Write(count)
			}
			buf.WriteByte('}')
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONKey(buf *bytes.Buffer, key string) {
	b, _ := json.Marshal(key)
	buf.Write(b)
	buf.WriteByte(':')
}

// EventBus is the host's hook/pipe dispatcher (§4.6). Hooks are
// fire-and-forget; pipes may delay, transform, or short-circuit the
// triggering operation by returning an error or a replacement payload.
type EventBus interface {
	OnHook(event string, fn func(ctx context.Context, payload any))
	OnPipe(event string, fn func(ctx context.Context, payload any) (any, error))
	Emit(ctx context.Context, event string, payload any)
}

// RealtimeEngine is the host's in-process realtime room tracker. The
// cluster subsystem overrides two of its read paths and wraps its room
// teardown (§4.7).
type RealtimeEngine interface {
	RoomExists(roomID string) bool
	MaterializeRoom(ctx context.Context, roomID, index, collection string) error
	RemoveRoomIfEmpty(ctx context.Context, roomID string, clusterCount int64) error
	OverrideCount(fn CountOverride)
	OverrideList(fn ListOverride)
}

// AuthCollaborator answers per-request authorization questions; consulted
// by realtime.list to filter rooms the caller may not see (§4.7).
type AuthCollaborator interface {
	IsActionAllowed(ctx context.Context, token any, index, collection, action string) (bool, error)
}

// StorageCollaborator is the document store's index-cache surface. The
// sync engine forwards remote indexCache:add/remove events to it with
// propagate=false so it doesn't re-broadcast what it just received
// (§4.5).
type StorageCollaborator interface {
	IndexCacheAdd(index, collection string, propagate bool)
	IndexCacheRemove(index, collection string, propagate bool)
}
