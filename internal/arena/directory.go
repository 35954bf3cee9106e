package arena

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/codearena/backend/internal/models"
)

const (
	loadTimeout  = 5 * time.Second
	tombstoneTTL = 24 * time.Hour
)

// Directory holds the live room actors (thread-safe). A room's actor is
// created exactly once on first touch and removed on deletion or idle eviction.
type Directory struct {
	mu         sync.Mutex
	rooms      map[string]*roomActor
	tombstones map[string]time.Time
	closed     bool
	loads      singleflight.Group

	loader          RoomLoader
	defaultCapacity int
	spawn           func(state *RoomState) *roomActor
	logger          *zap.Logger
}

func newDirectory(loader RoomLoader, defaultCapacity int, spawn func(*RoomState) *roomActor, logger *zap.Logger) *Directory {
	return &Directory{
		rooms:           make(map[string]*roomActor),
		tombstones:      make(map[string]time.Time),
		loader:          loader,
		defaultCapacity: defaultCapacity,
		spawn:           spawn,
		logger:          logger,
	}
}

// getOrCreate returns the room's actor, loading the room from persistence on
// first touch. Concurrent first touches share a single load and a single actor.
func (d *Directory) getOrCreate(ctx context.Context, roomID string) (*roomActor, error) {
	if a, err := d.lookup(roomID); a != nil || err != nil {
		return a, err
	}

	v, err, _ := d.loads.Do(roomID, func() (interface{}, error) {
		if a, err := d.lookup(roomID); a != nil || err != nil {
			return a, err
		}
		rec, acc, err := d.load(ctx, roomID)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return nil, ErrClosed
		}
		if _, ok := d.tombstones[roomID]; ok {
			return nil, ErrRoomDeleted
		}
		if a, ok := d.rooms[roomID]; ok {
			return a, nil
		}
		state := NewRoomState(*rec)
		state.access = acc
		a := d.spawn(state)
		d.rooms[roomID] = a
		a.start()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*roomActor), nil
}

func (d *Directory) lookup(roomID string) (*roomActor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if _, ok := d.tombstones[roomID]; ok {
		return nil, ErrRoomDeleted
	}
	return d.rooms[roomID], nil
}

// load reads the room record. Without a loader rooms are ephemeral and open to
// any caller. A failed read yields default state that refuses start, end and
// delete until the room is evicted and reloaded.
func (d *Directory) load(ctx context.Context, roomID string) (*models.RoomRecord, access, error) {
	fallback := &models.RoomRecord{ID: roomID, Capacity: d.defaultCapacity, Status: models.RoomWaiting}
	if d.loader == nil {
		return fallback, accessOpen, nil
	}
	// Detached so one caller's cancellation does not fail the shared load.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
	defer cancel()

	rec, err := d.loader.LoadRoom(loadCtx, roomID)
	if err != nil {
		d.logger.Warn("room load failed, using fallback state",
			zap.String("room_id", roomID),
			zap.Int("capacity", d.defaultCapacity),
			zap.Error(err),
		)
		return fallback, accessDegraded, nil
	}
	if rec == nil {
		return nil, accessOwner, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if rec.Capacity <= 0 {
		rec.Capacity = d.defaultCapacity
	}
	rec.ID = roomID
	return rec, accessOwner, nil
}

// remove drops a if it is still the registered actor for its room.
// Deleted rooms are tombstoned so later events cannot resurrect them.
func (d *Directory) remove(a *roomActor, deleted bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if deleted {
		now := time.Now()
		for id, at := range d.tombstones {
			if now.Sub(at) > tombstoneTTL {
				delete(d.tombstones, id)
			}
		}
		d.tombstones[a.roomID] = now
	}
	if cur, ok := d.rooms[a.roomID]; ok && cur == a {
		delete(d.rooms, a.roomID)
		return true
	}
	return false
}

// Len returns the number of live rooms.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// close stops every actor; no actor can be created afterwards.
func (d *Directory) close() {
	d.mu.Lock()
	d.closed = true
	actors := make([]*roomActor, 0, len(d.rooms))
	for id, a := range d.rooms {
		actors = append(actors, a)
		delete(d.rooms, id)
	}
	d.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
}
