package arena

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codearena/backend/internal/models"
)

// Reply is what a caller gets back after its event was applied.
type Reply struct {
	Outcome  Outcome
	GameID   string
	Snapshot RoomSnapshot
}

type command struct {
	ev    Event
	reply chan Reply
}

// roomActor is the serialization point of one room: a single goroutine owning
// the RoomState, its countdown ticker and its idle-eviction timer.
type roomActor struct {
	roomID      string
	state       *RoomState
	inbox       chan command
	done        chan struct{}
	quit        chan struct{}
	stopOnce    sync.Once
	broadcaster Broadcaster
	records     func(Record)
	onExit      func(a *roomActor, deleted bool) bool
	interval    time.Duration
	idleAfter   time.Duration
	clock       func() time.Time
	logger      *zap.Logger

	ticker   *time.Ticker
	tickGame string
	idle     *time.Timer
}

func (a *roomActor) start() {
	go a.run()
	a.logger.Debug("room actor started", zap.String("room_id", a.roomID))
}

// stop terminates the loop and waits for it; timers are released on exit.
func (a *roomActor) stop() {
	a.stopOnce.Do(func() { close(a.quit) })
	<-a.done
}

// do hands ev to the actor and waits for its reply.
func (a *roomActor) do(ctx context.Context, ev Event) (Reply, error) {
	cmd := command{ev: ev, reply: make(chan Reply, 1)}
	select {
	case a.inbox <- cmd:
	case <-a.done:
		return Reply{}, errActorStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case rep := <-cmd.reply:
		return rep, nil
	case <-a.done:
		select {
		case rep := <-cmd.reply:
			return rep, nil
		default:
			return Reply{}, errActorStopped
		}
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (a *roomActor) run() {
	defer close(a.done)
	defer a.stopTimers()

	a.syncTimers()
	for {
		var tickC, idleC <-chan time.Time
		if a.ticker != nil {
			tickC = a.ticker.C
		}
		if a.idle != nil {
			idleC = a.idle.C
		}

		select {
		case <-a.quit:
			return
		case cmd := <-a.inbox:
			res := a.apply(cmd.ev)
			rep := Reply{Outcome: res.Outcome, GameID: res.GameID, Snapshot: a.state.Snapshot()}
			if a.state.Deleted() {
				// Tombstone first so the caller never observes the room as live.
				a.stopTimers()
				a.onExit(a, true)
				cmd.reply <- rep
				a.logger.Info("room deleted", zap.String("room_id", a.roomID))
				return
			}
			cmd.reply <- rep
		case <-tickC:
			a.apply(Event{Kind: EventTick, GameID: a.tickGame})
		case <-idleC:
			a.idle = nil
			if len(a.inbox) > 0 || !a.evictable() {
				a.syncTimers()
				continue
			}
			if a.onExit(a, false) {
				a.logger.Info("room evicted after idle period", zap.String("room_id", a.roomID))
				return
			}
		}
	}
}

func (a *roomActor) apply(ev Event) Result {
	res := a.state.Apply(ev, a.clock())
	a.logOutcome(ev, res)
	var gone string
	for _, eff := range res.Effects {
		switch eff.Kind {
		case EffectBroadcast:
			a.broadcaster.Publish(a.roomID, eff.Event, eff.Payload)
		case EffectSend:
			a.broadcaster.Send(eff.ConnID, eff.Event, eff.Payload)
		case EffectSubscribe:
			if !a.broadcaster.Subscribe(eff.ConnID, a.roomID) {
				gone = eff.ConnID
			}
		case EffectUnsubscribe:
			a.broadcaster.Unsubscribe(eff.ConnID, a.roomID)
		case EffectDropRoom:
			a.broadcaster.DropRoom(a.roomID)
		}
	}
	for _, rec := range res.Records {
		a.records(rec)
	}
	// Same step as the transition: an ended session never sees another tick.
	a.syncTimers()
	if gone != "" {
		// The connection closed before the join landed, so its disconnect never
		// reached this room. Clear the seat's connection now.
		a.apply(Event{Kind: EventDisconnect, UserID: ev.UserID, ConnID: gone})
	}
	return res
}

func (a *roomActor) syncTimers() {
	s := a.state.Session
	if s.Running() {
		if a.ticker == nil || a.tickGame != s.ID {
			a.stopTicker()
			a.ticker = time.NewTicker(a.interval)
			a.tickGame = s.ID
		}
	} else {
		a.stopTicker()
	}

	if a.idleAfter > 0 && a.evictable() {
		if a.idle == nil {
			a.idle = time.NewTimer(a.idleAfter)
		}
	} else if a.idle != nil {
		a.idle.Stop()
		a.idle = nil
	}
}

func (a *roomActor) evictable() bool {
	if a.state.Session.Running() {
		return false
	}
	return a.state.Status == models.RoomFinished || !a.state.Connected()
}

func (a *roomActor) stopTicker() {
	if a.ticker != nil {
		a.ticker.Stop()
		a.ticker = nil
		a.tickGame = ""
	}
}

func (a *roomActor) stopTimers() {
	a.stopTicker()
	if a.idle != nil {
		a.idle.Stop()
		a.idle = nil
	}
}

func (a *roomActor) logOutcome(ev Event, res Result) {
	switch {
	case res.Outcome.Rejected():
		a.logger.Debug("room event rejected",
			zap.String("room_id", a.roomID),
			zap.Stringer("event", ev.Kind),
			zap.String("user_id", ev.UserID),
			zap.String("outcome", string(res.Outcome)),
		)
	case res.Outcome == Accepted:
		a.logger.Info("game started", zap.String("room_id", a.roomID), zap.String("game_id", res.GameID), zap.String("user_id", ev.UserID))
	case res.Outcome == Won, res.Outcome == TimedOut, res.Outcome == Ended:
		a.logger.Info("game ended",
			zap.String("room_id", a.roomID),
			zap.String("game_id", res.GameID),
			zap.String("outcome", string(res.Outcome)),
			zap.String("user_id", ev.UserID),
		)
	}
}
