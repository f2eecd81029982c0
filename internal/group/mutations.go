package group

import "time"

// Pure mutation functions. None of these perform I/O or suspend; Manager
// wraps them with authorization, idempotence dedup, and event delivery.
// Each returns the events this single mutation produced (0 or 1 in every
// case but queue-mutation-with-gate-resync, which never occurs together).

func (g *Group) playbackDelta() *PlaybackDelta {
	return &PlaybackDelta{
		Playing:     g.Playing,
		PositionMs:  g.PositionMs,
		Cursor:      g.Cursor,
		UpdatedAtMs: g.UpdatedAtMs,
		Version:     g.Version,
	}
}

func (g *Group) currentDurationMs() int64 {
	if g.Cursor < 0 || g.Cursor >= len(g.Queue) {
		return 0
	}
	return g.Queue[g.Cursor].DurationMs
}

// openReadyGate opens a gate targeting the current cursor with expected set
// equal to all current members, and returns the Waiting delta to emit.
func (g *Group) openReadyGate(now int64, readyTimeout time.Duration) *Waiting {
	expected := make(map[string]bool, len(g.Members))
	for uid := range g.Members {
		expected[uid] = true
	}
	deadline := now + readyTimeout.Milliseconds()
	g.ReadyGate = &ReadyGate{
		TargetCursor: g.Cursor,
		Expected:     expected,
		Received:     make(map[string]bool),
		DeadlineMs:   deadline,
	}
	return &Waiting{ExpectedUserIDs: setToSlice(expected), DeadlineMs: deadline}
}

// closeReadyGate closes whatever gate is currently open and returns the
// PlayAt delta. Caller must have already verified a gate is open.
func (g *Group) closeReadyGate(now int64, joinLead time.Duration) []Event {
	cursor := g.ReadyGate.TargetCursor
	wallClock := now + joinLead.Milliseconds()
	positionMs := g.PositionMs
	g.ReadyGate = nil
	return []Event{{Kind: EventPlayAt, PlayAt: &PlayAt{WallClockMs: wallClock, Cursor: cursor, PositionMs: positionMs}}}
}

func (g *Group) applyPlay(now int64, readyTimeout time.Duration) []Event {
	if g.Playing {
		return nil
	}
	g.Playing = true
	g.UpdatedAtMs = now
	g.Version++
	w := g.openReadyGate(now, readyTimeout)
	return []Event{{Kind: EventWaiting, Waiting: w}}
}

func (g *Group) applyPause(now int64) []Event {
	if !g.Playing && g.ReadyGate == nil {
		return nil
	}
	if g.Playing {
		elapsed := now - g.UpdatedAtMs
		if elapsed > 0 {
			g.PositionMs += elapsed
		}
	}
	dur := g.currentDurationMs()
	if dur > 0 && g.PositionMs > dur {
		g.PositionMs = dur
	}
	g.Playing = false
	g.ReadyGate = nil
	g.UpdatedAtMs = now
	g.Version++
	return []Event{{Kind: EventPlaybackDelta, Playback: g.playbackDelta()}}
}

func (g *Group) applySeek(positionMs, now int64, readyTimeout time.Duration) []Event {
	clamped := positionMs
	if clamped < 0 {
		clamped = 0
	}
	if dur := g.currentDurationMs(); dur > 0 && clamped > dur {
		clamped = dur
	}
	g.PositionMs = clamped
	g.UpdatedAtMs = now
	g.Version++
	if g.Playing {
		w := g.openReadyGate(now, readyTimeout)
		return []Event{{Kind: EventWaiting, Waiting: w}}
	}
	return []Event{{Kind: EventPlaybackDelta, Playback: g.playbackDelta()}}
}

func (g *Group) applyNext(now int64, readyTimeout time.Duration) []Event {
	if len(g.Queue) == 0 {
		return nil
	}
	wasPlaying := g.Playing
	if g.Cursor >= len(g.Queue)-1 {
		g.Cursor = len(g.Queue) - 1
		if wasPlaying {
			g.Playing = false
			g.ReadyGate = nil
		}
	} else {
		g.Cursor++
	}
	g.PositionMs = 0
	g.UpdatedAtMs = now
	g.Version++
	if g.Playing {
		w := g.openReadyGate(now, readyTimeout)
		return []Event{{Kind: EventWaiting, Waiting: w}}
	}
	return []Event{{Kind: EventPlaybackDelta, Playback: g.playbackDelta()}}
}

func (g *Group) applyPrevious(now int64, readyTimeout time.Duration) []Event {
	if len(g.Queue) == 0 {
		return nil
	}
	if g.Cursor > 0 {
		g.Cursor--
	} else {
		g.Cursor = 0
	}
	g.PositionMs = 0
	g.UpdatedAtMs = now
	g.Version++
	if g.Playing {
		w := g.openReadyGate(now, readyTimeout)
		return []Event{{Kind: EventWaiting, Waiting: w}}
	}
	return []Event{{Kind: EventPlaybackDelta, Playback: g.playbackDelta()}}
}

func (g *Group) applySetTrack(index int, now int64, readyTimeout time.Duration) ([]Event, error) {
	if index < 0 || index >= len(g.Queue) {
		return nil, ErrInvalidInput
	}
	wasPlaying := g.Playing
	g.Cursor = index
	g.PositionMs = 0
	g.UpdatedAtMs = now
	g.Version++
	if wasPlaying {
		w := g.openReadyGate(now, readyTimeout)
		return []Event{{Kind: EventWaiting, Waiting: w}}, nil
	}
	return []Event{{Kind: EventPlaybackDelta, Playback: g.playbackDelta()}}, nil
}

func (g *Group) applyQueueAdd(items []QueueItem, now int64) []Event {
	if len(items) == 0 {
		return nil
	}
	g.Queue = append(g.Queue, items...)
	if g.Cursor < 0 {
		g.Cursor = 0
	}
	g.UpdatedAtMs = now
	g.Version++
	return []Event{{Kind: EventQueueDelta, Queue: &QueueDelta{Op: QueueOpAdd, Payload: items, Version: g.Version}}}
}

func (g *Group) applyQueueInsertNext(items []QueueItem, now int64) []Event {
	if len(items) == 0 {
		return nil
	}
	insertAt := g.Cursor + 1
	if g.Cursor < 0 {
		insertAt = 0
	}
	newQueue := make([]QueueItem, 0, len(g.Queue)+len(items))
	newQueue = append(newQueue, g.Queue[:insertAt]...)
	newQueue = append(newQueue, items...)
	newQueue = append(newQueue, g.Queue[insertAt:]...)
	g.Queue = newQueue
	if g.Cursor < 0 {
		g.Cursor = 0
	}
	g.UpdatedAtMs = now
	g.Version++
	return []Event{{Kind: EventQueueDelta, Queue: &QueueDelta{Op: QueueOpInsertNext, Payload: items, Version: g.Version}}}
}

func (g *Group) applyQueueRemove(index int, now int64) ([]Event, error) {
	if index < 0 || index >= len(g.Queue) {
		return nil, ErrInvalidInput
	}
	g.Queue = append(g.Queue[:index], g.Queue[index+1:]...)
	switch {
	case len(g.Queue) == 0:
		g.Cursor = -1
		g.Playing = false
		g.ReadyGate = nil
		g.PositionMs = 0
	case index == g.Cursor:
		newCursor := index
		if newCursor >= len(g.Queue) {
			newCursor = len(g.Queue) - 1
		}
		g.Cursor = newCursor
		g.PositionMs = 0
	case index < g.Cursor:
		g.Cursor--
	}
	g.UpdatedAtMs = now
	g.Version++
	return []Event{{Kind: EventQueueDelta, Queue: &QueueDelta{Op: QueueOpRemove, Payload: index, Version: g.Version}}}, nil
}

func (g *Group) applyQueueReorder(from, to int, now int64) ([]Event, error) {
	if from < 0 || from >= len(g.Queue) || to < 0 || to >= len(g.Queue) {
		return nil, ErrInvalidInput
	}
	currentItem := g.Cursor
	item := g.Queue[from]
	rest := append(append([]QueueItem{}, g.Queue[:from]...), g.Queue[from+1:]...)
	newQueue := make([]QueueItem, 0, len(rest)+1)
	newQueue = append(newQueue, rest[:to]...)
	newQueue = append(newQueue, item)
	newQueue = append(newQueue, rest[to:]...)
	g.Queue = newQueue

	if currentItem >= 0 {
		switch {
		case from == currentItem:
			g.Cursor = to
		case from < currentItem && to >= currentItem:
			g.Cursor--
		case from > currentItem && to <= currentItem:
			g.Cursor++
		}
	}
	g.UpdatedAtMs = now
	g.Version++
	payload := map[string]int{"from": from, "to": to}
	return []Event{{Kind: EventQueueDelta, Queue: &QueueDelta{Op: QueueOpReorder, Payload: payload, Version: g.Version}}}, nil
}

func (g *Group) applyQueueClear(now int64) []Event {
	if len(g.Queue) == 0 && g.Cursor == -1 && !g.Playing && g.ReadyGate == nil {
		return nil
	}
	g.Queue = nil
	g.Cursor = -1
	g.Playing = false
	g.PositionMs = 0
	g.ReadyGate = nil
	g.UpdatedAtMs = now
	g.Version++
	return []Event{{Kind: EventQueueDelta, Queue: &QueueDelta{Op: QueueOpClear, Version: g.Version}}}
}

func (g *Group) applyReportReady(userID string, now int64, joinLead time.Duration) []Event {
	if g.ReadyGate == nil {
		return nil
	}
	if !g.ReadyGate.Expected[userID] || g.ReadyGate.Received[userID] {
		return nil
	}
	g.ReadyGate.Received[userID] = true
	g.UpdatedAtMs = now
	g.Version++
	if g.ReadyGate.satisfied() {
		return g.closeReadyGate(now, joinLead)
	}
	return nil
}

// expireReadyGate is invoked by the scheduled deadline timer. targetCursor
// guards against acting on a gate that already closed and reopened for a
// different cursor by the time the timer fires.
func (g *Group) expireReadyGate(targetCursor int, now int64, joinLead time.Duration) []Event {
	if g.ReadyGate == nil || g.ReadyGate.TargetCursor != targetCursor {
		return nil
	}
	g.UpdatedAtMs = now
	g.Version++
	return g.closeReadyGate(now, joinLead)
}
