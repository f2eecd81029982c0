// Package snapshotpipe implements the per-group serialization chain (C6):
// every state change produced by internal/group is rendered to a Snapshot,
// written to the durable store (C2), and published on the cluster bus (C3),
// strictly in FIFO order per group and never overlapping with itself. The
// shape is the teacher's Batcher — a per-key background worker draining a
// channel of closures — specialized from size/time batching to strict
// one-at-a-time ordering, since snapshots must never be persisted or
// published out of order.
package snapshotpipe

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/clusterbus"
	"github.com/snarg/listen-together/internal/group"
	"github.com/snarg/listen-together/internal/groupstore"
)

// RenderFunc produces the snapshot to persist and publish at the moment the
// task actually runs, not at the moment it was enqueued — state may have
// moved on in the meantime, and the pipe always wants the latest.
type RenderFunc func() group.Snapshot

// taskQueueSize bounds how many pending persist-and-publish tasks a single
// group's chain may accumulate before Enqueue starts to block its caller.
const taskQueueSize = 64

type worker struct {
	queue chan func()
}

func newWorker() *worker {
	w := &worker{queue: make(chan func(), taskQueueSize)}
	go w.run()
	return w
}

func (w *worker) run() {
	for fn := range w.queue {
		fn()
	}
}

func (w *worker) stop() {
	close(w.queue)
}

// Pipe owns one FIFO worker per group id.
type Pipe struct {
	store *groupstore.Store
	bus   *clusterbus.Bus
	log   zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// New builds a Pipe atop the given durable store and cluster bus.
func New(store *groupstore.Store, bus *clusterbus.Bus, log zerolog.Logger) *Pipe {
	return &Pipe{
		store:   store,
		bus:     bus,
		log:     log,
		workers: make(map[string]*worker),
	}
}

func (p *Pipe) workerFor(groupID string) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[groupID]
	if !ok {
		w = newWorker()
		p.workers[groupID] = w
	}
	return w
}

func (p *Pipe) existingWorker(groupID string) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers[groupID]
}

// Enqueue schedules a render-persist-publish task for groupID. Errors from
// either step are logged and swallowed (spec §4.6: "the next task still
// runs") — a failed write here just means the next successful one
// overwrites it, and other pods still have C3 fanout or their own
// in-memory copy to fall back on.
func (p *Pipe) Enqueue(ctx context.Context, groupID string, render RenderFunc) {
	w := p.workerFor(groupID)
	w.queue <- func() {
		snap := render()
		if err := p.store.Set(ctx, groupID, snap); err != nil {
			p.log.Warn().Str("groupId", groupID).Err(err).Msg("snapshot persist failed")
		}
		if err := p.bus.Publish(snap); err != nil {
			p.log.Warn().Str("groupId", groupID).Err(err).Msg("snapshot publish failed")
		}
	}
}

// Flush awaits the tail of groupID's chain, so a caller releasing the
// mutation lock afterward is guaranteed every prior Enqueue for this group
// has completed (spec §4.6). A no-op if the group has no chain yet.
func (p *Pipe) Flush(groupID string) {
	w := p.existingWorker(groupID)
	if w == nil {
		return
	}
	done := make(chan struct{})
	w.queue <- func() { close(done) }
	<-done
}

// Teardown flushes and deletes a group's chain and durable snapshot
// entirely — called once internal/group reports the group ended (empty
// membership).
func (p *Pipe) Teardown(ctx context.Context, groupID string) {
	p.Flush(groupID)

	p.mu.Lock()
	w, ok := p.workers[groupID]
	if ok {
		delete(p.workers, groupID)
	}
	p.mu.Unlock()
	if ok {
		w.stop()
	}

	if err := p.store.Delete(ctx, groupID); err != nil {
		p.log.Warn().Str("groupId", groupID).Err(err).Msg("snapshot delete on teardown failed")
	}
}

// Close flushes and stops every group's chain. Called during process
// shutdown.
func (p *Pipe) Close() {
	p.mu.Lock()
	workers := p.workers
	p.workers = make(map[string]*worker)
	p.mu.Unlock()

	for _, w := range workers {
		done := make(chan struct{})
		w.queue <- func() { close(done) }
		<-done
		w.stop()
	}
}
