package timeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/socialgraph/internal/graph"
	"github.com/d60-Lab/socialgraph/internal/registry"
	"github.com/d60-Lab/socialgraph/pkg/logger"
)

const (
	jobReplicate = iota
	jobRemove
	jobImport
)

type fanoutJob struct {
	kind     int
	actorUID int64
	data     Wire

	// removal and import jobs carry refs instead of a wire payload
	owner    registry.Ref
	jobActor registry.Ref

	enqAt time.Time
}

// Worker is the in-process fan-out executor: jobs are queued on a
// channel and replayed into follower timelines by a pool of goroutines.
// Replays are idempotent (index inserts are keyed by action uid), so a
// job is safe to run more than once.
type Worker struct {
	engine   *Engine
	ch       chan fanoutJob
	pageSize int
	limiter  *rate.Limiter
}

// NewWorker builds a worker paging followers pageSize at a time and
// pacing replica writes at writesPerSec (<= 0 means unlimited). Attach
// the engine before Start.
func NewWorker(queueSize, pageSize int, writesPerSec rate.Limit) *Worker {
	if queueSize <= 0 {
		queueSize = 10000
	}
	if pageSize <= 0 {
		pageSize = graph.DefaultPageSize
	}
	if writesPerSec <= 0 {
		writesPerSec = rate.Inf
	}
	return &Worker{
		ch:       make(chan fanoutJob, queueSize),
		pageSize: pageSize,
		limiter:  rate.NewLimiter(writesPerSec, pageSize),
	}
}

func (w *Worker) Attach(e *Engine) { w.engine = e }

// Enqueue queues a fan-out job without blocking. A full queue drops the
// job with a warning; the write path must never stall on fan-out.
func (w *Worker) Enqueue(actorUID int64, data Wire) {
	select {
	case w.ch <- fanoutJob{kind: jobReplicate, actorUID: actorUID, data: data, enqAt: time.Now()}:
	default:
		logger.Warn("fanout queue full, drop job", zap.Int64("actor_uid", actorUID))
	}
}

// EnqueueRemoval queues the reversal of a past fan-out: every entry
// authored by actor is removed from owner's private indices.
func (w *Worker) EnqueueRemoval(owner, actor registry.Ref) {
	select {
	case w.ch <- fanoutJob{kind: jobRemove, owner: owner, jobActor: actor, enqAt: time.Now()}:
	default:
		logger.Warn("fanout queue full, drop removal", zap.String("owner", owner.String()))
	}
}

// EnqueueImport queues a history back-fill: every entry authored by
// actor is copied into owner's private indices after a fresh follow.
func (w *Worker) EnqueueImport(owner, actor registry.Ref) {
	select {
	case w.ch <- fanoutJob{kind: jobImport, owner: owner, jobActor: actor, enqAt: time.Now()}:
	default:
		logger.Warn("fanout queue full, drop import", zap.String("owner", owner.String()))
	}
}

// Start launches the worker pool and returns a stop function that waits
// briefly for the queue to drain.
func (w *Worker) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-w.ch:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					w.process(ctx, job)
					cancel()
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		timeout := time.After(2 * time.Second)
		for {
			select {
			case <-timeout:
				return nil
			default:
				if len(w.ch) == 0 {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

// process replays one action into every follower timeline. A uid that
// no longer resolves to an entity aborts the job silently apart from a
// log line; a failed page is logged and left to the next replay.
func (w *Worker) process(ctx context.Context, job fanoutJob) {
	e := w.engine
	if e == nil {
		logger.Error("fanout worker has no engine attached")
		return
	}
	switch job.kind {
	case jobRemove:
		removed, err := e.Timeline(job.owner).RemoveActor(ctx, job.jobActor)
		if err != nil {
			logger.Warn("fanout: reversal failed",
				zap.String("owner", job.owner.String()),
				zap.String("actor", job.jobActor.String()),
				zap.Error(err))
			return
		}
		logger.Debug("fanout: reversal done",
			zap.String("owner", job.owner.String()),
			zap.Int64("removed", removed),
			zap.Duration("latency", time.Since(job.enqAt)))
		return
	case jobImport:
		imported, err := e.Timeline(job.owner).ImportActor(ctx, job.jobActor)
		if err != nil {
			logger.Warn("fanout: back-fill failed",
				zap.String("owner", job.owner.String()),
				zap.String("actor", job.jobActor.String()),
				zap.Error(err))
			return
		}
		logger.Debug("fanout: back-fill done",
			zap.String("owner", job.owner.String()),
			zap.Int64("imported", imported),
			zap.Duration("latency", time.Since(job.enqAt)))
		return
	}

	entity, actorRef, err := e.instances.FromUID(ctx, job.actorUID)
	if err != nil {
		logger.Error("fanout: resolve actor", zap.Int64("actor_uid", job.actorUID), zap.Error(err))
		return
	}
	if entity == nil {
		logger.Warn("fanout: skipping job",
			zap.Int64("actor_uid", job.actorUID),
			zap.Error(graph.ErrMissingInstance))
		return
	}

	a, err := ActionFromWire(job.data)
	if err != nil {
		logger.Error("fanout: decode action", zap.Int64("actor_uid", job.actorUID), zap.Error(err))
		return
	}

	replicated := 0
	it := e.backend.GetFollowers(actorRef, graph.ListOptions{PageSize: w.pageSize})
	for it.Next(ctx) {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		follower := it.Edge().Ref
		if err := e.Timeline(follower).save(ctx, a, false); err != nil {
			logger.Warn("fanout: replica write failed",
				zap.String("follower", follower.String()), zap.Error(err))
			continue
		}
		replicated++
	}
	if err := it.Err(); err != nil {
		logger.Warn("fanout: follower paging failed", zap.Int64("actor_uid", job.actorUID), zap.Error(err))
	}
	logger.Debug("fanout: job done",
		zap.Int64("actor_uid", job.actorUID),
		zap.Int("replicated", replicated),
		zap.Duration("latency", time.Since(job.enqAt)))
}
