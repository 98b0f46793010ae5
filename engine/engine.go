package engine

import (
	"context"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/dualtree-project/dualtree/exchange"
	"github.com/dualtree-project/dualtree/journal"
	"github.com/dualtree-project/dualtree/metrics"
	"github.com/dualtree-project/dualtree/scheduler"
	"github.com/dualtree-project/dualtree/tree"
)

var log = logging.Logger("dualtree-engine")

// Engine runs a dual-tree range-count over the local query table and
// whatever reference subtrees are imported into the exchange cache: for
// every query point, it counts the reference points within the configured
// radius.
//
// Workers pull (query subtree, reference subtree) tasks off the task
// queue. The queue's slot lock makes the worker the only one touching that
// query range, so partial counts are written without further
// synchronization. The query side is only ever refined by the queue's own
// splits; workers descend the reference side by pushing child pairs back.
type Engine struct {
	queryTable tree.Table
	metric     tree.Metric
	radiusSq   float64
	workers    int

	queue *scheduler.TaskQueue
	cache *exchange.TableExchange

	// counts[i] accumulates neighbors of query point i. Writes are
	// serialized per query subtree by the queue's slot locks.
	counts []uint64

	inflight int64

	evtTypeTraversal journal.EventType
}

// TraversalEvent is recorded in the journal when a traversal completes.
type TraversalEvent struct {
	Workers     int
	QueryPoints int
	Slots       int
	Elapsed     time.Duration
}

func New(queryTable tree.Table, metric tree.Metric, radius float64, workers, maxSubtreeSize int) (*Engine, error) {
	if workers < 1 {
		return nil, xerrors.Errorf("worker count %d out of range", workers)
	}
	if radius <= 0 {
		return nil, xerrors.Errorf("radius %f out of range", radius)
	}

	cache := exchange.NewTableExchange()
	queue, err := scheduler.NewTaskQueue(queryTable, maxSubtreeSize, cache)
	if err != nil {
		return nil, xerrors.Errorf("creating task queue: %w", err)
	}

	return &Engine{
		queryTable: queryTable,
		metric:     metric,
		radiusSq:   radius * radius,
		workers:    workers,
		queue:      queue,
		cache:      cache,
		counts:     make([]uint64, len(queryTable.Points())),

		evtTypeTraversal: journal.J.RegisterEventType("engine", "traversal"),
	}, nil
}

// Queue exposes the underlying task queue for diagnostics.
func (e *Engine) Queue() *scheduler.TaskQueue { return e.queue }

// Cache exposes the exchange cache for diagnostics.
func (e *Engine) Cache() *exchange.TableExchange { return e.cache }

// ImportReference brings a reference table into the exchange, one cache
// slot per frontier subtree, and pairs every imported subtree with every
// query slot. Each slot starts with one reference per task pushed, per the
// queue's contract that the caller takes references before pushing.
func (e *Engine) ImportReference(refTable tree.Table, maxSubtreeSize int) error {
	for _, node := range refTable.FrontierNodes(maxSubtreeSize) {
		slots := e.queue.Size()

		id, err := e.cache.Import(refTable, node, slots)
		if err != nil {
			return xerrors.Errorf("importing reference subtree: %w", err)
		}

		bind := scheduler.ReferenceBinding{Table: refTable, Node: node, CacheID: id}
		for slot := 0; slot < slots; slot++ {
			if err := e.queue.Push(e.metric, slot, bind); err != nil {
				return xerrors.Errorf("pushing imported subtree to slot %d: %w", slot, err)
			}
		}
	}
	return nil
}

// Run drains the task queue with the configured number of workers and
// returns the per-query-point neighbor counts.
func (e *Engine) Run(ctx context.Context) ([]uint64, error) {
	defer metrics.Timer(ctx, metrics.TraversalDuration)()
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < e.workers; w++ {
		w := w
		g.Go(func() error {
			return e.worker(gctx, w)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Infow("traversal finished", "elapsed", time.Since(start), "slots", e.queue.Size())
	journal.MaybeRecordEvent(journal.J, e.evtTypeTraversal, func() interface{} {
		return TraversalEvent{
			Workers:     e.workers,
			QueryPoints: len(e.counts),
			Slots:       e.queue.Size(),
			Elapsed:     time.Since(start),
		}
	})
	return e.counts, nil
}

func (e *Engine) worker(ctx context.Context, id int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		found := false

		// probe slots round-robin, offset by worker id; Size may have
		// grown since the snapshot, new slots get probed next round
		size := e.queue.Size()
		for probe := 0; probe < size; probe++ {
			slot := (id + probe) % size

			task, taken, ok, err := e.queue.Dequeue(slot, true)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			found = true
			atomic.AddInt64(&e.inflight, 1)
			perr := e.process(task, taken)
			uerr := e.queue.Unlock(e.metric, taken)
			atomic.AddInt64(&e.inflight, -1)
			if perr != nil {
				return perr
			}
			if uerr != nil {
				return uerr
			}
			break
		}

		if found {
			continue
		}

		if e.queue.IsEmpty() && atomic.LoadInt64(&e.inflight) == 0 {
			return nil
		}

		// Work exists but every busy slot is held: the partition is too
		// coarse for the worker count. Ask for a split and back off; the
		// next Unlock services it.
		e.queue.RequestSplit()
		time.Sleep(50 * time.Microsecond)
	}
}

// process executes one dequeued task. The worker holds the task's slot
// lock for the whole call.
func (e *Engine) process(t *scheduler.Task, slot int) error {
	distRange := t.Query.Bound().RangeDistanceSq(e.metric, t.Ref.Node.Bound())

	switch {
	case distRange.Lo > e.radiusSq:
		// prune: no pair can be in range

	case distRange.Hi <= e.radiusSq:
		// subsume: every pair is in range
		qb, qc := t.Query.Begin(), t.Query.Count()
		rc := uint64(t.Ref.Node.Count())
		for i := qb; i < qb+qc; i++ {
			e.counts[i] += rc
		}

	case t.Ref.Node.IsLeaf():
		e.baseCase(t)

	default:
		// descend the reference side; two new tasks need two more cache
		// references before they are pushed
		e.cache.LockCache(t.Ref.CacheID, 2)
		for _, child := range []tree.Node{t.Ref.Node.Left(), t.Ref.Node.Right()} {
			bind := scheduler.ReferenceBinding{Table: t.Ref.Table, Node: child, CacheID: t.Ref.CacheID}
			if err := e.queue.Push(e.metric, slot, bind); err != nil {
				return xerrors.Errorf("pushing expanded reference pair: %w", err)
			}
		}
	}

	// this task is finished; drop the reference it held
	if err := e.cache.ReleaseCache(t.Ref.CacheID, 1); err != nil {
		return xerrors.Errorf("releasing finished task: %w", err)
	}
	return nil
}

func (e *Engine) baseCase(t *scheduler.Task) {
	qpts := e.queryTable.Points()
	rpts := t.Ref.Table.Points()

	qb, qc := t.Query.Begin(), t.Query.Count()
	rb, rc := t.Ref.Node.Begin(), t.Ref.Node.Count()

	for i := qb; i < qb+qc; i++ {
		for j := rb; j < rb+rc; j++ {
			if e.metric.DistanceSq(qpts[i], rpts[j]) <= e.radiusSq {
				e.counts[i]++
			}
		}
	}

	stats.Record(context.TODO(), metrics.BaseCasePairs.M(int64(qc)*int64(rc)))
}
