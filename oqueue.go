package ndnoram

import (
	"context"
	"sync"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// OQueue is the oblivious FIFO queue façade. It keeps no position map:
// each block carries its own leaf and every operation draws a fresh one;
// FIFO order is preserved by stash insertion order instead (push appends
// at the back, pop takes the front).
type OQueue struct {
	mu         sync.Mutex
	eng        *engine[*queueBlock]
	keyring    *Keyring
	params     Params
	logicalLen int
	log        *zap.Logger

	group  *parallel.Group
	cancel context.CancelFunc
	closed bool
}

// NewOQueue constructs an oblivious queue. A zero Params.QueueCapacity
// means unbounded.
func NewOQueue(params Params, opts ...Option) (*OQueue, error) {
	params, err := params.Validate()
	if err != nil {
		return nil, err
	}
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	overhead := o.keyring.overhead()
	t := newTree[*queueBlock](params.Height, params.BucketCap, func() *queueBlock {
		return newDummyQueueBlock(overhead)
	})
	drawLeaf := func() int { return randLeaf(1 << params.Height) }
	eng := newEngine[*queueBlock](params, t, drawLeaf, o.log)

	q := &OQueue{eng: eng, keyring: o.keyring, params: params, log: o.log}

	if params.Background {
		ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), o.log))
		q.cancel = cancel
		q.group = parallel.NewGroup(ctx)
		runBackgroundWorker(ctx, q.group, &q.mu, eng, o.log)
	}

	o.log.Info("oqueue constructed",
		zap.Int("height", params.Height),
		zap.Int("bucketCap", params.BucketCap),
		zap.Int("stashLimit", params.StashLimit),
		zap.Int("capacity", params.QueueCapacity),
	)
	return q, nil
}

// Push appends value to the back of the queue. A full queue still
// performs the complete read-path/write-path trace before returning
// ErrFull.
func (q *OQueue) Push(value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	leaf := q.eng.drawLeaf()
	if err := q.eng.readPath(leaf); err != nil {
		return err
	}

	full := q.params.QueueCapacity > 0 && q.logicalLen >= q.params.QueueCapacity
	if !full {
		ct, err := q.keyring.Seal(queueAAD(), value)
		if err != nil {
			return errors.Wrap(err, "seal value")
		}
		q.eng.stash.push(&queueBlock{record: record{valid: true, leaf: leaf, ciphertext: ct}})
		q.logicalLen++
	}

	q.eng.writePath(leaf)

	if full {
		return ErrFull
	}
	return nil
}

// Pop removes and returns the value at the front of the queue, or false
// if the queue is empty. An empty queue still performs both halves of
// the trace.
func (q *OQueue) Pop() ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, false, ErrClosed
	}

	leaf := q.eng.drawLeaf()
	if err := q.eng.readPath(leaf); err != nil {
		return nil, false, err
	}

	if q.eng.stash.len() == 0 {
		q.eng.writePath(leaf)
		return nil, false, nil
	}

	// Decrypt in place before removing the block from the stash, so a
	// failed decrypt leaves stash and tree consistent: the block is only
	// popped once Open has succeeded.
	blk := q.eng.stash.items[0]
	pt, err := q.keyring.Open(queueAAD(), blk.ciphertext)
	if err != nil {
		q.eng.writePath(leaf)
		return nil, false, err
	}
	q.eng.stash.removeAt(0)
	q.logicalLen--

	q.eng.writePath(leaf)
	return pt, true, nil
}

// StashLen reports the current stash size. Diagnostic only.
func (q *OQueue) StashLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.eng.stashLen()
}

// Close stops and joins the background eviction worker deterministically.
// Safe to call more than once.
func (q *OQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	group, cancel := q.group, q.cancel
	q.mu.Unlock()

	if group == nil {
		return nil
	}
	group.Exit(nil)
	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "stop background worker")
	}
	return nil
}
