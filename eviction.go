package ndnoram

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/outofforest/parallel"
	"go.uber.org/zap"
)

const (
	maxRounds          = 5 // write_path / full_eviction(normal) round bound
	maxRoundsEmergency = 8 // full_eviction(emergency) round bound
)

// engine is the shared eviction machinery consumed by both OMap and
// OQueue. It knows nothing about logical keys or FIFO order; it moves
// Evictable records between the stash and the tree and enforces a
// graduated stash-pressure recovery ladder: plain eviction rounds first,
// then a full-tree sweep, then critical eviction, and only as a last
// resort dropping or growing the stash bound.
type engine[B Evictable] struct {
	tree       *tree[B]
	stash      *stash[B]
	params     Params
	stashLimit int // current S; PolicyGrowOnly/PolicyDropFirst-fallback grows this
	drawLeaf   func() int
	onDrop     func([]B) // OMap hooks this to logically delete dropped keys
	emergency  bool
	log        *zap.Logger
}

func newEngine[B Evictable](params Params, t *tree[B], drawLeaf func() int, log *zap.Logger) *engine[B] {
	return &engine[B]{
		tree:       t,
		stash:      newStash[B](),
		params:     params,
		stashLimit: params.StashLimit,
		drawLeaf:   drawLeaf,
		log:        log,
	}
}

func (e *engine[B]) stashLen() int { return e.stash.len() }

// readPath drains every bucket on leaf's path into the stash, running a
// full eviction first if the stash is already half full and relieving
// pressure beforehand if the drain would push the stash past its bound.
func (e *engine[B]) readPath(leaf int) error {
	if e.stash.len() >= e.stashLimit/2 {
		e.fullEviction(false)
	}

	path := e.tree.path(leaf)
	real := e.tree.countReal(path)
	if over := e.stash.len() + real - int(0.9*float64(e.stashLimit)); over > 0 {
		target := int(0.7 * float64(e.stashLimit))
		e.relievePressure(e.stash.len() + real - target)
	}

	e.stash.pushAll(e.tree.drainPath(path))

	if e.stash.len() > e.stashLimit {
		e.relievePressure(e.stash.len() - e.stashLimit)
		if e.stash.len() > e.stashLimit {
			return ErrStashOverflow
		}
	}
	return nil
}

// writePath tries to place stash blocks back onto leaf's path over a few
// rounds, remapping stuck blocks to fresh leaves between rounds, and falls
// through to critical eviction if the stash is still badly over its bound
// afterward. Below the soft-pressure threshold it does nothing at all.
func (e *engine[B]) writePath(leaf int) {
	path := e.tree.path(leaf)
	noProgress := 0

	for round := 0; round < maxRounds; round++ {
		if e.stash.len() <= int(0.3*float64(e.stashLimit)) {
			break
		}

		e.stash.incAttempts()
		e.stash.sortByPolicy()

		placed := e.placeAlongPath(path)

		if placed == 0 {
			e.remapStuck()
			noProgress++
		} else {
			noProgress = 0
		}
		if noProgress >= 2 {
			break
		}
	}

	if e.stash.len() > int(0.7*float64(e.stashLimit)) {
		e.criticalEviction()
	}
}

// placeAlongPath walks path from leaf (index 0) to root, filling every
// empty slot it can with the first eligible stash candidate. Returns the
// number of records placed.
func (e *engine[B]) placeAlongPath(path []int) int {
	placed := 0
	for _, bucketIdx := range path {
		for e.tree.hasEmptySlot(bucketIdx) {
			idx := e.firstEligible(bucketIdx)
			if idx < 0 {
				break
			}
			b := e.stash.removeAt(idx)
			b.ResetAttempts()
			e.tree.place(bucketIdx, b)
			placed++
		}
	}
	return placed
}

// firstEligible returns the stash index of the first record (in current,
// policy-sorted order) eligible for bucketIdx, or -1 if none.
func (e *engine[B]) firstEligible(bucketIdx int) int {
	for i, b := range e.stash.items {
		if e.tree.canPlaceAt(b.Leaf(), bucketIdx) {
			return i
		}
	}
	return -1
}

// remapStuck reassigns a fresh random leaf to every stash block that has
// failed several placement attempts in a row, giving it a new path to try
// instead of repeatedly contending for the same buckets.
func (e *engine[B]) remapStuck() {
	for _, b := range e.stash.items {
		if b.Attempts() > 2 {
			b.SetLeaf(e.drawLeaf())
		}
	}
}

// fullEviction sweeps every bucket in the tree, not just one path,
// trying to place stash blocks wherever they fit. emergencyMode widens the
// round budget and lowers the stash target it's trying to reach, and
// starts dropping blocks if several consecutive rounds place nothing.
func (e *engine[B]) fullEviction(emergencyMode bool) {
	rounds := maxRounds
	threshold := 0.5
	if emergencyMode {
		rounds = maxRoundsEmergency
		threshold = 0.3
	}

	indices := e.tree.allBucketIndices()
	futile := 0
	for round := 0; round < rounds; round++ {
		if e.stash.len() <= int(threshold*float64(e.stashLimit)) {
			break
		}

		e.stash.incAttempts()
		e.stash.sortByPolicy()

		placed := 0
		for _, idx := range indices {
			for e.tree.hasEmptySlot(idx) {
				i := e.firstEligible(idx)
				if i < 0 {
					break
				}
				b := e.stash.removeAt(i)
				b.ResetAttempts()
				e.tree.place(idx, b)
				placed++
			}
		}

		if placed == 0 {
			e.stash.remapAll(e.drawLeaf)
			futile++
			if emergencyMode && futile >= 3 {
				e.dropForPressure()
			}
		} else {
			futile = 0
		}
	}
}

// criticalEviction is the last resort before dropping anything outright:
// it remaps every stash block to a fresh leaf, sweeps the whole tree, and
// drops for pressure if the stash is still badly over its bound.
func (e *engine[B]) criticalEviction() {
	e.stash.remapAll(e.drawLeaf)
	e.fullEviction(true)
	if e.stash.len() > int(0.8*float64(e.stashLimit)) {
		e.dropForPressure()
	}
}

// dropForPressure sheds 20% of the droppable population (at least one
// block) when the policy allows dropping, entering emergency mode as a
// side effect; under PolicyGrowOnly it grows the stash bound instead,
// since that policy never drops.
func (e *engine[B]) dropForPressure() {
	if e.params.Policy != PolicyDropFirst {
		e.growStash()
		return
	}

	candidates := e.stash.droppable()
	if len(candidates) == 0 {
		e.growStash()
		return
	}

	n := int(math.Ceil(0.2 * float64(len(candidates))))
	if n < 1 {
		n = 1
	}

	e.stash.sortByPolicy() // least-attempted-first among non-priority is fine; priority already excluded
	var dropped []B
	remaining := n
	kept := e.stash.items[:0:0]
	for _, b := range e.stash.items {
		if remaining > 0 && !b.HighPriority() {
			dropped = append(dropped, b)
			remaining--
			continue
		}
		kept = append(kept, b)
	}
	e.stash.items = kept

	e.emergency = true
	if e.log != nil {
		e.log.Warn("emergency drop engaged", zap.Int("dropped", len(dropped)), zap.Int("stashLen", e.stash.len()))
	}
	if e.onDrop != nil && len(dropped) > 0 {
		e.onDrop(dropped)
	}
}

// relievePressure is the lighter-weight mitigation read_path's steps 2/4
// invoke: drop one non-priority block at a time (PolicyDropFirst) until
// the caller-supplied excess is absorbed or nothing is left to drop, then
// fall back to growing the stash bound.
func (e *engine[B]) relievePressure(excess int) {
	if excess <= 0 {
		return
	}
	if e.params.Policy != PolicyDropFirst {
		e.growStash()
		return
	}

	e.stash.sortByPolicy()
	var dropped []B
	kept := e.stash.items[:0:0]
	for _, b := range e.stash.items {
		if excess > 0 && !b.HighPriority() {
			dropped = append(dropped, b)
			excess--
			continue
		}
		kept = append(kept, b)
	}
	e.stash.items = kept

	if len(dropped) > 0 {
		e.emergency = true
		if e.log != nil {
			e.log.Warn("stash pressure drop", zap.Int("dropped", len(dropped)))
		}
		if e.onDrop != nil {
			e.onDrop(dropped)
		}
	}
	if excess > 0 {
		e.growStash()
	}
}

func (e *engine[B]) growStash() {
	newLimit := int(math.Ceil(1.2 * float64(e.stashLimit)))
	if newLimit <= e.stashLimit {
		newLimit = e.stashLimit + 1
	}
	e.stashLimit = newLimit
	if e.log != nil {
		e.log.Info("stash bound grown", zap.Int("newLimit", newLimit))
	}
}

// randLeafBig draws a leaf uniformly using math/big, an alternative CSPRNG
// path kept for callers (the background worker's jitter) that don't need
// posmap-grade rejection sampling.
func randLeafBig(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(err)
	}
	return int(v.Int64())
}

// runBackgroundWorker starts a single background eviction worker under
// group, cooperatively cancelled by ctx. It locks mu, runs one bounded
// fullEviction pass if the container is over the threshold that applies
// to its policy, unlocks, and sleeps a randomized 5-10ms; it must never
// hold the lock across the sleep. Shared between OMap and OQueue via the
// generic engine type.
func runBackgroundWorker[B Evictable](ctx context.Context, group *parallel.Group, mu *sync.Mutex, e *engine[B], log *zap.Logger) {
	group.Spawn("eviction-worker", parallel.Continue, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			mu.Lock()
			threshold := 0.5
			if e.params.Policy == PolicyGrowOnly {
				threshold = 0.75
			}
			if e.stash.len() > int(threshold*float64(e.stashLimit)) {
				log.Debug("background eviction tick", zap.Int("stashLen", e.stash.len()))
				e.fullEviction(e.emergency)
			}
			mu.Unlock()

			jitter := time.Duration(5+randLeafBig(6)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter):
			}
		}
	})
}
