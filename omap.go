package ndnoram

import (
	"context"
	"sync"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// OMap is the oblivious key-value map façade: insert/lookup in terms of
// read-path + mutate-stash + write-path over a shared eviction engine.
// One mutex per container covers tree, stash, and position map for the
// full duration of a call, contended also by the background worker tick.
type OMap struct {
	mu         sync.Mutex
	eng        *engine[*mapBlock]
	posmap     PositionMap
	keyring    *Keyring
	classifier func(string) bool
	log        *zap.Logger

	group  *parallel.Group
	cancel context.CancelFunc
	closed bool
}

// NewOMap constructs an oblivious map with the given parameters. The
// default classifier marks keys beginning with "/" (routing-style names)
// as high_priority; pass Params.Classifier to override it.
func NewOMap(params Params, opts ...Option) (*OMap, error) {
	params, err := params.Validate()
	if err != nil {
		return nil, err
	}
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	classifier := params.Classifier
	if classifier == nil {
		classifier = defaultClassifier
	}

	posmap := newInMemoryPositionMap(1 << params.Height)
	overhead := o.keyring.overhead()
	t := newTree[*mapBlock](params.Height, params.BucketCap, func() *mapBlock {
		return newDummyMapBlock(overhead)
	})
	eng := newEngine[*mapBlock](params, t, posmap.NewLeaf, o.log)

	m := &OMap{
		eng:        eng,
		posmap:     posmap,
		keyring:    o.keyring,
		classifier: classifier,
		log:        o.log,
	}
	eng.onDrop = m.handleDrop

	if params.Background {
		ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), o.log))
		m.cancel = cancel
		m.group = parallel.NewGroup(ctx)
		runBackgroundWorker(ctx, m.group, &m.mu, eng, o.log)
	}

	o.log.Info("omap constructed",
		zap.Int("height", params.Height),
		zap.Int("bucketCap", params.BucketCap),
		zap.Int("stashLimit", params.StashLimit),
	)
	return m, nil
}

// handleDrop is the map-specific side effect of an emergency drop: every
// dropped key is assigned a fresh random leaf in the position map, so a
// subsequent lookup performs a real physical access that will not find
// the key. This logically deletes the key without touching the tree.
func (m *OMap) handleDrop(dropped []*mapBlock) {
	for _, b := range dropped {
		m.posmap.Set(b.key, m.posmap.NewLeaf())
	}
}

// Insert assigns value to key, overwriting any previous value for key.
func (m *OMap) Insert(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if m.eng.stashLen() > int(0.6*float64(m.eng.stashLimit)) {
		m.eng.fullEviction(m.eng.emergency)
	}

	// Reading the path at the key's current leaf, rather than a fresh
	// one, keeps an overwrite from orphaning the key's pre-existing
	// block on the old leaf's path where nothing will ever touch it
	// again. Only the block's new leaf field gets the fresh draw,
	// written back via write_path(accessLeaf), the same pattern Lookup
	// already uses.
	oldLeaf, existed := m.posmap.Get(key)
	accessLeaf := oldLeaf
	if !existed {
		accessLeaf = m.posmap.NewLeaf()
	}
	newLeaf := m.posmap.NewLeaf()
	m.posmap.Set(key, newLeaf)

	if err := m.eng.readPath(accessLeaf); err != nil {
		// Roll back the logical change; tree/stash state from the drain
		// itself is left as-is.
		if existed {
			m.posmap.Set(key, oldLeaf)
		} else {
			m.posmap.Delete(key)
		}
		return err
	}

	m.eng.stash.removeIf(func(b *mapBlock) bool { return b.key == key })

	ct, err := m.keyring.Seal(mapAAD(key), value)
	if err != nil {
		return errors.Wrap(err, "seal value")
	}

	m.eng.stash.push(&mapBlock{
		record:       record{valid: true, leaf: newLeaf, ciphertext: ct},
		key:          key,
		highPriority: m.classifier(key),
	})

	m.eng.writePath(accessLeaf)
	return nil
}

// Lookup returns the value stored for key, or false if key is absent. A
// miss still performs a physical access indistinguishable in shape from a
// hit.
func (m *OMap) Lookup(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}

	leaf, existed := m.posmap.Get(key)
	if !existed {
		leaf = m.posmap.NewLeaf()
	}

	if err := m.eng.readPath(leaf); err != nil {
		return nil, false, err
	}

	if !existed {
		m.eng.writePath(leaf)
		return nil, false, nil
	}

	idx := findKeyConstantTime(m.eng.stash.items, key)
	if idx < 0 {
		// Either a logically-dropped key or an internal inconsistency;
		// both resolve to "not found".
		m.eng.writePath(leaf)
		return nil, false, nil
	}

	blk := m.eng.stash.items[idx]
	pt, err := m.keyring.Open(mapAAD(key), blk.ciphertext)
	if err != nil {
		m.eng.writePath(leaf)
		return nil, false, err
	}

	newLeaf := m.posmap.NewLeaf()
	m.posmap.Set(key, newLeaf)
	blk.SetLeaf(newLeaf)

	m.eng.writePath(leaf)
	return pt, true, nil
}

// StashLen reports the current stash size. Diagnostic only; callers must
// not depend on exact counts.
func (m *OMap) StashLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eng.stashLen()
}

// EnableEmergencyMode toggles emergency mode explicitly. Entering it
// automatically (as a side effect of a drop) is handled internally;
// exiting it is only ever explicit.
func (m *OMap) EnableEmergencyMode(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eng.emergency = enabled
	m.log.Info("emergency mode set", zap.Bool("enabled", enabled))
}

// Close stops and joins the background eviction worker deterministically.
// Safe to call more than once.
func (m *OMap) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	group, cancel := m.group, m.cancel
	m.mu.Unlock()

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
