package ndnoram

import (
	"strings"

	"github.com/outofforest/logger"
	"go.uber.org/zap"
)

// StashPolicy selects how the eviction engine mitigates stash pressure that
// a normal/critical eviction pass could not relieve. The hardened source
// variant supports both dropping non-priority blocks and growing the soft
// stash bound; the two conflict in spirit (growing weakens the bound this
// whole design exists to enforce), so implementers are expected to pick a
// priority and expose it as a policy enum rather than mixing both
// unconditionally. Mirrors the donor's EvictionStrategy enum shape.
type StashPolicy int

const (
	// PolicyDropFirst is the hardened variant: drop non-high_priority
	// blocks to relieve pressure, and only grow the stash bound when
	// nothing is droppable.
	PolicyDropFirst StashPolicy = iota

	// PolicyGrowOnly is the simple variant: never drops a block; grows
	// the stash bound under pressure instead. May still surface
	// ErrStashOverflow under adversarial load.
	PolicyGrowOnly
)

// Params configures a container at construction time. Renamed from the
// donor's Config to avoid clashing with each container's own functional
// Option type, and validated the same way: Validate returns a copy with
// defaults applied, never mutating the receiver.
type Params struct {
	// Height is H: the tree has 2^H leaves and H+1 buckets per path.
	Height int

	// BucketCap is Z: fixed slot capacity per bucket.
	BucketCap int

	// StashLimit is S: the soft stash bound the eviction engine targets.
	StashLimit int

	// Policy selects emergency-drop-first or grow-only stash-pressure
	// handling.
	Policy StashPolicy

	// QueueCapacity is C, OQueue's optional bounded capacity. Zero means
	// unbounded. Ignored by OMap.
	QueueCapacity int

	// Classifier marks keys as high_priority (ineligible for emergency
	// drop). OMap only. If nil, NewOMap installs the default "/"-prefix
	// rule. Never hardwired into the eviction engine itself.
	Classifier func(key string) bool

	// Background controls whether the container runs the background
	// eviction worker. The zero value is off; set it explicitly to run
	// the worker, or leave it false for fully deterministic stash state
	// (as most tests do).
	Background bool
}

// Validate checks Params for structural errors and applies defaults,
// returning a corrected copy.
func (p Params) Validate() (Params, error) {
	if p.Height <= 0 {
		return p, ErrInvalidConfig
	}
	if p.BucketCap <= 0 {
		p.BucketCap = 4
	}
	if p.StashLimit <= 0 {
		p.StashLimit = 100
	}
	return p, nil
}

func defaultClassifier(key string) bool {
	return strings.HasPrefix(key, "/")
}

// options holds the collaborators a container's functional Options may
// override; every field has a usable default so zero-value options is
// always valid.
type options struct {
	keyring *Keyring
	log     *zap.Logger
}

// Option overrides a container's default collaborators: its keyring or its
// logger. Most callers need neither; NewOMap/NewOQueue generate a fresh
// Keyring and a default logger when no Option supplies one.
type Option func(*options)

// WithKeyring injects a specific Keyring instead of generating a fresh
// one. Exists mainly so tests can pin a key for repeatable fixtures.
func WithKeyring(k *Keyring) Option {
	return func(o *options) { o.keyring = k }
}

// WithLogger injects a specific logger instead of the default
// outofforest/logger-backed one.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

func resolveOptions(opts []Option) (options, error) {
	o := options{}
	for _, apply := range opts {
		apply(&o)
	}
	if o.keyring == nil {
		k, err := NewKeyring()
		if err != nil {
			return o, err
		}
		o.keyring = k
	}
	if o.log == nil {
		o.log = logger.New(logger.DefaultConfig)
	}
	return o, nil
}
