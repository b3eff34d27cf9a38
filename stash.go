package ndnoram

import (
	"sort"

	"github.com/samber/lo"
)

// stash holds records not currently resident in the tree, bounded by a
// soft limit enforced by the eviction engine rather than by this type
// itself; exceeding the limit is not itself fatal until the enclosing
// operation returns.
type stash[B Evictable] struct {
	items []B
}

func newStash[B Evictable]() *stash[B] {
	return &stash[B]{}
}

func (s *stash[B]) push(b B) {
	s.items = append(s.items, b)
}

func (s *stash[B]) pushAll(bs []B) {
	s.items = append(s.items, bs...)
}

func (s *stash[B]) len() int {
	return len(s.items)
}

// removeAt deletes the item at index i and returns it.
func (s *stash[B]) removeAt(i int) B {
	b := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	return b
}

// removeIf deletes every item matching pred and returns them.
func (s *stash[B]) removeIf(pred func(B) bool) []B {
	var removed []B
	kept := s.items[:0:0]
	for _, b := range s.items {
		if pred(b) {
			removed = append(removed, b)
		} else {
			kept = append(kept, b)
		}
	}
	s.items = kept
	return removed
}

// sortByPolicy orders the stash by high_priority descending, then by
// eviction_attempts ascending (least-attempted first). Deepest-leaf-first
// preference is realized by the engine's placement walk visiting
// leaf-to-root bucket order, not by this sort: every leaf in a complete
// binary tree sits at the same depth, so there is no per-block depth to
// sort by. What varies is how many buckets on the current path a given
// candidate is eligible for, which the placement loop already discovers
// bucket-by-bucket.
func (s *stash[B]) sortByPolicy() {
	sort.SliceStable(s.items, func(i, j int) bool {
		a, b := s.items[i], s.items[j]
		if a.HighPriority() != b.HighPriority() {
			return a.HighPriority()
		}
		return a.Attempts() < b.Attempts()
	})
}

// droppable returns the subset of the stash eligible for emergency_drop:
// every block without high_priority set. Built with lo.Filter the way the
// donor pack's quantum tree partitions slices declaratively rather than
// with a hand-rolled loop.
func (s *stash[B]) droppable() []B {
	return lo.Filter(s.items, func(b B, _ int) bool { return !b.HighPriority() })
}

// countHighPriority reports how many stash items are marked high_priority.
func (s *stash[B]) countHighPriority() int {
	return lo.CountBy(s.items, func(b B) bool { return b.HighPriority() })
}

// incAttempts bumps every stash item's eviction_attempts counter by one,
// per write_path/full_eviction round step 1.
func (s *stash[B]) incAttempts() {
	for _, b := range s.items {
		b.IncAttempts()
	}
}

// remapAll assigns every stash item a fresh leaf via draw. Used by
// full_eviction's no-progress rounds and by critical_eviction; remap_stuck
// remaps only the stuck items and does not call it.
func (s *stash[B]) remapAll(draw func() int) {
	for _, b := range s.items {
		b.SetLeaf(draw())
	}
}
