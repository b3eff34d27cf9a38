package ndnoram

import "testing"

func newTestEngine(height, bucketCap, stashLimit int, policy StashPolicy) *engine[*mapBlock] {
	tr := newTree[*mapBlock](height, bucketCap, func() *mapBlock { return newDummyMapBlock(0) })
	leafCounter := -1
	draw := func() int {
		leafCounter++
		return leafCounter % (1 << height)
	}
	return newEngine[*mapBlock](Params{StashLimit: stashLimit, Policy: policy}, tr, draw, nil)
}

func TestEngineReadPathDrainsPathIntoStash(t *testing.T) {
	e := newTestEngine(3, 2, 100, PolicyGrowOnly)
	leaf := 5
	path := e.tree.path(leaf)
	e.tree.place(path[0], &mapBlock{record: record{valid: true, leaf: leaf, ciphertext: []byte("y")}, key: "/on-path"})

	if err := e.readPath(leaf); err != nil {
		t.Fatalf("readPath: %v", err)
	}

	found := false
	for _, b := range e.stash.items {
		if b.key == "/on-path" {
			found = true
		}
	}
	if !found {
		t.Errorf("readPath did not drain the on-path block into the stash")
	}
	if e.tree.countReal(path) != 0 {
		t.Errorf("readPath left real blocks on the drained path")
	}
}

func TestEngineWritePathPlacesBlocksOntoTheirPath(t *testing.T) {
	e := newTestEngine(3, 2, 100, PolicyGrowOnly)
	leaf := 2
	e.stash.push(&mapBlock{record: record{valid: true, leaf: leaf, ciphertext: []byte("x")}, key: "/k"})

	// write_path is a no-op below the 0.3*S soft-pressure threshold, which
	// is also what keeps OQueue's FIFO order exact under light load; push
	// padding so this test actually exercises a round.
	for i := 0; i < 35; i++ {
		e.stash.push(&mapBlock{record: record{valid: true, leaf: leaf}, key: "pad"})
	}

	e.writePath(leaf)

	path := e.tree.path(leaf)
	if n := e.tree.countReal(path); n == 0 {
		t.Errorf("writePath placed nothing onto path(%d)", leaf)
	}
}

func TestEngineRelievePressureDropsNonPriorityFirst(t *testing.T) {
	e := newTestEngine(3, 1, 10, PolicyDropFirst)
	var dropped []*mapBlock
	e.onDrop = func(bs []*mapBlock) { dropped = append(dropped, bs...) }

	e.stash.push(&mapBlock{key: "/priority", highPriority: true})
	for i := 0; i < 5; i++ {
		e.stash.push(&mapBlock{key: "disposable", highPriority: false})
	}

	e.relievePressure(5)

	if len(dropped) == 0 {
		t.Fatalf("relievePressure dropped nothing")
	}
	for _, b := range dropped {
		if b.HighPriority() {
			t.Errorf("relievePressure dropped a high_priority block")
		}
	}
	for _, b := range e.stash.items {
		if b.key == "/priority" {
			return
		}
	}
	t.Errorf("high_priority block missing from stash after relievePressure")
}

func TestEngineRelievePressureGrowsUnderGrowOnlyPolicy(t *testing.T) {
	e := newTestEngine(3, 1, 10, PolicyGrowOnly)
	before := e.stashLimit
	e.stash.push(&mapBlock{key: "/a"})
	e.relievePressure(3)
	if e.stashLimit <= before {
		t.Errorf("stashLimit did not grow under PolicyGrowOnly, stayed at %d", e.stashLimit)
	}
}

func TestEngineFullEvictionReducesStash(t *testing.T) {
	e := newTestEngine(3, 4, 50, PolicyGrowOnly)
	// full_eviction(normal) does nothing once the stash is at or under
	// 0.5*S (25 here), so start above that to make a round run.
	for i := 0; i < 30; i++ {
		e.stash.push(&mapBlock{record: record{valid: true, leaf: i % 8}, key: "k"})
	}
	before := e.stash.len()

	e.fullEviction(false)

	if e.stash.len() >= before {
		t.Errorf("fullEviction did not reduce stash length: before=%d after=%d", before, e.stash.len())
	}
}

func TestEngineCriticalEvictionDropsUnderExtremePressure(t *testing.T) {
	e := newTestEngine(2, 1, 4, PolicyDropFirst)
	var dropped []*mapBlock
	e.onDrop = func(bs []*mapBlock) { dropped = append(dropped, bs...) }

	for i := 0; i < 40; i++ {
		e.stash.push(&mapBlock{record: record{valid: true, leaf: i % 4}, key: "k"})
	}

	e.criticalEviction()

	if !e.emergency {
		t.Errorf("criticalEviction under extreme pressure did not engage emergency mode")
	}
}
