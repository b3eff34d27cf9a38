package ndnoram

import "testing"

func newTestTree(height, bucketCap int) *tree[*queueBlock] {
	return newTree[*queueBlock](height, bucketCap, func() *queueBlock {
		return newDummyQueueBlock(0)
	})
}

func TestTreePathLength(t *testing.T) {
	tr := newTestTree(3, 4)
	for leaf := 0; leaf < tr.numLeaves; leaf++ {
		p := tr.path(leaf)
		if len(p) != tr.height+1 {
			t.Errorf("path(%d) length = %d, want %d", leaf, len(p), tr.height+1)
		}
		if p[len(p)-1] != 0 {
			t.Errorf("path(%d) last entry = %d, want 0 (root)", leaf, p[len(p)-1])
		}
	}
}

func TestTreePathDistinctLeaves(t *testing.T) {
	tr := newTestTree(3, 4)
	p0 := tr.path(0)
	p7 := tr.path(7)
	if p0[0] == p7[0] {
		t.Errorf("distinct leaves share a leaf bucket: %d", p0[0])
	}
	if p0[len(p0)-1] != p7[len(p7)-1] {
		t.Errorf("distinct leaves do not share the root bucket")
	}
}

func TestTreeCanPlaceAt(t *testing.T) {
	tr := newTestTree(3, 4)
	path := tr.path(5)
	for _, idx := range path {
		if !tr.canPlaceAt(5, idx) {
			t.Errorf("canPlaceAt(5, %d) = false, want true (on path)", idx)
		}
	}
	root := path[len(path)-1]
	if !tr.canPlaceAt(2, root) {
		t.Errorf("canPlaceAt(2, root) = false, want true (the root is an ancestor of every leaf)")
	}
	leafBucketOf5 := path[0]
	if tr.canPlaceAt(2, leafBucketOf5) {
		t.Errorf("canPlaceAt(2, leaf-5-bucket) = true, want false")
	}
}

func TestTreePlaceAndDrain(t *testing.T) {
	tr := newTestTree(2, 2)
	path := tr.path(0)
	leafBucket := path[0]

	b1 := &queueBlock{record: record{valid: true, leaf: 0, ciphertext: []byte("x")}}
	b2 := &queueBlock{record: record{valid: true, leaf: 0, ciphertext: []byte("y")}}
	if !tr.place(leafBucket, b1) {
		t.Fatalf("place into an empty bucket failed")
	}
	if !tr.place(leafBucket, b2) {
		t.Fatalf("place into the second empty slot failed")
	}
	if tr.hasEmptySlot(leafBucket) {
		t.Fatalf("bucketCap=2 bucket reports an empty slot after two placements")
	}
	b3 := &queueBlock{record: record{valid: true, leaf: 0, ciphertext: []byte("z")}}
	if tr.place(leafBucket, b3) {
		t.Fatalf("place succeeded into a full bucket")
	}

	drained := tr.drainPath(path)
	if len(drained) != 2 {
		t.Fatalf("drainPath returned %d blocks, want 2", len(drained))
	}
	if tr.hasEmptySlot(leafBucket) == false {
		t.Errorf("bucket not empty after drain")
	}
}

func TestTreeCountReal(t *testing.T) {
	tr := newTestTree(2, 2)
	path := tr.path(3)
	if n := tr.countReal(path); n != 0 {
		t.Fatalf("countReal on fresh tree = %d, want 0", n)
	}

	b := &queueBlock{record: record{valid: true, leaf: 3, ciphertext: []byte("y")}}
	tr.place(path[0], b)
	if n := tr.countReal(path); n != 1 {
		t.Errorf("countReal after one placement = %d, want 1", n)
	}
}

func TestTreeAllBucketIndicesCoversEveryBucket(t *testing.T) {
	tr := newTestTree(3, 4)
	if got, want := len(tr.allBucketIndices()), len(tr.buckets); got != want {
		t.Errorf("allBucketIndices length = %d, want %d", got, want)
	}
}
