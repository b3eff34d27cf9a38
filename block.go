package ndnoram

// Evictable is the shared surface the eviction engine needs from a stored
// record, regardless of whether it is a map entry or a queue entry. It is
// deliberately small: the engine moves, sorts, and places records without
// ever knowing whether it is holding a mapBlock or a queueBlock. Two
// concrete record types implement it; there is no inheritance hierarchy.
type Evictable interface {
	Valid() bool
	SetValid(bool)
	Leaf() int
	SetLeaf(int)
	Attempts() int
	IncAttempts()
	ResetAttempts()
	HighPriority() bool
}

// record holds the fields common to every block kind: tree residency
// metadata plus the sealed payload. Embedded by value in mapBlock and
// queueBlock; its methods have pointer receivers so *mapBlock and
// *queueBlock satisfy Evictable while staying addressable inside a slice.
type record struct {
	valid      bool
	leaf       int
	attempts   int
	ciphertext []byte
}

func (r *record) Valid() bool     { return r.valid }
func (r *record) SetValid(v bool) { r.valid = v }
func (r *record) Leaf() int       { return r.leaf }
func (r *record) SetLeaf(l int)   { r.leaf = l }
func (r *record) Attempts() int   { return r.attempts }
func (r *record) IncAttempts()    { r.attempts++ }
func (r *record) ResetAttempts()  { r.attempts = 0 }

// mapBlock is the record kind stored by OMap: a logical key plus a
// high_priority flag populated by the map layer's classifier at insert
// time, never hardwired into the eviction engine.
type mapBlock struct {
	record
	key          string
	highPriority bool
}

func (b *mapBlock) HighPriority() bool { return b.highPriority }

// newDummyMapBlock returns a physically-present, invalid slot of the given
// ciphertext width so empty bucket slots are indistinguishable in size from
// occupied ones.
func newDummyMapBlock(ciphertextWidth int) *mapBlock {
	return &mapBlock{record: record{ciphertext: make([]byte, ciphertextWidth)}}
}

// queueBlock is the record kind stored by OQueue. It carries no logical key
// and is never high_priority: FIFO items have no routing-table semantics to
// protect, so they are always eligible for emergency drop.
type queueBlock struct {
	record
}

func (b *queueBlock) HighPriority() bool { return false }

func newDummyQueueBlock(ciphertextWidth int) *queueBlock {
	return &queueBlock{record: record{ciphertext: make([]byte, ciphertextWidth)}}
}
