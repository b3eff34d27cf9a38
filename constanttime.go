package ndnoram

import "crypto/subtle"

// findKeyConstantTime scans every stash slot regardless of where (or
// whether) a match occurs, so that which slot satisfied a lookup is not
// observable via timing. Generalized from the donor's
// findInStashConstantTime (which scanned for an integer block ID) to
// compare an arbitrary-length string key using subtle.ConstantTimeCompare.
// Returns the index of the match, or -1 if key is absent; always performs
// exactly len(items) comparisons either way.
func findKeyConstantTime(items []*mapBlock, key string) int {
	want := []byte(key)
	found := -1
	for i, b := range items {
		have := []byte(b.key)
		eq := 0
		if len(have) == len(want) {
			eq = subtle.ConstantTimeCompare(have, want)
		}
		found = subtle.ConstantTimeSelect(eq, i, found)
	}
	return found
}
