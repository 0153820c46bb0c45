package gossip

import (
	"github.com/groundx/blocksim/common"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultSeenSetSize is the recommended bound from spec §3.
const DefaultSeenSetSize = 10000

// seenKey is a (message_kind, payload_digest) pair, spec §3's
// Seen-message set element.
type seenKey struct {
	kind   Kind
	digest string
}

// seenSet is a bounded LRU of recently processed message digests,
// generalizing the teacher's common/cache.go lruCache wrapper around
// hashicorp/golang-lru to a fixed key/value shape instead of that file's
// pluggable CacheConfiger.
type seenSet struct {
	cache *lru.Cache
}

func newSeenSet(size int) *seenSet {
	if size <= 0 {
		size = DefaultSeenSetSize
	}
	c, err := lru.New(size)
	if err != nil {
		// lru.New only errors on a non-positive size, excluded above.
		panic(err)
	}
	return &seenSet{cache: c}
}

// seenOrAdd returns true if (kind, payload) was already seen, and
// otherwise records it. A single call does both the check and the
// insert, matching the inbound pipeline's "if present, discard; else
// insert" step (spec §4.5).
func (s *seenSet) seenOrAdd(kind Kind, payload []byte) bool {
	key := seenKey{kind: kind, digest: common.Sha256Hex(payload)}
	if s.cache.Contains(key) {
		return true
	}
	s.cache.Add(key, struct{}{})
	return false
}
