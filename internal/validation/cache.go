package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	jsoniter "github.com/json-iterator/go"
)

var canonicalJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Judge answers a free-form prompt with a free-form (often JSON) reply.
type Judge interface {
	Judge(ctx context.Context, prompt string) (string, error)
}

// boundedCache is a fixed-size map that evicts the oldest insertion. Reads
// use Peek so a hit never extends an entry's life.
type boundedCache[V any] struct {
	entries *lru.Cache[string, V]
}

func newBoundedCache[V any](size int) *boundedCache[V] {
	if size <= 0 {
		size = 100
	}
	c, err := lru.New[string, V](size)
	if err != nil {
		// Only reachable with a non-positive size, which is ruled out above.
		panic(fmt.Sprintf("validation: cache init: %v", err))
	}
	return &boundedCache[V]{entries: c}
}

func (c *boundedCache[V]) get(key string) (V, bool) { return c.entries.Peek(key) }

func (c *boundedCache[V]) put(key string, v V) { c.entries.Add(key, v) }

func (c *boundedCache[V]) len() int { return c.entries.Len() }

func (c *boundedCache[V]) purge() { c.entries.Purge() }

// cacheKey hashes the canonical JSON form of parts.
func cacheKey(parts ...interface{}) string {
	b, err := canonicalJSON.Marshal(parts)
	if err != nil {
		b = []byte(fmt.Sprint(parts...))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
