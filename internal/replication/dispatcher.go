package replication

import "fmt"

// Dispatch reads one tag byte from cur and invokes the matching handler,
// advancing cur exactly past the bytes the handler consumed. An unknown
// tag is a decode error for the whole frame; callers (SessionManager) count
// it toward the reconnect threshold.
func Dispatch(cur *cursor, cache *RelationCache) (Event, error) {
	tag, err := cur.uint8()
	if err != nil {
		return nil, fmt.Errorf("dispatch: read tag: %w", err)
	}
	h, ok := handlers[tag]
	if !ok {
		return nil, fmt.Errorf("dispatch: unknown message tag %q", tag)
	}
	return h(cur, cache)
}
