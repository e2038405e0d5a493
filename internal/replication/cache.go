package replication

import "sync"

// ColumnInfo describes a single column of a cached relation. Immutable once
// constructed.
type ColumnInfo struct {
	Name    string
	TypeOID uint32
}

// RelationInfo is the schema descriptor announced by a Relation message.
// Immutable once inserted into a RelationCache for a given id; a
// re-announcement replaces the entry wholesale rather than mutating it.
type RelationInfo struct {
	RelationID uint32
	Namespace  string
	Name       string
	Columns    []ColumnInfo
}

// RelationCache maps relation id to the most recently announced schema for
// it. It is owned by a single SessionManager and is never shared across
// sessions: a reconnect constructs a fresh cache because the server
// re-emits Relation messages at the start of every session, so stale
// schema from a previous connection is never consulted after a reconnect.
//
// Only the decode worker reads and writes the cache; relation counts reach
// the status endpoint through Recorder.RecordRelations. Access is guarded by
// a mutex all the same.
type RelationCache struct {
	mu   sync.RWMutex
	byID map[uint32]*RelationInfo
}

// NewRelationCache returns an empty cache.
func NewRelationCache() *RelationCache {
	return &RelationCache{byID: make(map[uint32]*RelationInfo)}
}

// Set installs (or replaces) the schema for relationID.
func (c *RelationCache) Set(rel *RelationInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[rel.RelationID] = rel
}

// Get returns the cached schema for relationID, or nil if the relation has
// not been announced in this session.
func (c *RelationCache) Get(relationID uint32) *RelationInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[relationID]
}

// Len returns the number of cached relations (used by the status endpoint).
func (c *RelationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
