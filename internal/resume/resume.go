// Package resume implements the Redis-backed anchor-completion
// accelerator described in SPEC_FULL.md's "Resume-cache accelerator":
// a small hint cache in front of the MBTiles unique index (the
// authoritative source of truth) so a large --resume run does not have
// to re-scan every anchor's 4^k leaves. Grounded on the teacher's
// redis.go cursor/fail-list bookkeeping.
package resume

import (
	"strconv"

	"github.com/gomodule/redigo/redis"
	log "github.com/sirupsen/logrus"
)

// Cache is an optional accelerator. A nil *Cache (or one whose pool
// cannot dial) is always treated as "no hint available", so callers
// fall back to scanning MBTiles directly; Redis is never required for
// correctness.
type Cache struct {
	pool  *redis.Pool
	runID string
}

// New dials lazily via redigo's pool; addr is a "host:port" Redis
// address. runID namespaces keys so concurrent runs against different
// targets don't collide.
func New(addr, runID string) *Cache {
	return &Cache{
		runID: runID,
		pool: &redis.Pool{
			MaxIdle:     8,
			MaxActive:   16,
			IdleTimeout: 120,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", addr)
			},
		},
	}
}

func (c *Cache) key(anchorZ, anchorX, anchorY int) string {
	return "freemap-tiler:anchor:" + c.runID + ":" +
		strconv.Itoa(anchorZ) + ":" + strconv.Itoa(anchorX) + ":" + strconv.Itoa(anchorY)
}

// IsComplete returns (true, true) if the cache confidently remembers the
// anchor as fully persisted, (false, true) if it confidently remembers
// it as incomplete, and (false, false) if it has no opinion (including
// on any Redis error) — the caller must fall back to an MBTiles scan.
func (c *Cache) IsComplete(anchorZ, anchorX, anchorY int) (complete bool, known bool) {
	if c == nil {
		return false, false
	}
	conn := c.pool.Get()
	defer conn.Close()

	v, err := redis.String(conn.Do("GET", c.key(anchorZ, anchorX, anchorY)))
	if err != nil {
		if err != redis.ErrNil {
			log.WithError(err).Debug("resume: redis GET failed, falling back to MBTiles scan")
		}
		return false, false
	}
	return v == "1", true
}

// MarkComplete records that an anchor's 4^k leaves are all now
// persisted, so a future --resume run can skip the MBTiles scan for it.
// Errors are logged and otherwise ignored: the cache is best-effort.
func (c *Cache) MarkComplete(anchorZ, anchorX, anchorY int) {
	if c == nil {
		return
	}
	conn := c.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", c.key(anchorZ, anchorX, anchorY), "1"); err != nil {
		log.WithError(err).Debug("resume: redis SET failed, ignoring")
	}
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.pool.Close()
}
