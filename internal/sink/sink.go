// Package sink implements the MBTiles writer from spec §4.7 and §6: a
// transactional, batched tile sink plus the metadata/finalise/resume
// operations around it.
package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/FreemapSlovakia/freemap-tiler/internal/bounds"
	"github.com/FreemapSlovakia/freemap-tiler/internal/geo"
)

// Error is SinkError from spec §7: an MBTiles insert failure. The sink
// retries a failed batch once before it is fatal.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("sink: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Record is one persisted tile: its coordinate plus the two compressed
// blobs (spec §3 "Sink record").
type Record struct {
	Tile       geo.Tile
	JPEG       []byte
	ZSTDAlpha  []byte
}

// Sink wraps the MBTiles SQLite file. The scheduler issues all writes
// (PutBatch) from its sink goroutine; AnchorComplete is also called from
// the anchor producer, which relies on database/sql being safe for
// concurrent use.
type Sink struct {
	db        *sql.DB
	batchSize int
}

// Open creates or resumes an MBTiles file at path. If resume is false
// and the file already has a tiles table, Open fails so a run never
// silently clobbers prior output (spec §4.7).
func Open(path string, resume bool, batchSize int) (*Sink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	if err := optimizeConnection(db); err != nil {
		db.Close()
		return nil, &Error{Op: "pragma", Err: err}
	}

	exists, err := hasTilesTable(db)
	if err != nil {
		db.Close()
		return nil, &Error{Op: "probe", Err: err}
	}
	if exists && !resume {
		db.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("target %q already exists; pass --resume to continue it", path)}
	}

	if !exists {
		if _, err := db.Exec(`
			CREATE TABLE tiles (
				zoom_level INTEGER,
				tile_column INTEGER,
				tile_row INTEGER,
				tile_data BLOB,
				tile_alpha BLOB
			);
			CREATE TABLE metadata (name TEXT, value TEXT);
			CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row);
			CREATE UNIQUE INDEX metadata_name ON metadata (name);
		`); err != nil {
			db.Close()
			return nil, &Error{Op: "create-schema", Err: err}
		}
	}

	return &Sink{db: db, batchSize: batchSize}, nil
}

func hasTilesTable(db *sql.DB) (bool, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='tiles'`).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func optimizeConnection(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// PutBatch inserts a batch of records in one transaction, retrying once
// on failure before returning a fatal *Error (spec §4.7, §7). Re-running
// a tile that already exists replaces it ("last writer wins", the
// resolved Open Question in spec §9 — see DESIGN.md).
func (s *Sink) PutBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	err := s.putBatchOnce(records)
	if err != nil {
		log.WithError(err).Warn("sink: batch insert failed, retrying once")
		err = s.putBatchOnce(records)
	}
	if err != nil {
		return &Error{Op: "put-batch", Err: err}
	}
	return nil
}

func (s *Sink) putBatchOnce(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tiles
		(zoom_level, tile_column, tile_row, tile_data, tile_alpha) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		row := geo.TMSRow(r.Tile.Z, r.Tile.Y)
		if _, err := stmt.Exec(r.Tile.Z, r.Tile.X, row, r.JPEG, r.ZSTDAlpha); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Limits is the JSON shape of the `limits` metadata extension key
// (spec §6).
type Limits struct {
	MinX int `json:"min_x"`
	MaxX int `json:"max_x"`
	MinY int `json:"min_y"`
	MaxY int `json:"max_y"`
}

// Finalise writes the standard MBTiles metadata plus the `limits`
// extension (spec §4.7, §6).
func (s *Sink) Finalise(name string, maxZoom int, footprintBounds string, center string, rects map[int]bounds.Rect) error {
	// rects stores XYZ (top-left) rows; the limits extension, like the
	// tiles table itself, is TMS-row-convention (spec §6), and flipping
	// a range reverses its order, so the XYZ max row becomes the TMS
	// min row and vice versa.
	limits := make(map[string]Limits, len(rects))
	for z, r := range rects {
		minY := geo.TMSRow(z, r.MaxRow)
		maxY := geo.TMSRow(z, r.MinRow)
		limits[fmt.Sprintf("%d", z)] = Limits{MinX: r.MinCol, MaxX: r.MaxCol, MinY: minY, MaxY: maxY}
	}
	limitsJSON, err := json.Marshal(limits)
	if err != nil {
		return &Error{Op: "marshal-limits", Err: err}
	}

	metadata := map[string]string{
		"name":    name,
		"format":  "jpg",
		"minzoom": "0",
		"maxzoom": fmt.Sprintf("%d", maxZoom),
		"bounds":  footprintBounds,
		"center":  center,
		"limits":  string(limitsJSON),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &Error{Op: "finalise-begin", Err: err}
	}
	for k, v := range metadata {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)`, k, v); err != nil {
			tx.Rollback()
			return &Error{Op: "finalise-metadata", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "finalise-commit", Err: err}
	}
	return nil
}

// AnchorComplete reports whether every leaf tile under the anchor
// (anchorZ, anchorX, anchorY) at warp-zoom-offset k is already present
// in the tiles table, for resuming without redoing finished work
// (spec §9). This is the MBTiles-authoritative fallback path; callers
// should first consult internal/resume's cache and only fall back to
// this scan when that cache has no answer.
func (s *Sink) AnchorComplete(anchorZ, anchorX, anchorY, k int) (bool, error) {
	leafZ := anchorZ + k
	side := 1 << uint(k)
	minX, minY := anchorX*side, anchorY*side
	maxX, maxY := minX+side-1, minY+side-1

	minRow := geo.TMSRow(leafZ, maxY)
	maxRow := geo.TMSRow(leafZ, minY)

	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM tiles
		WHERE zoom_level = ? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?`,
		leafZ, minX, maxX, minRow, maxRow).Scan(&count)
	if err != nil {
		return false, &Error{Op: "anchor-complete", Err: err}
	}

	// spec §9: a resumed anchor is skipped only if *all* 4^k leaves are
	// already persisted. With --resume active the scheduler also writes
	// an empty tombstone row for elided (transparent) leaves, so a fully
	// transparent anchor counts as complete too, rather than being
	// redone on every resume.
	return count == side*side, nil
}

// BatchSize returns the configured commit batch size.
func (s *Sink) BatchSize() int {
	return s.batchSize
}
