package main

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// MatchRecord is one finished game headed for the archive.
type MatchRecord struct {
	RoomID     string
	Winner     CellValue
	Placements int
	Duration   float64 // seconds
	Board      []ChunkSnapshot
}

// ArchivedMatch is a stored match read back for history browsing.
type ArchivedMatch struct {
	ID         int64
	RoomID     string
	Winner     CellValue
	Placements int
	Duration   float64
	Board      []ChunkSnapshot
	CreatedAt  time.Time
}

// Archive keeps a write-only history of finished matches in SQLite.
// Records are enqueued non-blocking and persisted by a background writer;
// nothing here is ever fed back into live game state.
type Archive struct {
	conn    *sql.DB
	records chan MatchRecord
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// OpenArchive opens (or creates) the archive database and starts the
// background writer.
func OpenArchive(path string) (*Archive, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		winner INTEGER NOT NULL,
		placements INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		board BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_matches_room ON matches(room_id);
	`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, err
	}

	a := &Archive{
		conn:    conn,
		records: make(chan MatchRecord, 64),
		stopCh:  make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a, nil
}

// RecordMatch enqueues a match for persistence without blocking the
// caller; under backpressure the record is dropped and logged.
func (a *Archive) RecordMatch(rec MatchRecord) {
	select {
	case a.records <- rec:
	default:
		log.Printf("archive: dropping match record for room %s", rec.RoomID)
	}
}

func (a *Archive) writer() {
	defer a.wg.Done()
	for {
		select {
		case rec := <-a.records:
			a.insert(rec)
		case <-a.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case rec := <-a.records:
					a.insert(rec)
				default:
					return
				}
			}
		}
	}
}

func (a *Archive) insert(rec MatchRecord) {
	board, err := msgpack.Marshal(rec.Board)
	if err != nil {
		log.Printf("archive: encode board for room %s: %v", rec.RoomID, err)
		return
	}
	_, err = a.conn.Exec(
		`INSERT INTO matches (room_id, winner, placements, duration, board) VALUES (?, ?, ?, ?, ?)`,
		rec.RoomID, int(rec.Winner), rec.Placements, rec.Duration, board,
	)
	if err != nil {
		log.Printf("archive: insert match for room %s: %v", rec.RoomID, err)
	}
}

// RecentMatches returns the newest stored matches, decoded.
func (a *Archive) RecentMatches(limit int) ([]ArchivedMatch, error) {
	rows, err := a.conn.Query(
		`SELECT id, room_id, winner, placements, duration, board, created_at
		 FROM matches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []ArchivedMatch
	for rows.Next() {
		var m ArchivedMatch
		var winner int
		var board []byte
		if err := rows.Scan(&m.ID, &m.RoomID, &winner, &m.Placements, &m.Duration, &board, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Winner = CellValue(winner)
		if len(board) > 0 {
			if err := msgpack.Unmarshal(board, &m.Board); err != nil {
				return nil, err
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Close flushes pending records and closes the database.
func (a *Archive) Close() error {
	close(a.stopCh)
	a.wg.Wait()
	return a.conn.Close()
}
