// Package history records zone temperature samples and completed heating
// runs in sqlite, serving the API's history and statistics queries.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/heatctl/heatctl/internal/model"
)

type DB struct {
	conn *sql.DB
}

type Reading struct {
	ZoneID    string    `json:"zone_id"`
	Temp      float64   `json:"temp"`
	Target    float64   `json:"target"`
	State     string    `json:"state"`
	SampledAt time.Time `json:"sampled_at"`
}

// Open creates the database connection and runs migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if err := migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &DB{conn: conn}, nil
}

func migrate(conn *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			zone_id TEXT NOT NULL,
			temp REAL NOT NULL,
			target REAL NOT NULL,
			state TEXT NOT NULL,
			sampled_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_zone_time ON readings(zone_id, sampled_at)`,
		`CREATE TABLE IF NOT EXISTS heating_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			zone_id TEXT NOT NULL,
			start_temp REAL NOT NULL,
			target_temp REAL NOT NULL,
			outdoor_temp REAL NOT NULL,
			duration_minutes REAL NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_zone ON heating_runs(zone_id)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// InsertReading appends one temperature sample.
func (db *DB) InsertReading(r Reading) error {
	_, err := db.conn.Exec(
		`INSERT INTO readings (zone_id, temp, target, state, sampled_at) VALUES (?, ?, ?, ?, ?)`,
		r.ZoneID, r.Temp, r.Target, r.State, r.SampledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// ReadingsSince returns a zone's samples newer than since, oldest first.
func (db *DB) ReadingsSince(zoneID string, since time.Time) ([]Reading, error) {
	rows, err := db.conn.Query(
		`SELECT zone_id, temp, target, state, sampled_at FROM readings
		 WHERE zone_id = ? AND sampled_at >= ? ORDER BY sampled_at ASC`,
		zoneID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.ZoneID, &r.Temp, &r.Target, &r.State, &r.SampledAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertRun mirrors a completed heating run for durable statistics.
func (db *DB) InsertRun(zoneID string, s model.LearningSample) error {
	_, err := db.conn.Exec(
		`INSERT INTO heating_runs (zone_id, start_temp, target_temp, outdoor_temp, duration_minutes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		zoneID, s.StartTemp, s.TargetTemp, s.OutdoorTemp, s.Duration.Minutes(), s.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert heating run: %w", err)
	}
	return nil
}

// Prune deletes readings older than the cutoff.
func (db *DB) Prune(before time.Time) error {
	_, err := db.conn.Exec(`DELETE FROM readings WHERE sampled_at < ?`, before)
	if err != nil {
		return fmt.Errorf("failed to prune readings: %w", err)
	}
	return nil
}

// DropZone removes all rows for a deleted zone.
func (db *DB) DropZone(zoneID string) error {
	if _, err := db.conn.Exec(`DELETE FROM readings WHERE zone_id = ?`, zoneID); err != nil {
		return fmt.Errorf("failed to delete zone readings: %w", err)
	}
	if _, err := db.conn.Exec(`DELETE FROM heating_runs WHERE zone_id = ?`, zoneID); err != nil {
		return fmt.Errorf("failed to delete zone heating runs: %w", err)
	}
	return nil
}
