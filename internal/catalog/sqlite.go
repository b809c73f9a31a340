package catalog

import (
	"database/sql"
	"fmt"
	"log/slog"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/config"
	_ "modernc.org/sqlite"
)

// SQLiteCatalog stores cameras and their ordered streams in SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the catalog database at path.
func OpenSQLite(path string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	c := &SQLiteCatalog{db: db}
	if err := c.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database connection
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// Migrate creates the catalog tables
func (c *SQLiteCatalog) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			autostart INTEGER,
			failover_enabled INTEGER,
			connect_timeout_s INTEGER,
			loss_timeout_s INTEGER,
			auto_reconnect INTEGER,
			reconnect_interval_s INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS streams (
			camera_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			kind TEXT NOT NULL,
			uri TEXT NOT NULL DEFAULT '',
			pipeline TEXT NOT NULL DEFAULT '',
			codec TEXT NOT NULL DEFAULT '',
			resolution TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			multicast INTEGER NOT NULL DEFAULT 0,
			label TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (camera_id, position),
			FOREIGN KEY (camera_id) REFERENCES cameras(id) ON DELETE CASCADE
		)`,
	}

	for _, migration := range migrations {
		if _, err := c.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Debug("catalog: sqlite migrations completed")
	return nil
}

// SaveCamera inserts or replaces a camera and its whole stream list.
func (c *SQLiteCatalog) SaveCamera(cam config.CameraConfig) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t := cam.Template
	_, err = tx.Exec(`INSERT INTO cameras (id, name, autostart, failover_enabled, connect_timeout_s,
			loss_timeout_s, auto_reconnect, reconnect_interval_s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			autostart = excluded.autostart,
			failover_enabled = excluded.failover_enabled,
			connect_timeout_s = excluded.connect_timeout_s,
			loss_timeout_s = excluded.loss_timeout_s,
			auto_reconnect = excluded.auto_reconnect,
			reconnect_interval_s = excluded.reconnect_interval_s`,
		cam.ID, cam.Name,
		nullBool(t.Autostart), nullBool(t.FailoverEnabled), nullInt(t.ConnectTimeoutS),
		nullInt(t.LossTimeoutS), nullBool(t.AutoReconnect), nullInt(t.ReconnectIntervalS),
	)
	if err != nil {
		return fmt.Errorf("failed to save camera %s: %w", cam.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM streams WHERE camera_id = ?", cam.ID); err != nil {
		return fmt.Errorf("failed to clear streams of %s: %w", cam.ID, err)
	}
	for i, s := range cam.Streams {
		_, err := tx.Exec(`INSERT INTO streams (camera_id, position, kind, uri, pipeline, codec,
				resolution, latency_ms, multicast, label)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cam.ID, i, s.Kind, s.URI, s.Pipeline, s.Codec, s.Resolution, s.LatencyMS, s.Multicast, s.Label,
		)
		if err != nil {
			return fmt.Errorf("failed to save stream %d of %s: %w", i, cam.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit camera %s: %w", cam.ID, err)
	}
	return nil
}

// DeleteCamera deletes a camera and its streams
func (c *SQLiteCatalog) DeleteCamera(id string) error {
	res, err := c.db.Exec("DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	return nil
}

// Import saves every camera, returning how many were written.
func (c *SQLiteCatalog) Import(cameras []config.CameraConfig) (int, error) {
	for i, cam := range cameras {
		if err := c.SaveCamera(cam); err != nil {
			return i, err
		}
	}
	slog.Info("catalog: cameras imported", "count", len(cameras))
	return len(cameras), nil
}

// ResolveCandidates implements streamsupervisor.CandidateResolver.
func (c *SQLiteCatalog) ResolveCandidates(camera streamsupervisor.Camera) ([]streamsupervisor.StreamDescriptor, error) {
	if _, err := c.Camera(camera.ID); err != nil {
		return nil, err
	}

	rows, err := c.db.Query(`SELECT kind, uri, pipeline, codec, resolution, latency_ms, multicast, label
		FROM streams WHERE camera_id = ? ORDER BY position`, camera.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var out []streamsupervisor.StreamDescriptor
	for rows.Next() {
		var s config.StreamConfig
		if err := rows.Scan(&s.Kind, &s.URI, &s.Pipeline, &s.Codec, &s.Resolution, &s.LatencyMS, &s.Multicast, &s.Label); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		out = append(out, s.Descriptor(len(out)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	return out, nil
}

const cameraColumns = `id, name, autostart, failover_enabled, connect_timeout_s,
	loss_timeout_s, auto_reconnect, reconnect_interval_s`

// Camera implements Catalog.
func (c *SQLiteCatalog) Camera(id string) (streamsupervisor.Camera, error) {
	row := c.db.QueryRow("SELECT "+cameraColumns+" FROM cameras WHERE id = ?", id)
	cam, err := scanCamera(row)
	if err == sql.ErrNoRows {
		return streamsupervisor.Camera{}, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	if err != nil {
		return streamsupervisor.Camera{}, fmt.Errorf("failed to get camera: %w", err)
	}
	return cam, nil
}

// Cameras implements Catalog.
func (c *SQLiteCatalog) Cameras() ([]streamsupervisor.Camera, error) {
	rows, err := c.db.Query("SELECT " + cameraColumns + " FROM cameras ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []streamsupervisor.Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	return cameras, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCamera(row scanner) (streamsupervisor.Camera, error) {
	var (
		cam                            streamsupervisor.Camera
		autostart, failover, reconnect sql.NullBool
		connect, loss, interval        sql.NullInt64
	)
	if err := row.Scan(&cam.ID, &cam.Name, &autostart, &failover, &connect, &loss, &reconnect, &interval); err != nil {
		return cam, err
	}
	cam.Overrides = streamsupervisor.PolicyOverrides{
		Autostart:            boolPtr(autostart),
		FailoverEnabled:      boolPtr(failover),
		ConnectTimeoutSec:    intPtr(connect),
		LossTimeoutSec:       intPtr(loss),
		AutoReconnect:        boolPtr(reconnect),
		ReconnectIntervalSec: intPtr(interval),
	}
	return cam, nil
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
