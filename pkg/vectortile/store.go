package vectortile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"transitty/internal/geo"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS metadata (name TEXT PRIMARY KEY, value TEXT);
CREATE TABLE IF NOT EXISTS tiles (
	zoom_level INTEGER NOT NULL,
	tile_column INTEGER NOT NULL,
	tile_row INTEGER NOT NULL,
	tile_data BLOB NOT NULL,
	fetched_at INTEGER NOT NULL,
	PRIMARY KEY (zoom_level, tile_column, tile_row)
);
INSERT OR IGNORE INTO metadata (name, value) VALUES ('format', 'pbf'), ('name', 'transitty');
`

// Store keeps downloaded tiles in an MBTiles database. Rows use the TMS
// scheme and hold gzip-compressed protobuf.
type Store struct {
	conn    *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

func OpenStore(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger = logger.With("component", "tile_store")
	logger.Info("opened tile store", "path", path)
	return &Store{conn: conn, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func flipY(t geo.TileCoord) int {
	return (1 << t.Z) - t.Y - 1
}

// Get returns the uncompressed tile, or nil when it is not stored.
func (s *Store) Get(ctx context.Context, t geo.TileCoord) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		t.Z, t.X, flipY(t),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tile %s: %w", t, err)
	}
	return gunzip(data)
}

func (s *Store) Put(ctx context.Context, t geo.TileCoord, data []byte) error {
	compressed, err := compress(data)
	if err != nil {
		return fmt.Errorf("compressing tile %s: %w", t, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data, fetched_at) VALUES (?, ?, ?, ?, ?)`,
		t.Z, t.X, flipY(t), compressed, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("writing tile %s: %w", t, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tiles: %w", err)
	}
	return n, nil
}
