package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pthm-cable/racer/evolution"
)

// SQLiteStore persists payloads in a single SQLite file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates an uninitialized store backed by path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Init opens the database and creates tables.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// One writer; the trainer persists between generations only.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// SaveGeneration upserts gen under (evolutionID, epoch).
func (s *SQLiteStore) SaveGeneration(ctx context.Context, evolutionID string, gen evolution.GenerationSnapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeGeneration(gen)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO generations (evolution_id, epoch, track, codec_version, written_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(evolution_id, epoch) DO UPDATE SET
			track = excluded.track,
			codec_version = excluded.codec_version,
			written_at = excluded.written_at,
			payload = excluded.payload
	`, evolutionID, gen.Epoch, gen.Track, CodecVersion, time.Now().UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("save generation %s/%d: %w", evolutionID, gen.Epoch, err)
	}
	return nil
}

// LoadLatestGeneration returns the highest-epoch generation.
func (s *SQLiteStore) LoadLatestGeneration(ctx context.Context, evolutionID string) (evolution.GenerationSnapshot, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return evolution.GenerationSnapshot{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `
		SELECT payload FROM generations
		WHERE evolution_id = ?
		ORDER BY epoch DESC
		LIMIT 1
	`, evolutionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return evolution.GenerationSnapshot{}, false, nil
		}
		return evolution.GenerationSnapshot{}, false, err
	}

	gen, err := DecodeGeneration(payload)
	if err != nil {
		return evolution.GenerationSnapshot{}, false, fmt.Errorf("decode generation %s: %w", evolutionID, err)
	}
	return gen, true, nil
}

// SaveHallOfFame replaces the stored archive.
func (s *SQLiteStore) SaveHallOfFame(ctx context.Context, evolutionID string, hof evolution.HallOfFameSnapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeHallOfFame(hof)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO hall_of_fame (evolution_id, codec_version, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(evolution_id) DO UPDATE SET
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, evolutionID, CodecVersion, payload)
	if err != nil {
		return fmt.Errorf("save hall of fame %s: %w", evolutionID, err)
	}
	return nil
}

// LoadHallOfFame returns the stored archive.
func (s *SQLiteStore) LoadHallOfFame(ctx context.Context, evolutionID string) (evolution.HallOfFameSnapshot, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return evolution.HallOfFameSnapshot{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM hall_of_fame WHERE evolution_id = ?`, evolutionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return evolution.HallOfFameSnapshot{}, false, nil
		}
		return evolution.HallOfFameSnapshot{}, false, err
	}

	hof, err := DecodeHallOfFame(payload)
	if err != nil {
		return evolution.HallOfFameSnapshot{}, false, fmt.Errorf("decode hall of fame %s: %w", evolutionID, err)
	}
	return hof, true, nil
}

// TrimHistory drops all but the newest keep generations.
func (s *SQLiteStore) TrimHistory(ctx context.Context, evolutionID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, `
		DELETE FROM generations
		WHERE evolution_id = ? AND epoch NOT IN (
			SELECT epoch FROM generations
			WHERE evolution_id = ?
			ORDER BY epoch DESC
			LIMIT ?
		)
	`, evolutionID, evolutionID, keep)
	if err != nil {
		return 0, fmt.Errorf("trim history %s: %w", evolutionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// LatestEvolution returns the most recently written evolution id.
func (s *SQLiteStore) LatestEvolution(ctx context.Context) (string, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return "", false, err
	}

	var id string
	err = db.QueryRowContext(ctx, `
		SELECT evolution_id FROM generations
		ORDER BY written_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS generations (
			evolution_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			track TEXT NOT NULL,
			codec_version INTEGER NOT NULL,
			written_at INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (evolution_id, epoch)
		);
		CREATE TABLE IF NOT EXISTS hall_of_fame (
			evolution_id TEXT PRIMARY KEY,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
