package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	fileutil "uploaddesk/internal/file"
	"uploaddesk/internal/upload"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite keeps history in a single table shared by all sessions.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("sqlite pragmas not applied")
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		log.Debug().Str("migration", r.Source.Path).Dur("took", r.Duration).Msg("journal migration applied")
	}
	return nil
}

func (j *SQLite) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO history (session_id, file_id, name, size, media_type, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.FileID, e.Name, e.Size, e.MediaType, string(e.Status), e.Error, e.RecordedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (j *SQLite) History(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, file_id, name, size, media_type, status, error, recorded_at
		FROM history WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			status string
			nanos  int64
		)
		if err := rows.Scan(&e.SessionID, &e.FileID, &e.Name, &e.Size, &e.MediaType, &status, &e.Error, &nanos); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Status = upload.Status(status)
		e.RecordedAt = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (j *SQLite) Forget(ctx context.Context, sessionID string) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM history WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
