// Package sqlstore implements the file repository on database/sql for
// PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/allopze/cloudbox-wopi/internal/adapter"
	"github.com/allopze/cloudbox-wopi/internal/logger"
	"github.com/allopze/cloudbox-wopi/internal/model"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		folder_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		size BIGINT NOT NULL DEFAULT 0,
		path TEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		trashed BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_owner_folder_name ON files(owner_id, folder_id, name)`,
	`CREATE TABLE IF NOT EXISTS shares (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		collaborator_id TEXT NOT NULL,
		permission TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shares_file_id ON shares(file_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		storage_used BIGINT NOT NULL DEFAULT 0
	)`,
}

// Store implements adapter.Repository on a SQL database.
type Store struct {
	db     *sql.DB
	driver string
}

var _ adapter.Repository = (*Store)(nil)

// Open connects to the database, verifies the connection and creates the
// schema when missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db, driver: driver}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Connected to %s repository", driver)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into the driver's native form.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const fileColumns = `id, owner_id, folder_id, name, mime_type, size, path, updated_at, trashed`

func scanFile(row interface{ Scan(...any) error }) (*model.File, error) {
	var (
		f         model.File
		updatedAt int64
	)
	err := row.Scan(&f.ID, &f.OwnerID, &f.FolderID, &f.Name, &f.MIMEType, &f.Size, &f.Path, &updatedAt, &f.Trashed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, adapter.ErrNotFound
		}
		return nil, err
	}
	f.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &f, nil
}

func (s *Store) FindFileByID(ctx context.Context, id string) (*model.File, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+fileColumns+` FROM files WHERE id = ?`), id)
	f, err := scanFile(row)
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return nil, fmt.Errorf("find file %s: %w", id, err)
	}
	return f, err
}

func (s *Store) FindFileByName(ctx context.Context, ownerID, folderID, name string) (*model.File, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+fileColumns+` FROM files
		WHERE owner_id = ? AND folder_id = ? AND name = ? AND trashed = FALSE
		LIMIT 1`), ownerID, folderID, name)
	f, err := scanFile(row)
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return nil, fmt.Errorf("find file by name %q: %w", name, err)
	}
	return f, err
}

func (s *Store) FindSharesForFile(ctx context.Context, fileID string) ([]model.Share, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, file_id, collaborator_id, permission FROM shares WHERE file_id = ?`), fileID)
	if err != nil {
		return nil, fmt.Errorf("find shares for %s: %w", fileID, err)
	}
	defer rows.Close()

	var shares []model.Share
	for rows.Next() {
		var (
			sh   model.Share
			perm string
		)
		if err := rows.Scan(&sh.ID, &sh.FileID, &sh.CollaboratorID, &perm); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		sh.Permission = model.Permission(perm)
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

func (s *Store) UpdateFileSize(ctx context.Context, id string, size int64, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE files SET size = ?, updated_at = ? WHERE id = ?`), size, updatedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update file size %s: %w", id, err)
	}
	return requireAffected(res)
}

func (s *Store) CreateFile(ctx context.Context, f *model.File) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		f.ID, f.OwnerID, f.FolderID, f.Name, f.MIMEType, f.Size, f.Path, f.UpdatedAt.UnixMilli(), f.Trashed)
	if err != nil {
		return fmt.Errorf("create file %s: %w", f.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return adapter.ErrAlreadyExists
	}
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM shares WHERE file_id = ?`), id); err != nil {
		return fmt.Errorf("delete shares of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM files WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AddStorageUsed(ctx context.Context, userID string, delta int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (id, storage_used) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET storage_used = users.storage_used + excluded.storage_used`),
		userID, delta)
	if err != nil {
		return fmt.Errorf("adjust storage used for %s: %w", userID, err)
	}
	return nil
}

// StorageUsed returns the user's counter, zero for unknown users.
func (s *Store) StorageUsed(ctx context.Context, userID string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT storage_used FROM users WHERE id = ?`), userID).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

// AddShare grants a collaborator access to a file.
func (s *Store) AddShare(ctx context.Context, sh model.Share) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO shares (id, file_id, collaborator_id, permission) VALUES (?, ?, ?, ?)`),
		sh.ID, sh.FileID, sh.CollaboratorID, string(sh.Permission))
	if err != nil {
		return fmt.Errorf("add share %s: %w", sh.ID, err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return adapter.ErrNotFound
	}
	return nil
}
