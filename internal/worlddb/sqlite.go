// Package worlddb serves world metadata (cells, placed objects, landmarks and
// merged MID batches) from a SQLite file.
package worlddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
)

// DB implements provider.WorldData.
type DB struct {
	db *sql.DB

	cellStmt      *sql.Stmt
	objectsStmt   *sql.Stmt
	landmarksStmt *sql.Stmt
	mergedStmt    *sql.Stmt
}

var _ provider.WorldData = (*DB)(nil)

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	w := &DB{db: db}
	if err := w.prepare(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cells (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			PRIMARY KEY (x, y)
		);`,
		`CREATE TABLE IF NOT EXISTS cell_objects (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			asset TEXT NOT NULL,
			px REAL NOT NULL DEFAULT 0,
			py REAL NOT NULL DEFAULT 0,
			pz REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (x, y, seq),
			FOREIGN KEY (x, y) REFERENCES cells(x, y) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS cell_landmarks (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			landmark TEXT NOT NULL,
			PRIMARY KEY (x, y, seq),
			FOREIGN KEY (x, y) REFERENCES cells(x, y) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS cell_landmarks_by_name ON cell_landmarks(landmark);`,
		`CREATE TABLE IF NOT EXISTS merged_batches (
			ax INTEGER NOT NULL,
			ay INTEGER NOT NULL,
			size INTEGER NOT NULL,
			asset TEXT NOT NULL,
			PRIMARY KEY (ax, ay, size)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (w *DB) prepare() error {
	var err error
	if w.cellStmt, err = w.db.Prepare(`SELECT 1 FROM cells WHERE x = ? AND y = ?`); err != nil {
		return err
	}
	if w.objectsStmt, err = w.db.Prepare(`SELECT asset, px, py, pz FROM cell_objects WHERE x = ? AND y = ? ORDER BY seq`); err != nil {
		return err
	}
	if w.landmarksStmt, err = w.db.Prepare(`SELECT landmark FROM cell_landmarks WHERE x = ? AND y = ? ORDER BY seq`); err != nil {
		return err
	}
	if w.mergedStmt, err = w.db.Prepare(`SELECT asset FROM merged_batches WHERE ax = ? AND ay = ? AND size = ?`); err != nil {
		return err
	}
	return nil
}

func (w *DB) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Cell returns the metadata of c. Cells never written report ok=false.
func (w *DB) Cell(ctx context.Context, c cell.Coord) (provider.CellData, bool, error) {
	data := provider.CellData{Coord: c}
	var one int
	err := w.cellStmt.QueryRowContext(ctx, c.X, c.Y).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return data, false, nil
	}
	if err != nil {
		return data, false, fmt.Errorf("worlddb: cell %v: %w", c, err)
	}

	rows, err := w.objectsStmt.QueryContext(ctx, c.X, c.Y)
	if err != nil {
		return data, false, fmt.Errorf("worlddb: objects %v: %w", c, err)
	}
	for rows.Next() {
		var (
			asset string
			obj   provider.Object
		)
		if err := rows.Scan(&asset, &obj.Pos[0], &obj.Pos[1], &obj.Pos[2]); err != nil {
			_ = rows.Close()
			return data, false, err
		}
		obj.Asset = pool.AssetKey(asset)
		data.Objects = append(data.Objects, obj)
	}
	if err := rows.Close(); err != nil {
		return data, false, err
	}

	rows, err = w.landmarksStmt.QueryContext(ctx, c.X, c.Y)
	if err != nil {
		return data, false, fmt.Errorf("worlddb: landmarks %v: %w", c, err)
	}
	defer rows.Close()
	for rows.Next() {
		var lm string
		if err := rows.Scan(&lm); err != nil {
			return data, false, err
		}
		data.Landmarks = append(data.Landmarks, lm)
	}
	return data, true, rows.Err()
}

// MergedArtifact returns the baked merged asset for the batch at anchor.
func (w *DB) MergedArtifact(ctx context.Context, anchor cell.Coord, size int) (pool.AssetKey, bool, error) {
	var asset string
	err := w.mergedStmt.QueryRowContext(ctx, anchor.X, anchor.Y, size).Scan(&asset)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("worlddb: merged %v/%d: %w", anchor, size, err)
	}
	return pool.AssetKey(asset), true, nil
}
