package worlddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
)

// PutCells replaces the given cells in one transaction.
func (w *DB) PutCells(ctx context.Context, cells []provider.CellData) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range cells {
		if err := putCell(ctx, tx, d); err != nil {
			return fmt.Errorf("worlddb: put %v: %w", d.Coord, err)
		}
	}
	return tx.Commit()
}

func putCell(ctx context.Context, tx *sql.Tx, d provider.CellData) error {
	x, y := d.Coord.X, d.Coord.Y
	if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE x = ? AND y = ?`, x, y); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cells(x, y) VALUES (?, ?)`, x, y); err != nil {
		return err
	}
	for i, obj := range d.Objects {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cell_objects(x, y, seq, asset, px, py, pz) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			x, y, i, string(obj.Asset), obj.Pos[0], obj.Pos[1], obj.Pos[2],
		); err != nil {
			return err
		}
	}
	for i, lm := range d.Landmarks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cell_landmarks(x, y, seq, landmark) VALUES (?, ?, ?, ?)`,
			x, y, i, lm,
		); err != nil {
			return err
		}
	}
	return nil
}

// PutMerged records the merged artifact of the size×size batch at anchor.
func (w *DB) PutMerged(ctx context.Context, anchor cell.Coord, size int, key pool.AssetKey) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO merged_batches(ax, ay, size, asset) VALUES (?, ?, ?, ?)
		 ON CONFLICT(ax, ay, size) DO UPDATE SET asset = excluded.asset`,
		anchor.X, anchor.Y, size, string(key),
	)
	return err
}

func (w *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Meta returns a metadata value; ok is false when unset.
func (w *DB) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := w.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return v, err == nil, err
}

// Seed returns the generator seed recorded by worldseed, if any.
func (w *DB) Seed(ctx context.Context) (int64, bool, error) {
	v, ok, err := w.Meta(ctx, "seed")
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("worlddb: seed %q: %w", v, err)
	}
	return n, true, nil
}

type Counts struct {
	Cells     int
	Objects   int
	Landmarks int
	Batches   int
}

func (w *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		sql string
		dst *int
	}{
		{`SELECT COUNT(*) FROM cells`, &c.Cells},
		{`SELECT COUNT(*) FROM cell_objects`, &c.Objects},
		{`SELECT COUNT(*) FROM cell_landmarks`, &c.Landmarks},
		{`SELECT COUNT(*) FROM merged_batches`, &c.Batches},
	} {
		if err := w.db.QueryRowContext(ctx, q.sql).Scan(q.dst); err != nil {
			return c, err
		}
	}
	return c, nil
}
