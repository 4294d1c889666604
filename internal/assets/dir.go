package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"worldstream.ai/internal/stream/pool"
)

// Compression selects the on-disk encoding of a model file.
type Compression uint8

const (
	Raw Compression = iota
	Zstd
	LZ4
)

func (c Compression) ext() string {
	switch c {
	case Zstd:
		return ".wsm.zst"
	case LZ4:
		return ".wsm.lz4"
	default:
		return ".wsm"
	}
}

// lookup order when several encodings of one key exist
var lookupOrder = [...]Compression{Zstd, LZ4, Raw}

var ErrNotFound = errors.New("assets: model not found")

// Dir decodes asset keys from files under a root directory. Key "static/oak"
// maps to static/oak.wsm, static/oak.wsm.zst or static/oak.wsm.lz4.
type Dir struct {
	root string
}

var _ pool.Decoder = (*Dir)(nil)

func NewDir(root string) *Dir { return &Dir{root: root} }

func (d *Dir) Root() string { return d.root }

func (d *Dir) path(key pool.AssetKey, c Compression) (string, error) {
	rel := filepath.FromSlash(string(key)) + c.ext()
	if key == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("assets: invalid key %q", key)
	}
	return filepath.Join(d.root, rel), nil
}

// Decode reads and converts the model for key. It runs on decode workers.
func (d *Dir) Decode(ctx context.Context, key pool.AssetKey) (*pool.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, c := range lookupOrder {
		p, err := d.path(key, c)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		verts, err := readModel(f, c)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("assets: %s: %w", key, err)
		}
		return pool.NewModel(key, verts), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

func readModel(r io.Reader, c Compression) ([]float32, error) {
	switch c {
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return Decode(dec)
	case LZ4:
		return Decode(lz4.NewReader(r))
	default:
		return Decode(r)
	}
}

// Write stores a model for key under root with the given compression.
func (d *Dir) Write(key pool.AssetKey, verts []float32, c Compression) error {
	p, err := d.path(key, c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeModel(f, verts, c); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

func writeModel(w io.Writer, verts []float32, c Compression) error {
	switch c {
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := Encode(enc, verts); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	case LZ4:
		zw := lz4.NewWriter(w)
		if err := Encode(zw, verts); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	default:
		return Encode(w, verts)
	}
}
