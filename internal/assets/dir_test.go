package assets

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldstream.ai/internal/stream/pool"
)

func TestEncodeDecode(t *testing.T) {
	verts := []float32{0, 1, 2, -3.5, 4.25, 1e6}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, verts))
	assert.Equal(t, 8+4*len(verts), buf.Len())

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, verts, got)
}

func TestEncode_RejectsPartialVertex(t *testing.T) {
	assert.Error(t, Encode(&bytes.Buffer{}, []float32{1, 2}))
}

func TestDecode_BadInput(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("NOPE\x01\x00\x00\x00")))
	assert.ErrorIs(t, err, ErrFormat)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []float32{1, 2, 3}))
	_, err = Decode(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	assert.ErrorIs(t, err, ErrFormat)

	huge := append(magic[:], 0xff, 0xff, 0xff, 0xff)
	_, err = Decode(bytes.NewReader(huge))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDir_DecodeEachCompression(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()
	cases := map[pool.AssetKey]Compression{
		"static/raw":  Raw,
		"static/zstd": Zstd,
		"static/lz4":  LZ4,
	}
	for key, c := range cases {
		verts := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
		require.NoError(t, d.Write(key, verts, c))

		m, err := d.Decode(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, key, m.Key)
		assert.Equal(t, 3, m.VertexCount())
		assert.Equal(t, verts, m.Vertices)
	}
}

func TestDir_Errors(t *testing.T) {
	root := t.TempDir()
	d := NewDir(root)
	ctx := context.Background()

	_, err := d.Decode(ctx, "static/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Decode(ctx, "../escape")
	assert.Error(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "junk.wsm.zst"), []byte("not zstd"), 0o644))
	_, err = d.Decode(ctx, "static/junk")
	assert.Error(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.Decode(cctx, "static/raw")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDir_FeedsModelCache(t *testing.T) {
	d := NewDir(t.TempDir())
	require.NoError(t, d.Write("static/oak", []float32{0, 0, 0}, Zstd))

	cache, err := pool.NewModelCache(d, 8, 0)
	require.NoError(t, err)
	p := pool.New(cache, pool.Config{MaxIdlePerKey: 2}, nil)

	inst, err := p.Acquire(context.Background(), "static/oak")
	require.NoError(t, err)
	assert.False(t, inst.Placeholder())

	bad, err := p.Acquire(context.Background(), "static/nope")
	assert.Error(t, err)
	assert.True(t, bad.Placeholder())
	require.NoError(t, p.ReleaseAll([]*pool.Instance{inst, bad}))
}
