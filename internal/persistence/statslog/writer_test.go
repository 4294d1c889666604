package statslog

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Tick   uint64 `json:"tick"`
	Loaded int    `json:"loaded"`
}

func TestWriter_RotatesByTick(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "stats", 10)
	for tick := uint64(1); tick <= 25; tick++ {
		require.NoError(t, w.Write(tick, row{Tick: tick, Loaded: int(tick) * 2}))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, uint64(25), w.Lines())

	files, err := Files(dir, "stats")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "stats-000000000000.jsonl.zst", filepath.Base(files[0]))
	assert.Equal(t, "stats-000000000020.jsonl.zst", filepath.Base(files[2]))

	var got []row
	for _, f := range files {
		require.NoError(t, ReadFile(f, func(line json.RawMessage) error {
			var r row
			if err := json.Unmarshal(line, &r); err != nil {
				return err
			}
			got = append(got, r)
			return nil
		}))
	}
	require.Len(t, got, 25)
	for i, r := range got {
		assert.Equal(t, uint64(i+1), r.Tick)
		assert.Equal(t, 2*(i+1), r.Loaded)
	}
}

func TestWriter_CloseIdempotent(t *testing.T) {
	w := NewWriter(t.TempDir(), "", 0)
	require.NoError(t, w.Close())
	require.NoError(t, w.Write(1, row{Tick: 1}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestFiles_IgnoresOtherPrefixes(t *testing.T) {
	dir := t.TempDir()
	a := NewWriter(dir, "stats", 100)
	b := NewWriter(dir, "other", 100)
	require.NoError(t, a.Write(5, row{}))
	require.NoError(t, b.Write(5, row{}))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	files, err := Files(dir, "stats")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
