package pool

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
)

// AssetKey identifies a decodable asset, e.g. "static/rock_01".
type AssetKey string

// PlaceholderKey is the pool key of the fixed substitute used when a decode fails.
const PlaceholderKey AssetKey = "builtin/placeholder"

// ErrDecode marks a failed asset decode.
var ErrDecode = errors.New("asset decode failed")

// Model is the converted, ready-to-place form of an asset. Models are shared
// prototypes and must not be mutated after construction.
type Model struct {
	Key      AssetKey
	Vertices []float32 // xyz triples
	Digest   [32]byte
}

// NewModel builds a prototype and computes its digest.
func NewModel(key AssetKey, vertices []float32) *Model {
	m := &Model{Key: key, Vertices: vertices}
	h := sha256.New()
	var tmp [4]byte
	for _, v := range vertices {
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
		h.Write(tmp[:])
	}
	copy(m.Digest[:], h.Sum(nil))
	return m
}

func (m *Model) VertexCount() int { return len(m.Vertices) / 3 }

// Instance is a placeable copy derived from a prototype. A live instance is
// owned either by the pool's idle stack or by exactly one cell.
type Instance struct {
	ID uint64
	// Key is the pool the instance returns to.
	Key AssetKey
	// Requested is the key the caller asked for; it differs from Key for
	// placeholder substitutes.
	Requested AssetKey
	Proto     *Model
}

// Placeholder reports whether the instance stands in for a failed decode.
func (i *Instance) Placeholder() bool {
	return i.Key == PlaceholderKey && i.Requested != PlaceholderKey
}

// Decoder converts an asset into a prototype. Implementations may block.
type Decoder interface {
	Decode(ctx context.Context, key AssetKey) (*Model, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, key AssetKey) (*Model, error)

func (f DecoderFunc) Decode(ctx context.Context, key AssetKey) (*Model, error) { return f(ctx, key) }

func placeholderModel() *Model {
	// unit quad, two triangles
	return NewModel(PlaceholderKey, []float32{
		0, 0, 0, 1, 0, 0, 1, 1, 0,
		0, 0, 0, 1, 1, 0, 0, 1, 0,
	})
}
