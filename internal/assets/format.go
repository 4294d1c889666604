// Package assets decodes model files from an asset directory into pool
// prototypes.
package assets

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Model files start with a 4-byte magic and a little-endian vertex count,
// followed by three little-endian float32 per vertex.
var magic = [4]byte{'W', 'S', 'M', '1'}

// MaxVertices bounds a single model so a corrupt header cannot force a huge
// allocation.
const MaxVertices = 1 << 22

var ErrFormat = errors.New("assets: bad model file")

// Encode writes verts (x, y, z triples) in model file format.
func Encode(w io.Writer, verts []float32) error {
	if len(verts)%3 != 0 {
		return fmt.Errorf("assets: %d floats is not a whole number of vertices", len(verts))
	}
	n := len(verts) / 3
	if n > MaxVertices {
		return fmt.Errorf("assets: %d vertices exceeds limit %d", n, MaxVertices)
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	if _, err := bw.Write(buf[:]); err != nil {
		return err
	}
	for _, f := range verts {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode reads one model from r.
func Decode(r io.Reader) ([]float32, error) {
	br := bufio.NewReader(r)
	var hdr [8]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if [4]byte(hdr[:4]) != magic {
		return nil, fmt.Errorf("%w: magic %q", ErrFormat, hdr[:4])
	}
	n := binary.LittleEndian.Uint32(hdr[4:])
	if n > MaxVertices {
		return nil, fmt.Errorf("%w: %d vertices exceeds limit", ErrFormat, n)
	}
	verts := make([]float32, 3*int(n))
	var buf [4]byte
	for i := range verts {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, fmt.Errorf("%w: vertex data: %v", ErrFormat, err)
		}
		verts[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	return verts, nil
}
