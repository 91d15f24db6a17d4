package terrain

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	mmap "github.com/edsrzf/mmap-go"
)

// RawExt is the file extension of headerless little-endian float32 grids.
const RawExt = ".f32"

// OpenRaw maps a headerless little-endian float32 grid of the given
// dimensions and decodes it into a Grid. The mapping is released before
// returning.
func OpenRaw(path string, width, height int) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw grid %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat raw grid %s: %w", path, err)
	}
	want := int64(width) * int64(height) * 4
	if st.Size() != want {
		return nil, fmt.Errorf("%w: %s is %d bytes, %dx%d float32 needs %d", ErrShape, path, st.Size(), width, height, want)
	}
	if want == 0 {
		return NewGrid(width, height, nil)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap raw grid %s: %w", path, err)
	}
	defer m.Unmap()

	return NewGrid(width, height, DecodeFloat32LE(m))
}

// DecodeFloat32LE decodes packed little-endian float32 values. Trailing bytes
// that do not form a whole value are ignored.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// ParseRawName extracts the grid name and dimensions from a file named
// "<name>_<width>x<height>.f32".
func ParseRawName(path string) (name string, width, height int, err error) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, RawExt) {
		return "", 0, 0, fmt.Errorf("raw grid %q: missing %s extension", path, RawExt)
	}
	stem := strings.TrimSuffix(base, RawExt)
	us := strings.LastIndexByte(stem, '_')
	if us <= 0 {
		return "", 0, 0, fmt.Errorf("raw grid %q: want <name>_<w>x<h>%s", path, RawExt)
	}
	if _, err := fmt.Sscanf(stem[us+1:], "%dx%d", &width, &height); err != nil {
		return "", 0, 0, fmt.Errorf("raw grid %q: dimensions: %w", path, err)
	}
	if width <= 0 || height <= 0 {
		return "", 0, 0, fmt.Errorf("%w: raw grid %q has %dx%d", ErrShape, path, width, height)
	}
	return stem[:us], width, height, nil
}
