package terrain

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// SRTM tile edge lengths. Tiles are named by their south-west corner but the
// data starts in the north-west corner, and adjacent tiles share one row and
// one column.
const (
	SRTM1Size = 3601
	SRTM3Size = 1201

	// Approximate cell sizes of one and three arc-seconds.
	SRTM1CellM = 30.0
	SRTM3CellM = 90.0

	hgtVoid = -32768
)

// LoadHGT reads an SRTM .hgt tile, or a .hgt.zip archive holding one.
func LoadHGT(path string) (*Grid, error) {
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		return loadHGTZip(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hgt %s: %w", path, err)
	}
	return DecodeHGT(b)
}

func loadHGTZip(path string) (*Grid, error) {
	z, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open hgt archive %s: %w", path, err)
	}
	defer z.Close()

	for _, sf := range z.File {
		if strings.HasPrefix(filepath.Base(sf.Name), ".") {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(sf.Name), ".hgt") {
			continue
		}
		f, err := sf.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in %s: %w", sf.Name, path, err)
		}
		b, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s in %s: %w", sf.Name, path, err)
		}
		return DecodeHGT(b)
	}
	return nil, fmt.Errorf("%w: no .hgt entry in %s", ErrGridNotFound, path)
}

// DecodeHGT decodes raw big-endian int16 samples. The tile edge is derived
// from the byte count, so both SRTM1 and SRTM3 tiles are accepted. Data voids
// become 0 m.
func DecodeHGT(b []byte) (*Grid, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd hgt byte count %d", ErrShape, len(b))
	}
	n := len(b) / 2
	edge := int(math.Sqrt(float64(n)))
	if edge*edge != n {
		return nil, fmt.Errorf("%w: %d samples is not a square tile", ErrShape, n)
	}

	data := make([]float32, n)
	for i := range data {
		z := int16(binary.BigEndian.Uint16(b[2*i:]))
		if z == hgtVoid {
			continue
		}
		data[i] = float32(z)
	}
	g, err := NewGrid(edge, edge, data)
	if err != nil {
		return nil, err
	}
	g.GroundSampleDistanceM = hgtCellSize(edge)
	return g, nil
}

// hgtCellSize approximates the cell size of a tile from its edge length:
// one arc-second for SRTM1, three for SRTM3, zero otherwise.
func hgtCellSize(edge int) float64 {
	switch edge {
	case SRTM1Size:
		return SRTM1CellM
	case SRTM3Size:
		return SRTM3CellM
	default:
		return 0
	}
}

// ParseHGTName returns the south-west corner encoded in a tile name such as
// "N45W123.hgt" or "s01e010.hgt.zip".
func ParseHGTName(name string) (lat, lon int, err error) {
	base := strings.ToUpper(filepath.Base(name))
	var ns, ew string
	if _, err := fmt.Sscanf(base, "%1s%d%1s%d", &ns, &lat, &ew, &lon); err != nil {
		return 0, 0, fmt.Errorf("parse tile name %q: %w", name, err)
	}
	switch ns {
	case "N":
	case "S":
		lat = -lat
	default:
		return 0, 0, fmt.Errorf("parse tile name %q: bad hemisphere %q", name, ns)
	}
	switch ew {
	case "E":
	case "W":
		lon = -lon
	default:
		return 0, 0, fmt.Errorf("parse tile name %q: bad hemisphere %q", name, ew)
	}
	return lat, lon, nil
}

// HGTName returns the tile name covering a coordinate, e.g. "N45W123.hgt".
func HGTName(lat, lon float64) string {
	ns, ew := 'N', 'E'
	if lat < 0 {
		ns = 'S'
	}
	if lon < 0 {
		ew = 'W'
	}
	la := int(math.Abs(math.Floor(lat)))
	lo := int(math.Abs(math.Floor(lon)))
	return fmt.Sprintf("%c%02d%c%03d.hgt", ns, la, ew, lo)
}
