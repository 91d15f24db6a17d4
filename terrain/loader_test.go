package terrain

import (
	"archive/zip"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func hgtBytes(samples []int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.BigEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func f32Bytes(samples []float32) []byte {
	b := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(s))
	}
	return b
}

func TestDecodeHGT(t *testing.T) {
	g, err := DecodeHGT(hgtBytes([]int16{1, 2, 3, -4, hgtVoid, 6, 7, 8, 9}))
	require.NoError(t, err)
	require.Equal(t, 3, g.Width)
	require.Equal(t, 3, g.Height)
	require.Equal(t, []float32{1, 2, 3, -4, 0, 6, 7, 8, 9}, g.Data)
	require.Zero(t, g.GroundSampleDistanceM)

	_, err = DecodeHGT(make([]byte, 5))
	require.ErrorIs(t, err, ErrShape)
	_, err = DecodeHGT(make([]byte, 6))
	require.ErrorIs(t, err, ErrShape)
}

func TestDecodeHGTRecordsCellSize(t *testing.T) {
	g, err := DecodeHGT(make([]byte, 2*SRTM3Size*SRTM3Size))
	require.NoError(t, err)
	require.Equal(t, SRTM3Size, g.Width)
	require.Equal(t, SRTM3CellM, g.GroundSampleDistanceM)
	require.Equal(t, SRTM1CellM, hgtCellSize(SRTM1Size))
}

func TestLoadHGTZip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "N45W123.hgt.zip")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	junk, err := zw.Create(".DS_Store")
	require.NoError(t, err)
	_, err = junk.Write([]byte("junk"))
	require.NoError(t, err)
	w, err := zw.Create("N45W123.hgt")
	require.NoError(t, err)
	_, err = w.Write(hgtBytes([]int16{10, 20, 30, 40}))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	g, err := LoadHGT(path)
	require.NoError(t, err)
	require.Equal(t, []float32{10, 20, 30, 40}, g.Data)
}

func TestParseHGTName(t *testing.T) {
	lat, lon, err := ParseHGTName("/tiles/N45W123.hgt")
	require.NoError(t, err)
	require.Equal(t, 45, lat)
	require.Equal(t, -123, lon)

	lat, lon, err = ParseHGTName("s01e010.hgt.zip")
	require.NoError(t, err)
	require.Equal(t, -1, lat)
	require.Equal(t, 10, lon)

	_, _, err = ParseHGTName("X01E010.hgt")
	require.Error(t, err)
}

func TestHGTName(t *testing.T) {
	require.Equal(t, "N45W123.hgt", HGTName(45.5, -122.3))
	require.Equal(t, "S01E010.hgt", HGTName(-0.5, 10.2))
}

func TestOpenRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ridge_3x2.f32")
	want := []float32{1.5, 2, 3, 4, 5, -6.25}
	require.NoError(t, os.WriteFile(path, f32Bytes(want), 0o644))

	g, err := OpenRaw(path, 3, 2)
	require.NoError(t, err)
	require.Equal(t, want, g.Data)

	_, err = OpenRaw(path, 2, 2)
	require.ErrorIs(t, err, ErrShape)
}

func TestParseRawName(t *testing.T) {
	name, w, h, err := ParseRawName("/x/valley_floor_256x128.f32")
	require.NoError(t, err)
	require.Equal(t, "valley_floor", name)
	require.Equal(t, 256, w)
	require.Equal(t, 128, h)

	_, _, _, err = ParseRawName("nodims.f32")
	require.Error(t, err)
	_, _, _, err = ParseRawName("grid_4x4.bin")
	require.Error(t, err)
}

func TestStoreServesDirectoryAndPinnedGrids(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "N10E020.hgt"), hgtBytes([]int16{1, 2, 3, 4}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flat_2x1.f32"), f32Bytes([]float32{7, 8}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0o644))

	s, err := NewStore(dir, 1)
	require.NoError(t, err)

	mem, err := NewGrid(1, 1, []float32{42})
	require.NoError(t, err)
	s.Put("memory", mem)

	require.Equal(t, []string{"N10E020", "flat", "memory"}, s.Names())

	g, err := s.Get("N10E020")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, g.Data)

	again, err := s.Get("N10E020")
	require.NoError(t, err)
	require.Same(t, g, again)

	flat, err := s.Get("flat")
	require.NoError(t, err)
	require.Equal(t, []float32{7, 8}, flat.Data)
	require.Equal(t, 1, s.Cached())

	got, err := s.Get("memory")
	require.NoError(t, err)
	require.Same(t, mem, got)

	_, err = s.Get("missing")
	require.ErrorIs(t, err, ErrGridNotFound)
}
