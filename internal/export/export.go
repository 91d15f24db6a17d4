// Package export writes coverage rasters in the formats consumed by map
// layers and GIS tools.
package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"

	"github.com/signalsfoundry/meshrf/coverage"
)

// Byte encoding of received power: 0 is no data, otherwise
// (dBm+150)/200*255 clamped to 1..255.
const (
	encodeFloorDBm = -150
	encodeSpanDB   = 200
)

// EncodeRSSI maps one raster value to its texture byte.
func EncodeRSSI(v float32) uint8 {
	if v == coverage.NoData || math.IsNaN(float64(v)) {
		return 0
	}
	b := math.Round((float64(v) - encodeFloorDBm) / encodeSpanDB * 255)
	return uint8(min(max(b, 1), 255))
}

// DecodeRSSI inverts EncodeRSSI up to quantisation. Zero decodes to NoData.
func DecodeRSSI(b uint8) float32 {
	if b == 0 {
		return coverage.NoData
	}
	return float32(float64(b)/255*encodeSpanDB + encodeFloorDBm)
}

// GrayImage renders r with EncodeRSSI, one byte per cell.
func GrayImage(r *coverage.Raster) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.SetGray(x, y, color.Gray{Y: EncodeRSSI(r.At(x, y))})
		}
	}
	return img
}

// WriteGrayPNG writes GrayImage(r) as PNG.
func WriteGrayPNG(w io.Writer, r *coverage.Raster) error {
	return png.Encode(w, GrayImage(r))
}

// DefaultBandwidthHz is the LoRa channel width used for the noise floor.
const DefaultBandwidthHz = 125000

// Palette controls the colour rendering.
type Palette struct {
	// BandwidthHz sets the thermal noise floor -174 + 10*log10(bw) dBm.
	BandwidthHz float64
	// Opacity scales every alpha, 0..1. Zero means 1.
	Opacity float64
}

// NoiseFloorDBm returns the thermal noise floor for p's bandwidth.
func (p Palette) NoiseFloorDBm() float64 {
	bw := p.BandwidthHz
	if bw <= 0 {
		bw = DefaultBandwidthHz
	}
	return -174 + 10*math.Log10(bw)
}

// Color returns the colour of a cell holding v dBm against receiver
// sensitivity. No-data cells are fully transparent.
func (p Palette) Color(v float32, sensitivityDBm float64) color.NRGBA {
	opacity := p.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	if v == coverage.NoData {
		return color.NRGBA{}
	}
	dbm := float64(v)
	if dbm < sensitivityDBm {
		// Faint blue fading in from -150 dBm.
		t := clamp01((dbm - encodeFloorDBm) / (sensitivityDBm - encodeFloorDBm))
		return rgba(0, 0.2, 0.5, t*0.4*opacity)
	}

	snr := dbm - p.NoiseFloorDBm()
	switch {
	case snr > 10:
		return rgba(0, 0.6, 0, 0.8*opacity)
	case snr > 5:
		t := (snr - 5) / 5
		return rgba(0, mix(0.9, 0.6, t), 0, 0.75*opacity)
	case snr > 0:
		t := snr / 5
		return rgba(mix(1, 0, t), mix(1, 0.9, t), 0, 0.7*opacity)
	case snr > -7:
		t := (snr + 7) / 7
		return rgba(1, mix(0, 0.5, t), 0, 0.6*opacity)
	default:
		alpha := math.Max(0, (snr+15)/8)
		return rgba(0.8, 0, 0, clamp01(alpha)*0.5*opacity)
	}
}

// ColorImage renders r through p.
func ColorImage(r *coverage.Raster, p Palette) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.SetNRGBA(x, y, p.Color(r.At(x, y), r.RxSensitivityDBm))
		}
	}
	return img
}

// WriteColorPNG writes ColorImage(r, p) as PNG.
func WriteColorPNG(w io.Writer, r *coverage.Raster, p Palette) error {
	return png.Encode(w, ColorImage(r, p))
}

func mix(a, b, t float64) float64 { return a + (b-a)*t }

func clamp01(v float64) float64 { return math.Min(1, math.Max(0, v)) }

func rgba(r, g, b, a float64) color.NRGBA {
	c := func(v float64) uint8 { return uint8(math.Round(clamp01(v) * 255)) }
	return color.NRGBA{R: c(r), G: c(g), B: c(b), A: c(a)}
}

// GeoReference places a raster for WriteASCIIGrid. Zero values put the lower
// left corner at the origin with the raster's own cell size.
type GeoReference struct {
	XLLCorner float64
	YLLCorner float64
	CellSize  float64
}

// WriteASCIIGrid writes r as an ESRI ASCII grid, first row northmost.
func WriteASCIIGrid(w io.Writer, r *coverage.Raster, ref GeoReference) error {
	cell := ref.CellSize
	if cell <= 0 {
		cell = r.GroundSampleDistanceM
	}
	if cell <= 0 {
		cell = 1
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", r.Width, r.Height)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", formatFloat(ref.XLLCorner), formatFloat(ref.YLLCorner))
	fmt.Fprintf(bw, "cellsize %s\nNODATA_value %s\n", formatFloat(cell), formatFloat(float64(coverage.NoData)))

	var buf []byte
	for y := 0; y < r.Height; y++ {
		buf = buf[:0]
		for x := 0; x < r.Width; x++ {
			if x > 0 {
				buf = append(buf, ' ')
			}
			buf = strconv.AppendFloat(buf, float64(r.At(x, y)), 'g', -1, 32)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteRaw writes the values of r as little-endian float32, row-major.
func WriteRaw(w io.Writer, r *coverage.Raster) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, r.Values); err != nil {
		return err
	}
	return bw.Flush()
}

// RawBytes returns the WriteRaw encoding of r.
func RawBytes(r *coverage.Raster) []byte {
	out := make([]byte, 4*len(r.Values))
	for i, v := range r.Values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}
