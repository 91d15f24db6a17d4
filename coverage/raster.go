package coverage

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// NoData marks raster cells without a computed received power (dBm).
const NoData float32 = -999

// CellStatus records why a raster cell holds its value. The zero value is
// StatusNotSampled.
type CellStatus uint8

const (
	// StatusNotSampled cells lie in range but off the sampling stride.
	StatusNotSampled CellStatus = iota
	// StatusTransmitter is the transmitter's own cell, holding EIRP.
	StatusTransmitter
	// StatusComputed cells hold a received power.
	StatusComputed
	// StatusOutOfRange cells are farther than the maximum distance, or
	// the transmitter was outside the grid.
	StatusOutOfRange
	// StatusProfileTooShort cells yielded fewer than two profile samples.
	StatusProfileTooShort
	// StatusModelInvalid cells got an invalid loss from the propagation model.
	StatusModelInvalid

	numStatuses
)

var statusNames = [...]string{
	"not_sampled",
	"transmitter",
	"computed",
	"out_of_range",
	"profile_too_short",
	"model_invalid",
}

func (s CellStatus) String() string {
	if s < numStatuses {
		return statusNames[s]
	}
	return fmt.Sprintf("CellStatus(%d)", uint8(s))
}

// Statuses lists every CellStatus in declaration order.
func Statuses() []CellStatus {
	out := make([]CellStatus, numStatuses)
	for i := range out {
		out[i] = CellStatus(i)
	}
	return out
}

// Box is an inclusive pixel rectangle.
type Box struct {
	XMin, XMax int
	YMin, YMax int
}

// Contains reports whether (x, y) lies inside b.
func (b Box) Contains(x, y int) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// Raster is the generator's output. Values is the sentinel view: a
// Width*Height row-major slice of dBm with NoData for every cell that was not
// computed. Status tags each cell with the reason for its value.
type Raster struct {
	Width  int
	Height int
	Values []float32
	Status []CellStatus

	// Box is the clipped search window and Stride the sampling step used to
	// produce the raster. Box is the zero value when the transmitter was
	// off-grid.
	Box    Box
	Stride int

	// RxSensitivityDBm and GroundSampleDistanceM are copied from the
	// request for post-processing. The generator never filters on them.
	RxSensitivityDBm      float64
	GroundSampleDistanceM float64
}

func newRaster(width, height int) *Raster {
	r := &Raster{
		Width:  width,
		Height: height,
		Values: make([]float32, width*height),
		Status: make([]CellStatus, width*height),
	}
	for i := range r.Values {
		r.Values[i] = NoData
	}
	return r
}

// At returns the value at (x, y).
func (r *Raster) At(x, y int) float32 {
	return r.Values[y*r.Width+x]
}

// StatusAt returns the status of (x, y).
func (r *Raster) StatusAt(x, y int) CellStatus {
	return r.Status[y*r.Width+x]
}

// Covered reports whether (x, y) holds a received power at or above the
// receiver sensitivity.
func (r *Raster) Covered(x, y int) bool {
	v := r.At(x, y)
	return v != NoData && float64(v) >= r.RxSensitivityDBm
}

// Counts tallies cells per status.
func (r *Raster) Counts() map[CellStatus]int {
	out := make(map[CellStatus]int, numStatuses)
	for _, s := range r.Status {
		out[s]++
	}
	return out
}

// Summary describes the computed cells of a raster. The transmitter cell is
// excluded.
type Summary struct {
	Computed       int
	Covered        int
	MinDBm         float64
	MaxDBm         float64
	MeanDBm        float64
	CoveredAreaKm2 float64
}

// Summarize computes Summary. Each covered cell stands for Stride² grid
// cells when estimating area, since only one cell per stride block is
// evaluated.
func (r *Raster) Summarize() Summary {
	vals := make([]float64, 0)
	covered := 0
	for i, s := range r.Status {
		if s != StatusComputed {
			continue
		}
		v := float64(r.Values[i])
		vals = append(vals, v)
		if v >= r.RxSensitivityDBm {
			covered++
		}
	}
	sum := Summary{Computed: len(vals), Covered: covered}
	if len(vals) == 0 {
		return sum
	}
	sum.MinDBm = floats.Min(vals)
	sum.MaxDBm = floats.Max(vals)
	sum.MeanDBm = stat.Mean(vals, nil)

	stride := float64(max(r.Stride, 1))
	cellKm := r.GroundSampleDistanceM / 1000
	sum.CoveredAreaKm2 = float64(covered) * stride * stride * cellKm * cellKm
	return sum
}
