// Package terrain holds elevation grids and the line-profile extraction used
// by the coverage generator.
package terrain

import (
	"errors"
	"fmt"
)

var (
	// ErrShape indicates that a grid's data does not match its dimensions.
	ErrShape = errors.New("grid data does not match dimensions")
	// ErrGridNotFound indicates a named grid is not available in a Store.
	ErrGridNotFound = errors.New("grid not found")
)

// Grid is a row-major raster of ground elevations in metres. A Grid is never
// mutated once constructed, so it may be shared freely between goroutines.
//
// Grids should come from NewGrid or a loader. A literal Grid whose Data does
// not match its dimensions is rejected by Validate.
type Grid struct {
	Width  int
	Height int
	Data   []float32
	// GroundSampleDistanceM is the approximate ground size of one cell as
	// known from the source format. Zero means unknown.
	GroundSampleDistanceM float64
}

// NewGrid wraps data as a width×height grid. The slice is retained, not
// copied; callers must not modify it afterwards.
func NewGrid(width, height int, data []float32) (*Grid, error) {
	g := &Grid{Width: width, Height: height, Data: data}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate reports ErrShape when the dimensions are not positive or Data
// does not hold exactly Width*Height samples.
func (g *Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrShape, g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("%w: %dx%d needs %d samples, got %d", ErrShape, g.Width, g.Height, g.Width*g.Height, len(g.Data))
	}
	return nil
}

// InBounds reports whether (x, y) addresses a cell of the grid.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.Width && y >= 0 && y < g.Height
}

// At returns the elevation at (x, y). It panics if the cell is out of bounds.
func (g *Grid) At(x, y int) float32 {
	return g.Data[y*g.Width+x]
}

// Index returns the row-major offset of (x, y).
func (g *Grid) Index(x, y int) int {
	return y*g.Width + x
}

// Size returns Width*Height.
func (g *Grid) Size() int {
	return g.Width * g.Height
}
