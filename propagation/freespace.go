package propagation

import (
	"math"

	"github.com/signalsfoundry/meshrf/terrain"
)

// FreeSpace ignores terrain and reports free-space path loss at each sample.
type FreeSpace struct{}

// PathLoss implements Model.
func (FreeSpace) PathLoss(profile terrain.Profile, p LinkParameters) []float32 {
	if !p.Solvable() {
		return unsolvable(len(profile))
	}
	out := make([]float32, len(profile))
	for i := range out {
		out[i] = float32(freeSpaceLoss(float64(i)*p.StepSizeM, p.FrequencyMHz))
	}
	return out
}

// freeSpaceLoss returns FSPL in dB for a distance in metres. Distances under
// one metre are treated as zero loss.
func freeSpaceLoss(distM, freqMHz float64) float64 {
	if distM < 1 {
		return 0
	}
	return 20*math.Log10(distM/1000) + 20*math.Log10(freqMHz) + 32.44
}
