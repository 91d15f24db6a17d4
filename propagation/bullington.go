package propagation

import (
	"math"

	"github.com/signalsfoundry/meshrf/terrain"
)

// DefaultKFactor is the effective Earth radius factor of the standard
// atmosphere.
const DefaultKFactor = 4.0 / 3.0

// Bullington adds single knife-edge diffraction loss, taken at the dominant
// obstruction, to free-space loss. Terrain is raised by the Earth bulge for
// the effective radius and by an optional uniform clutter height.
type Bullington struct {
	// KFactor scales the Earth radius. Zero means DefaultKFactor.
	KFactor float64
	// ClutterHeightM is added to every intermediate terrain sample.
	ClutterHeightM float64
}

// PathLoss implements Model. The loss at sample i is evaluated over the
// sub-profile from the transmitter to i with the receiver antenna at i.
func (b Bullington) PathLoss(profile terrain.Profile, p LinkParameters) []float32 {
	if !p.Solvable() {
		return unsolvable(len(profile))
	}
	out := make([]float32, len(profile))
	for i := 1; i < len(profile); i++ {
		d := float64(i) * p.StepSizeM
		loss := freeSpaceLoss(d, p.FrequencyMHz)
		if d >= 1 {
			loss += b.diffraction(profile[:i+1], p)
		}
		out[i] = float32(loss)
	}
	return out
}

func (b Bullington) diffraction(profile terrain.Profile, p LinkParameters) float64 {
	n := len(profile)
	if n < 3 {
		return 0
	}
	k := b.KFactor
	if k <= 0 {
		k = DefaultKFactor
	}
	total := float64(n-1) * p.StepSizeM
	txAlt := float64(profile[0]) + p.TxHeightM
	rxAlt := float64(profile[n-1]) + p.RxHeightM
	slope := (rxAlt - txAlt) / total
	rEff := k * EarthRadiusM
	lambda := p.wavelength()

	maxV := math.Inf(-1)
	for j := 1; j < n-1; j++ {
		d1 := float64(j) * p.StepSizeM
		d2 := total - d1
		if d1 <= 1 || d2 <= 1 {
			continue
		}
		bulge := d1 * d2 / (2 * rEff)
		h := float64(profile[j]) + bulge + b.ClutterHeightM - (slope*d1 + txAlt)
		v := h * math.Sqrt(2*total/(lambda*d1*d2))
		if v > maxV {
			maxV = v
		}
	}
	return knifeEdgeLoss(maxV)
}

// knifeEdgeLoss approximates the Fresnel-Kirchhoff diffraction loss (dB) for
// the parameter v. It is zero for v <= -0.78.
func knifeEdgeLoss(v float64) float64 {
	if v <= -0.78 {
		return 0
	}
	t := v - 0.1
	loss := 6.9 + 20*math.Log10(math.Sqrt(t*t+1)+t)
	return math.Max(0, loss)
}
