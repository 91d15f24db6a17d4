package propagation

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/meshrf/terrain"
)

// DegradedClearanceRatio is the first Fresnel zone fraction below which a
// link is degraded.
const DegradedClearanceRatio = 0.6

// unobstructedRatio is reported when no interior sample is far enough from
// both ends to be checked.
const unobstructedRatio = 100.0

// ErrShortProfile is returned by AnalyzeLink for profiles with fewer than two
// samples.
var ErrShortProfile = errors.New("profile has fewer than two samples")

// LinkStatus classifies first Fresnel zone clearance.
type LinkStatus int

const (
	LinkViable LinkStatus = iota
	LinkDegraded
	LinkBlocked
)

func (s LinkStatus) String() string {
	switch s {
	case LinkViable:
		return "viable"
	case LinkDegraded:
		return "degraded"
	case LinkBlocked:
		return "blocked"
	}
	return fmt.Sprintf("LinkStatus(%d)", int(s))
}

// LinkAnalysis is the clearance of one point-to-point path.
type LinkAnalysis struct {
	DistanceM float64
	// MinClearanceRatio is the smallest ratio of line-of-sight clearance to
	// first Fresnel zone radius over the interior samples. Negative means
	// terrain cuts the line of sight.
	MinClearanceRatio float64
	Status            LinkStatus
}

// AnalyzeLink checks the line of sight between the ends of profile against
// the first Fresnel zone. Terrain is raised by the Earth bulge for kFactor
// (zero means DefaultKFactor) and by clutterHeightM. Samples closer than one
// metre to either end are skipped.
func AnalyzeLink(profile terrain.Profile, p LinkParameters, kFactor, clutterHeightM float64) (LinkAnalysis, error) {
	n := len(profile)
	if n < 2 {
		return LinkAnalysis{}, fmt.Errorf("%w: got %d", ErrShortProfile, n)
	}
	if !p.Solvable() {
		return LinkAnalysis{}, fmt.Errorf("frequency %v MHz and step %v m must be positive", p.FrequencyMHz, p.StepSizeM)
	}
	if kFactor <= 0 {
		kFactor = DefaultKFactor
	}

	total := float64(n-1) * p.StepSizeM
	txAlt := float64(profile[0]) + p.TxHeightM
	rxAlt := float64(profile[n-1]) + p.RxHeightM
	rEff := kFactor * EarthRadiusM
	lambda := p.wavelength()

	minRatio := unobstructedRatio
	for i := 0; i < n; i++ {
		d1 := float64(i) * p.StepSizeM
		d2 := total - d1
		if d1 < 1 || d2 < 1 {
			continue
		}
		terrainH := float64(profile[i]) + d1*d2/(2*rEff) + clutterHeightM
		losH := txAlt + (rxAlt-txAlt)*d1/total
		fresnel := math.Sqrt(lambda * d1 * d2 / total)
		if ratio := (losH - terrainH) / fresnel; ratio < minRatio {
			minRatio = ratio
		}
	}

	a := LinkAnalysis{DistanceM: total, MinClearanceRatio: minRatio}
	switch {
	case minRatio < 0:
		a.Status = LinkBlocked
	case minRatio < DegradedClearanceRatio:
		a.Status = LinkDegraded
	default:
		a.Status = LinkViable
	}
	return a, nil
}
