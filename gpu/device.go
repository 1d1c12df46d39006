package gpu

import "github.com/cockroachdb/errors"

// DeviceCandidate is what device selection needs to know about one physical
// device.
type DeviceCandidate struct {
	Name             string
	Discrete         bool
	Integrated       bool
	GraphicsFamily   *int
	PresentFamily    *int
	HasSwapchain     bool
	FormatCount      int
	PresentModeCount int
}

// Suitable reports whether the device can render to the surface at all.
func (c DeviceCandidate) Suitable() bool {
	return c.GraphicsFamily != nil && c.PresentFamily != nil &&
		c.HasSwapchain && c.FormatCount > 0 && c.PresentModeCount > 0
}

// ScoreDevice ranks a candidate. Unsuitable devices score zero.
func ScoreDevice(c DeviceCandidate) int {
	if !c.Suitable() {
		return 0
	}

	score := 1
	if c.Discrete {
		score += 1000
	} else if c.Integrated {
		score += 100
	}

	// A single family for graphics and present avoids concurrent image sharing.
	if *c.GraphicsFamily == *c.PresentFamily {
		score += 10
	}

	return score
}

// PickDevice returns the index of the best scoring candidate. Ties go to the
// earlier candidate.
func PickDevice(candidates []DeviceCandidate) (int, error) {
	best, bestScore := -1, 0
	for i, c := range candidates {
		score := ScoreDevice(c)
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		return 0, errors.Newf("failed to find a suitable GPU among %d devices", len(candidates))
	}

	return best, nil
}
