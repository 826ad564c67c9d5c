package irisview

import "time"

// DefaultOpennessThreshold is the eye openness above which the iris is
// considered visible.
const DefaultOpennessThreshold = 0.02

// Config holds the tunables of the frame pipeline.
type Config struct {
	// OpennessThreshold is compared against the normalized eyelid distance.
	OpennessThreshold float64
	// ClassifyInterval is the minimum delay between two classifications.
	ClassifyInterval time.Duration
	// Constraints are requested from the camera; DeviceID is filled in
	// from the selected device.
	Constraints Constraints
	// CropFace crops the classified frame to the landmark bounding box.
	CropFace bool
	// RefreshRate is the frame loop rate used when no Refresher is given.
	RefreshRate int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		OpennessThreshold: DefaultOpennessThreshold,
		ClassifyInterval:  DefaultClassifyInterval,
		Constraints:       DefaultConstraints(),
		RefreshRate:       60,
	}
}

// withDefaults fills in the zero fields of c.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.OpennessThreshold <= 0 {
		c.OpennessThreshold = def.OpennessThreshold
	}
	if c.ClassifyInterval <= 0 {
		c.ClassifyInterval = def.ClassifyInterval
	}
	if c.Constraints.AspectRatio <= 0 {
		c.Constraints.AspectRatio = def.Constraints.AspectRatio
	}
	if c.Constraints.IdealWidth <= 0 || c.Constraints.IdealHeight <= 0 {
		c.Constraints.IdealWidth = def.Constraints.IdealWidth
		c.Constraints.IdealHeight = def.Constraints.IdealHeight
	}
	if c.RefreshRate <= 0 {
		c.RefreshRate = def.RefreshRate
	}
	return c
}
