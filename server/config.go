// Package server wires the codec, revision registry, controller state,
// relay subsystem and simulator together behind a single-listener TCP
// session controller (companion spec §4.5 "MID Handler Table" and
// §4.8 "Session Controller"). Its Config/DefaultConfig/Valid triad
// mirrors the teacher's cs104.Config pattern.
package server

import (
	"errors"
	"time"
)

// ErrInvalidConfig is returned by Valid for out-of-range fields.
var ErrInvalidConfig = errors.New("server: invalid configuration")

// Config configures one simulated controller instance. Zero-value
// fields fall back to documented defaults inside Valid, matching
// cs104.Config's pattern.
type Config struct {
	// Port is the TCP port the Open Protocol listener binds. Default
	// 4545, per companion spec §6.
	Port int
	// MetricsPort is the port the ambient /metrics HTTP listener binds.
	// 0 disables it.
	MetricsPort int
	// ControllerName is space-padded/truncated to 25 chars. Default
	// "OpenProtocolSim".
	ControllerName string
	CellID         int
	ChannelID      int

	AutoLoopInterval time.Duration
	NokProbability   float64
	NumSpindles      int

	// PsetStorePath is where the Pset parameter table is persisted.
	// Empty disables persistence (an in-memory table is still used).
	PsetStorePath string
}

// DefaultConfig returns the factory defaults.
func DefaultConfig() Config {
	return Config{
		Port:             4545,
		MetricsPort:      0,
		ControllerName:   "OpenProtocolSim",
		CellID:           1,
		ChannelID:        1,
		AutoLoopInterval: 20 * time.Second,
		NokProbability:   0.3,
		NumSpindles:      2,
	}
}

// Valid normalizes zero-value fields to their defaults, space-pads or
// truncates ControllerName to exactly 25 chars, and rejects
// out-of-range fields.
func (c *Config) Valid() error {
	if c.Port == 0 {
		c.Port = 4545
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidConfig
	}
	if c.ControllerName == "" {
		c.ControllerName = "OpenProtocolSim"
	}
	c.ControllerName = padOrTruncate(c.ControllerName, 25)
	if c.CellID == 0 {
		c.CellID = 1
	}
	if c.ChannelID == 0 {
		c.ChannelID = 1
	}
	if c.AutoLoopInterval <= 0 {
		c.AutoLoopInterval = 20 * time.Second
	}
	if c.NokProbability == 0 {
		c.NokProbability = 0.3
	}
	if c.NokProbability < 0 || c.NokProbability > 1 {
		return ErrInvalidConfig
	}
	if c.NumSpindles <= 0 {
		c.NumSpindles = 2
	}
	return nil
}

func padOrTruncate(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	for len(s) < width {
		s += " "
	}
	return s
}
