package main

import (
	"github.com/nasa-jpl/camflow/sdk"
	"github.com/nasa-jpl/camflow/sdk/sim"
)

func init() {
	backends["sim"] = func(c config) (sdk.SDK, error) {
		cfg := sim.DefaultConfig()
		cfg.Cameras = c.Sim.Cameras
		cfg.Width = c.Sim.Width
		cfg.Height = c.Sim.Height
		return sim.New(cfg), nil
	}
}
