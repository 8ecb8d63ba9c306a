//go:build andor
// +build andor

package main

import (
	"github.com/nasa-jpl/camflow/andor/sdk2"
	"github.com/nasa-jpl/camflow/sdk"
)

func init() {
	backends["andor"] = func(c config) (sdk.SDK, error) {
		return sdk2.New(c.IniPath), nil
	}
}
