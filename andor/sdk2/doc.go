/*Package sdk2 implements sdk.SDK on the Andor SDK, v2 (iXon, Newton, Luca
and friends).

The cgo binding is only compiled with the andor build tag, so the rest of
the module builds on machines without the Andor shared library:

	go build -tags andor ./...

The binding is a thin layer.  Every call maps to one or a few SDK functions
and every return code goes through sdk.Error, so its errors carry the driver
code and match the error kinds of package sdk.  Thread safety is the
responsibility of the caller (package device).
*/
package sdk2

import (
	"math"
	"time"
)

// DefaultIniPath is the folder holding the detector ini files on Linux
const DefaultIniPath = "/usr/local/etc/andor"

const (
	// readModeImage is the SDK value of the image readout mode
	readModeImage = 4

	// triggerInternal is the SDK value of the internal trigger
	triggerInternal = 0

	// chanTypeEM selects the electron multiplying output amplifier in the
	// horizontal shift speed functions
	chanTypeEM = 0
)

// mhzToHz converts an SDK horizontal shift speed in MHz to Hz, rounded to
// the nearest Hz to remove float32 noise
func mhzToHz(f float32) float64 {
	return math.Round(float64(f) * 1e6)
}

// millis converts a timeout to the integer milliseconds the SDK takes,
// rounding up so short timeouts do not become zero
func millis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
