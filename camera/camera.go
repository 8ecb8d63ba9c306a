/*Package camera holds the value types shared by every layer that talks about
camera configuration: binning, the readout region and the bundle of settings
applied before an acquisition.

Regions use the SDK's convention of 1-based, inclusive coordinates in
unbinned sensor pixels.  The zero Region means the full sensor.
*/
package camera

import (
	"fmt"
	"time"
)

// Binning encapsulates information about pixel addition on camera
type Binning struct {
	// H is the horizontal binning factor
	H int `json:"h"`

	// V is the vertical binning factor
	V int `json:"v"`
}

// HxV returns a string "HxV", e.g. "2x2"
func (b Binning) HxV() string {
	return fmt.Sprintf("%dx%d", b.H, b.V)
}

// Region is a rectangle on the sensor.  X0 <= X1 and Y0 <= Y1, both ends
// included, 1-based
type Region struct {
	X0 int `json:"x0"`
	X1 int `json:"x1"`
	Y0 int `json:"y0"`
	Y1 int `json:"y1"`
}

// IsZero is true for the zero Region, which means "the whole sensor"
func (r Region) IsZero() bool {
	return r == Region{}
}

// Width is the width of the region in unbinned pixels
func (r Region) Width() int {
	return r.X1 - r.X0 + 1
}

// Height is the height of the region in unbinned pixels
func (r Region) Height() int {
	return r.Y1 - r.Y0 + 1
}

// Dims returns the size of an image read out of the region with binning b,
// in super pixels
func (r Region) Dims(b Binning) (w, h int) {
	if b.H < 1 || b.V < 1 {
		return 0, 0
	}
	return r.Width() / b.H, r.Height() / b.V
}

func (r Region) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", r.X0, r.X1, r.Y0, r.Y1)
}

// Settings is the bundle of parameters applied to the camera before an
// acquisition
type Settings struct {
	// Binning is the pixel binning
	Binning Binning

	// Region is the readout area
	Region Region

	// ExposureTime is the exposure time
	ExposureTime time.Duration

	// ReadoutRate is the pixel readout rate in Hz
	ReadoutRate float64

	// Gain is the preamp gain
	Gain float64
}

// Dims returns the frame size the settings produce, in super pixels
func (s Settings) Dims() (w, h int) {
	return s.Region.Dims(s.Binning)
}

// CoolerOffAbove is the set-point, in Celsius, above which the cooler is
// switched off rather than regulated
const CoolerOffAbove = 20

// Thermal is the cooling configuration of a camera
type Thermal struct {
	// Setpoint is the target sensor temperature in Celsius
	Setpoint int

	// FanSpeed is the fan speed as a fraction of full speed, 0 is off
	FanSpeed float64
}

// Cooling is true if the cooler regulates to the set-point
func (t Thermal) Cooling() bool {
	return t.Setpoint <= CoolerOffAbove
}
