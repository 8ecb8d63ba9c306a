/*Package sdk describes the hardware surface of a scientific camera SDK as it
is consumed by the acquisition engine.

The interface mirrors the shape of vendor libraries such as Andor SDK2 and
PVCam: a process-wide "current camera" selected with Select, synchronous
configuration calls, and a blocking wait for the acquisition-complete signal.
Implementations translate their integer return codes into errors with Error
at the boundary, so callers only ever branch on the kinds exported here
(ErrNoNewData, ErrDeviceNotFound, ...) through errors.Is.

Two implementations live in this repository: sdk/sim, an in-process
simulator, and andor/sdk2, a cgo binding compiled with the andor build tag.
*/
package sdk

import "time"

// TemperatureSentinel is the temperature reported by the SDK once the camera
// has been unplugged or switched off
const TemperatureSentinel = -999

// Handle is the opaque integer the SDK uses to refer to one camera
type Handle int32

// AcquisitionMode is a mode of acquisition, with the values used by the SDK
type AcquisitionMode int

const (
	// AcquisitionSingleScan takes one frame and returns to idle
	AcquisitionSingleScan AcquisitionMode = 1

	// AcquisitionAccumulate sums several exposures into one frame
	AcquisitionAccumulate AcquisitionMode = 2

	// AcquisitionKinetic takes a fixed length series of frames
	AcquisitionKinetic AcquisitionMode = 3

	// AcquisitionFastKinetic is the sub-area fast kinetic mode
	AcquisitionFastKinetic AcquisitionMode = 4

	// AcquisitionRunUntilAbort acquires until AbortAcquisition is called
	AcquisitionRunUntilAbort AcquisitionMode = 5
)

func (m AcquisitionMode) String() string {
	switch m {
	case AcquisitionSingleScan:
		return "SingleScan"
	case AcquisitionAccumulate:
		return "Accumulate"
	case AcquisitionKinetic:
		return "Kinetic"
	case AcquisitionFastKinetic:
		return "FastKinetic"
	case AcquisitionRunUntilAbort:
		return "RunUntilAbort"
	}
	return "Unknown"
}

// Status is a camera status.  They are also error codes
type Status uint

const (
	// StatusIdle is IDLE waiting on instructions
	StatusIdle Status = 20073

	// StatusTempCycle executing temperature cycle
	StatusTempCycle Status = 20074

	// StatusAcquiring Acquisition in progress
	StatusAcquiring Status = 20072
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusTempCycle:
		return "TempCycle"
	case StatusAcquiring:
		return "Acquiring"
	}
	return DRVError(s).Error()
}

// FanMode is a cooling fan mode, with the values used by the SDK
type FanMode int

const (
	// FanFull runs the fan at full speed
	FanFull FanMode = 0

	// FanLow runs the fan at low speed
	FanLow FanMode = 1

	// FanOff stops the fan
	FanOff FanMode = 2
)

func (m FanMode) String() string {
	switch m {
	case FanFull:
		return "Full"
	case FanLow:
		return "Low"
	case FanOff:
		return "Off"
	}
	return "Unknown"
}

// AcquisitionTimings holds various acquisition timing parameters
type AcquisitionTimings struct {
	// Exposure is the exposure time in seconds
	Exposure float64

	// Accumulation is the charge accumulation cycle time in seconds
	Accumulation float64

	// Kinetic is the kinetic cycle time in seconds
	Kinetic float64
}

// Channel is one A/D channel and the horizontal shift speeds it supports
type Channel struct {
	// Index is the SDK index of the channel
	Index int `json:"index"`

	// BitDepth is the number of bits of dynamic range of the channel
	BitDepth int `json:"bitDepth"`

	// Speeds holds the readout rates of the channel in Hz, ordered by SDK index
	Speeds []float64 `json:"speeds"`
}

// Capabilities holds the static description of a camera.  It is queried
// once after the camera is opened
type Capabilities struct {
	// Model is the head model string
	Model string `json:"model"`

	// Width and Height are the sensor dimensions in pixels
	Width  int `json:"width"`
	Height int `json:"height"`

	// MaxBinH and MaxBinV are the largest binning factors in image readout mode
	MaxBinH int `json:"maxBinH"`
	MaxBinV int `json:"maxBinV"`

	// MinImageLength is the smallest AOI dimension, in super pixels
	MinImageLength int `json:"minImageLength"`

	// SubImage is true if the camera can read out a sub-area of the sensor
	SubImage bool `json:"subImage"`

	// MaxExposure is the longest exposure time, in seconds
	MaxExposure float64 `json:"maxExposure"`

	// Channels lists the A/D channels
	Channels []Channel `json:"channels"`

	// Gains lists the pre-amplifier gains, ordered by SDK index
	Gains []float64 `json:"gains"`

	// Cooling is true if the sensor temperature can be controlled, between
	// MinTemperature and MaxTemperature Celsius
	Cooling        bool `json:"cooling"`
	MinTemperature int  `json:"minTemperature"`
	MaxTemperature int  `json:"maxTemperature"`

	// FanModes lists the fan modes from slowest to fastest.  It is empty if
	// the fan cannot be controlled
	FanModes []FanMode `json:"fanModes"`
}

// ReadoutRates returns every readout rate available on any channel, in Hz
func (c Capabilities) ReadoutRates() []float64 {
	var out []float64
	for _, ch := range c.Channels {
		out = append(out, ch.Speeds...)
	}
	return out
}

// LocateRate finds the channel and shift speed indices which produce a readout
// rate.  ok is false if no channel supports the rate exactly
func (c Capabilities) LocateRate(hz float64) (ch Channel, speed int, ok bool) {
	for _, ch := range c.Channels {
		for i, s := range ch.Speeds {
			if s == hz {
				return ch, i, true
			}
		}
	}
	return Channel{}, 0, false
}

// SDK is the hardware surface of one camera library.  Every method other than
// AvailableCameras, Open, Close, Select and CancelWait acts on the currently
// selected camera, and implementations are not required to be safe for
// concurrent use beyond CancelWait racing WaitForAcquisition.
type SDK interface {
	// AvailableCameras returns the number of cameras attached
	AvailableCameras() (int, error)

	// Open returns the handle of the camera at idx
	Open(idx int) (Handle, error)

	// Close releases a handle obtained from Open
	Close(h Handle) error

	// Select makes h the current camera
	Select(h Handle) error

	// Initialize initializes the current camera.  It can take a long time
	Initialize() error

	// ShutDown shuts the current camera down
	ShutDown() error

	// Capabilities describes the current camera
	Capabilities() (Capabilities, error)

	// SetReadoutChannel selects the A/D channel and horizontal shift speed
	// index, and the fastest vertical shift speed that goes with them
	SetReadoutChannel(channel, speed int) error

	// SetPreAmpGain selects a pre-amplifier gain by index
	SetPreAmpGain(idx int) error

	// SetImage controls AoI and binning.  Coordinates are 1-based, inclusive
	// and in unbinned pixels
	SetImage(hbin, vbin, hstart, hend, vstart, vend int) error

	// SetExposureTime requests an exposure time.  The SDK may round it, the
	// value in effect is returned by AcquisitionTimings
	SetExposureTime(t time.Duration) error

	// SetAcquisitionMode sets the acquisition mode
	SetAcquisitionMode(m AcquisitionMode) error

	// SetKineticCycleTime sets the time between frames in kinetic modes
	SetKineticCycleTime(t time.Duration) error

	// AcquisitionTimings returns the timings in effect for the current settings
	AcquisitionTimings() (AcquisitionTimings, error)

	// StartAcquisition starts the camera acquiring
	StartAcquisition() error

	// AbortAcquisition aborts the current acquisition if one is active
	AbortAcquisition() error

	// WaitForAcquisition sleeps until a frame is available or the timeout
	// elapses, in which case the error matches ErrNoNewData
	WaitForAcquisition(timeout time.Duration) error

	// CancelWait releases a goroutine blocked in WaitForAcquisition
	CancelWait() error

	// MostRecentImage16 copies the newest frame into buf, discarding older ones
	MostRecentImage16(buf []uint16) error

	// Temperature returns the sensor temperature in Celsius
	Temperature() (int, error)

	// SetTemperature sets the cooler set-point in Celsius
	SetTemperature(celsius int) error

	// SetCooling switches the cooler on or off
	SetCooling(on bool) error

	// SetFanMode sets the speed of the cooling fan
	SetFanMode(m FanMode) error

	// Status returns the acquisition status
	Status() (Status, error)
}
