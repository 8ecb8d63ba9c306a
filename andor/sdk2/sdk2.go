//go:build andor
// +build andor

package sdk2

/*
#cgo CFLAGS: -I/usr/local
#cgo LDFLAGS: -L/usr/local/lib -landor
#include <stdlib.h>
#include <atmcdLXd.h>
*/
import "C"
import (
	"time"
	"unsafe"

	"github.com/nasa-jpl/camflow/sdk"
)

// SDK is the Andor SDK2 shared library.  There is one per process
type SDK struct {
	// IniPath is the folder passed to Initialize
	IniPath string
}

// New returns the SDK using the ini files in iniPath.  An empty path uses
// DefaultIniPath
func New(iniPath string) *SDK {
	if iniPath == "" {
		iniPath = DefaultIniPath
	}
	return &SDK{IniPath: iniPath}
}

// AvailableCameras returns the number of cameras attached
func (s *SDK) AvailableCameras() (int, error) {
	var n C.at_32
	errCode := uint(C.GetAvailableCameras(&n))
	return int(n), sdk.Errorf(errCode, "GetAvailableCameras")
}

// Open returns the handle of the camera at idx
func (s *SDK) Open(idx int) (sdk.Handle, error) {
	var h C.at_32
	errCode := uint(C.GetCameraHandle(C.at_32(idx), &h))
	return sdk.Handle(h), sdk.Errorf(errCode, "GetCameraHandle(%d)", idx)
}

// Close releases a handle.  SDK2 handles need no release beyond ShutDown
func (s *SDK) Close(h sdk.Handle) error {
	return nil
}

// Select makes h the current camera
func (s *SDK) Select(h sdk.Handle) error {
	errCode := uint(C.SetCurrentCamera(C.at_32(h)))
	return sdk.Errorf(errCode, "SetCurrentCamera")
}

// Initialize initializes the current camera and puts it in image readout
// mode with the internal trigger
func (s *SDK) Initialize() error {
	cstr := C.CString(s.IniPath)
	defer C.free(unsafe.Pointer(cstr))
	if err := sdk.Errorf(uint(C.Initialize(cstr)), "Initialize"); err != nil {
		return err
	}
	if err := sdk.Errorf(uint(C.SetReadMode(C.int(readModeImage))), "SetReadMode"); err != nil {
		return err
	}
	return sdk.Errorf(uint(C.SetTriggerMode(C.int(triggerInternal))), "SetTriggerMode")
}

// ShutDown shuts the current camera down
func (s *SDK) ShutDown() error {
	return sdk.Errorf(uint(C.ShutDown()), "ShutDown")
}

// Capabilities describes the current camera
func (s *SDK) Capabilities() (sdk.Capabilities, error) {
	var caps sdk.Capabilities
	var w, h C.int
	if err := sdk.Errorf(uint(C.GetDetector(&w, &h)), "GetDetector"); err != nil {
		return caps, err
	}
	caps.Width, caps.Height = int(w), int(h)

	buf := make([]byte, C.MAX_PATH)
	cbuf := (*C.char)(unsafe.Pointer(&buf[0]))
	if err := sdk.Errorf(uint(C.GetHeadModel(cbuf)), "GetHeadModel"); err != nil {
		return caps, err
	}
	caps.Model = C.GoString(cbuf)

	var binH, binV, minLen C.int
	if err := sdk.Errorf(uint(C.GetMaximumBinning(C.int(readModeImage), 0, &binH)), "GetMaximumBinning"); err != nil {
		return caps, err
	}
	if err := sdk.Errorf(uint(C.GetMaximumBinning(C.int(readModeImage), 1, &binV)), "GetMaximumBinning"); err != nil {
		return caps, err
	}
	if err := sdk.Errorf(uint(C.GetMinimumImageLength(&minLen)), "GetMinimumImageLength"); err != nil {
		return caps, err
	}
	caps.MaxBinH, caps.MaxBinV, caps.MinImageLength = int(binH), int(binV), int(minLen)

	var maxExp C.float
	if err := sdk.Errorf(uint(C.GetMaximumExposure(&maxExp)), "GetMaximumExposure"); err != nil {
		return caps, err
	}
	caps.MaxExposure = float64(maxExp)

	var ac C.AndorCapabilities
	ac.ulSize = C.at_u32(unsafe.Sizeof(ac))
	if err := sdk.Errorf(uint(C.GetCapabilities(&ac)), "GetCapabilities"); err != nil {
		return caps, err
	}
	caps.SubImage = ac.ulReadModes&C.AC_READMODE_SUBIMAGE != 0

	caps.Cooling = ac.ulSetFunctions&C.AC_SETFUNCTION_TEMPERATURE != 0
	if caps.Cooling {
		var tmin, tmax C.int
		if err := sdk.Errorf(uint(C.GetTemperatureRange(&tmin, &tmax)), "GetTemperatureRange"); err != nil {
			return caps, err
		}
		caps.MinTemperature, caps.MaxTemperature = int(tmin), int(tmax)
	}
	switch {
	case ac.ulFeatures&C.AC_FEATURES_MIDFANCONTROL != 0:
		caps.FanModes = []sdk.FanMode{sdk.FanOff, sdk.FanLow, sdk.FanFull}
	case ac.ulFeatures&C.AC_FEATURES_FANCONTROL != 0:
		caps.FanModes = []sdk.FanMode{sdk.FanOff, sdk.FanFull}
	}

	var nch C.int
	if err := sdk.Errorf(uint(C.GetNumberADChannels(&nch)), "GetNumberADChannels"); err != nil {
		return caps, err
	}
	for ch := 0; ch < int(nch); ch++ {
		var depth, nspeed C.int
		if err := sdk.Errorf(uint(C.GetBitDepth(C.int(ch), &depth)), "GetBitDepth(%d)", ch); err != nil {
			return caps, err
		}
		if err := sdk.Errorf(uint(C.GetNumberHSSpeeds(C.int(ch), C.int(chanTypeEM), &nspeed)), "GetNumberHSSpeeds(%d)", ch); err != nil {
			return caps, err
		}
		c := sdk.Channel{Index: ch, BitDepth: int(depth)}
		for i := 0; i < int(nspeed); i++ {
			var mhz C.float
			if err := sdk.Errorf(uint(C.GetHSSpeed(C.int(ch), C.int(chanTypeEM), C.int(i), &mhz)), "GetHSSpeed(%d, %d)", ch, i); err != nil {
				return caps, err
			}
			c.Speeds = append(c.Speeds, mhzToHz(float32(mhz)))
		}
		caps.Channels = append(caps.Channels, c)
	}

	var ngain C.int
	if err := sdk.Errorf(uint(C.GetNumberPreAmpGains(&ngain)), "GetNumberPreAmpGains"); err != nil {
		return caps, err
	}
	for i := 0; i < int(ngain); i++ {
		var g C.float
		if err := sdk.Errorf(uint(C.GetPreAmpGain(C.int(i), &g)), "GetPreAmpGain(%d)", i); err != nil {
			return caps, err
		}
		caps.Gains = append(caps.Gains, float64(g))
	}
	return caps, nil
}

// SetReadoutChannel selects the A/D channel and horizontal shift speed, and
// the fastest vertical shift speed which does not need a clock voltage
// change
func (s *SDK) SetReadoutChannel(channel, speed int) error {
	if err := sdk.Errorf(uint(C.SetADChannel(C.int(channel))), "SetADChannel(%d)", channel); err != nil {
		return err
	}
	if err := sdk.Errorf(uint(C.SetHSSpeed(C.int(chanTypeEM), C.int(speed))), "SetHSSpeed(%d)", speed); err != nil {
		return err
	}
	var idx C.int
	var us C.float
	if err := sdk.Errorf(uint(C.GetFastestRecommendedVSSpeed(&idx, &us)), "GetFastestRecommendedVSSpeed"); err != nil {
		return err
	}
	return sdk.Errorf(uint(C.SetVSSpeed(idx)), "SetVSSpeed(%d)", int(idx))
}

// SetPreAmpGain selects a pre-amplifier gain by index
func (s *SDK) SetPreAmpGain(idx int) error {
	return sdk.Errorf(uint(C.SetPreAmpGain(C.int(idx))), "SetPreAmpGain(%d)", idx)
}

// SetImage controls AoI and binning
func (s *SDK) SetImage(hbin, vbin, hstart, hend, vstart, vend int) error {
	errCode := uint(C.SetImage(C.int(hbin), C.int(vbin), C.int(hstart), C.int(hend), C.int(vstart), C.int(vend)))
	return sdk.Errorf(errCode, "SetImage")
}

// SetExposureTime requests an exposure time
func (s *SDK) SetExposureTime(t time.Duration) error {
	return sdk.Errorf(uint(C.SetExposureTime(C.float(t.Seconds()))), "SetExposureTime")
}

// SetAcquisitionMode sets the acquisition mode
func (s *SDK) SetAcquisitionMode(m sdk.AcquisitionMode) error {
	return sdk.Errorf(uint(C.SetAcquisitionMode(C.int(m))), "SetAcquisitionMode(%v)", m)
}

// SetKineticCycleTime sets the kinetic cycle time
func (s *SDK) SetKineticCycleTime(t time.Duration) error {
	return sdk.Errorf(uint(C.SetKineticCycleTime(C.float(t.Seconds()))), "SetKineticCycleTime")
}

// AcquisitionTimings returns the timings the camera will use
func (s *SDK) AcquisitionTimings() (sdk.AcquisitionTimings, error) {
	var exp, acc, kin C.float
	errCode := uint(C.GetAcquisitionTimings(&exp, &acc, &kin))
	return sdk.AcquisitionTimings{
		Exposure:     float64(exp),
		Accumulation: float64(acc),
		Kinetic:      float64(kin),
	}, sdk.Errorf(errCode, "GetAcquisitionTimings")
}

// StartAcquisition starts an acquisition
func (s *SDK) StartAcquisition() error {
	return sdk.Errorf(uint(C.StartAcquisition()), "StartAcquisition")
}

// AbortAcquisition aborts the acquisition in progress
func (s *SDK) AbortAcquisition() error {
	return sdk.Errorf(uint(C.AbortAcquisition()), "AbortAcquisition")
}

// WaitForAcquisition blocks until a frame is ready, the timeout elapses or
// CancelWait is called
func (s *SDK) WaitForAcquisition(timeout time.Duration) error {
	errCode := uint(C.WaitForAcquisitionTimeOut(C.int(millis(timeout))))
	return sdk.Errorf(errCode, "WaitForAcquisitionTimeOut")
}

// CancelWait releases a WaitForAcquisition in progress
func (s *SDK) CancelWait() error {
	return sdk.Errorf(uint(C.CancelWait()), "CancelWait")
}

// MostRecentImage16 copies the newest frame into buf, which must hold
// exactly one frame
func (s *SDK) MostRecentImage16(buf []uint16) error {
	if len(buf) == 0 {
		return sdk.Errorf(uint(sdk.DRVP2Invalid), "GetMostRecentImage16")
	}
	ptr := (*C.WORD)(unsafe.Pointer(&buf[0]))
	errCode := uint(C.GetMostRecentImage16(ptr, C.at_u32(len(buf))))
	return sdk.Errorf(errCode, "GetMostRecentImage16")
}

// Temperature returns the sensor temperature in Celsius.  The error is the
// thermal status code, see sdk.BeneignThermal
func (s *SDK) Temperature() (int, error) {
	var t C.int
	errCode := uint(C.GetTemperature(&t))
	return int(t), sdk.Error(errCode)
}

// SetTemperature sets the cooler set-point in Celsius
func (s *SDK) SetTemperature(celsius int) error {
	errCode := uint(C.SetTemperature(C.int(celsius)))
	return sdk.Errorf(errCode, "SetTemperature(%d)", celsius)
}

// SetCooling turns the cooler on or off
func (s *SDK) SetCooling(on bool) error {
	if on {
		return sdk.Errorf(uint(C.CoolerON()), "CoolerON")
	}
	return sdk.Errorf(uint(C.CoolerOFF()), "CoolerOFF")
}

// SetFanMode sets the head fan speed
func (s *SDK) SetFanMode(m sdk.FanMode) error {
	errCode := uint(C.SetFanMode(C.int(m)))
	return sdk.Errorf(errCode, "SetFanMode(%s)", m)
}

// Status returns the acquisition status
func (s *SDK) Status() (sdk.Status, error) {
	var st C.int
	errCode := uint(C.GetStatus(&st))
	return sdk.Status(st), sdk.Errorf(errCode, "GetStatus")
}

var _ sdk.SDK = (*SDK)(nil)
