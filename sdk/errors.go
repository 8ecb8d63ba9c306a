package sdk

import (
	"errors"
	"fmt"
)

var (
	// ErrNoNewData is matched by errors which mean the wait for a frame ended
	// without one, either through timeout or CancelWait
	ErrNoNewData = errors.New("no new data")

	// ErrDeviceNotFound is matched by errors which mean the camera index does
	// not refer to an attached camera
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceBusy is matched by errors which mean the camera is already
	// claimed, by this process or another one
	ErrDeviceBusy = errors.New("device busy")

	// ErrDeviceLost is matched by errors which mean the camera disappeared and
	// has not (yet) been reinitialized
	ErrDeviceLost = errors.New("device lost")

	// ErrNotSupported is matched by errors which mean the camera lacks the
	// feature
	ErrNotSupported = errors.New("not supported")
)

// DRVError is a driver return code and has nice formatting
type DRVError uint

// the codes the rest of the module cares about by name
const (
	DRVErrorAck         DRVError = 20013
	DRVSuccess          DRVError = 20002
	DRVNoNewData        DRVError = 20024
	DRVTempNotSupported DRVError = 20039
	DRVP1Invalid        DRVError = 20066
	DRVP2Invalid        DRVError = 20067
	DRVP3Invalid        DRVError = 20068
	DRVAcquiring        DRVError = 20072
	DRVIdle             DRVError = 20073
	DRVNotInitialized   DRVError = 20075
	DRVInvalidMode      DRVError = 20078
	DRVNotSupported     DRVError = 20991
	DRVErrorNoCamera    DRVError = 20990
	DRVNotAvailable     DRVError = 20992
	DRVErrorNoHandle    DRVError = 20121
)

// ErrCodes is a map of error codes to their string values
var ErrCodes = map[DRVError]string{
	20001: "DRV_ERROR_CODES",
	20002: "DRV_SUCCESS",
	20003: "DRV_VXD_NOT_INSTALLED",
	20004: "DRV_ERROR_SCAN",
	20006: "DRV_ERROR_FILELOAD",
	20007: "DRV_UNKNOWN_FUNCTION",
	20013: "DRV_ERROR_ACK",
	20017: "DRV_ACQUISITION_ERRORS",
	20018: "DRV_ACQ_BUFFER",
	20019: "DRV_ACQ_DOWNFIFO_FULL",
	20022: "DRV_KINETIC_TIME_NOT_MET",
	20023: "DRV_ACCUM_TIME_NOT_MET",
	20024: "DRV_NO_NEW_DATA",
	20026: "DRV_SPOOLERROR",
	20034: "DRV_TEMPERATURE_OFF",
	20035: "DRV_TEMPERATURE_NOT_STABILIZED",
	20036: "DRV_TEMPERATURE_STABILIZED",
	20037: "DRV_TEMPERATURE_NOT_REACHED",
	20038: "DRV_TEMPERATURE_OUT_RANGE",
	20039: "DRV_TEMPERATURE_NOT_SUPPORTED",
	20040: "DRV_TEMPERATURE_DRIFT",
	20066: "DRV_P1INVALID",
	20067: "DRV_P2INVALID",
	20068: "DRV_P3INVALID",
	20069: "DRV_P4INVALID",
	20070: "DRV_INIERROR",
	20072: "DRV_ACQUIRING",
	20073: "DRV_IDLE",
	20074: "DRV_TEMPCYCLE",
	20075: "DRV_NOT_INITIALIZED",
	20076: "DRV_P5INVALID",
	20077: "DRV_P6INVALID",
	20078: "DRV_INVALID_MODE",
	20089: "DRV_USBERROR",
	20091: "DRV_NOT_SUPPORTED",
	20099: "DRV_BINNING_ERROR",
	20121: "DRV_ERROR_NOHANDLE",
	20990: "DRV_ERROR_NOCAMERA",
	20991: "DRV_NOT_SUPPORTED",
	20992: "DRV_NOT_AVAILABLE",
}

// BeneignErrorCodes is sequence of error codes which mean
// the status is normal
var BeneignErrorCodes = []DRVError{
	DRVSuccess,
	DRVIdle,
}

func (e DRVError) Error() string {
	if s, ok := ErrCodes[e]; ok {
		return fmt.Sprintf("%d - %s", e, s)
	}
	return fmt.Sprintf("%v - UNKNOWN_ERROR_CODE", uint(e))
}

// HardwareError is a non-benign driver return code, with an optional message
// describing what was being done when it was produced
type HardwareError struct {
	Code    DRVError
	Message string
}

func (e *HardwareError) Error() string {
	if e.Message == "" {
		return e.Code.Error()
	}
	return e.Message + ": " + e.Code.Error()
}

// Unwrap returns the driver code
func (e *HardwareError) Unwrap() error {
	return e.Code
}

// Is maps driver codes onto the error kinds of this package
func (e *HardwareError) Is(target error) bool {
	switch target {
	case ErrNoNewData:
		return e.Code == DRVNoNewData
	case ErrDeviceNotFound:
		return e.Code == DRVErrorNoCamera || e.Code == DRVErrorNoHandle
	case ErrDeviceBusy:
		return e.Code == DRVNotAvailable
	case ErrNotSupported:
		return e.Code == DRVNotSupported || e.Code == DRVTempNotSupported
	}
	return false
}

// Error returns nil if the error code is beneign, otherwise returns
// a *HardwareError which prints the error code and string value
func Error(code uint) error {
	for _, c := range BeneignErrorCodes {
		if DRVError(code) == c {
			return nil
		}
	}
	return &HardwareError{Code: DRVError(code)}
}

// Errorf is Error with a message attached
func Errorf(code uint, format string, args ...interface{}) error {
	err := Error(code)
	if err == nil {
		return nil
	}
	hw := err.(*HardwareError)
	hw.Message = fmt.Sprintf(format, args...)
	return hw
}

// BeneignThermal returns true if the status code is a beneign thermal one
func BeneignThermal(err error) bool {
	if err == nil {
		return true
	}
	var drv DRVError
	if errors.As(err, &drv) {
		return (20033 < drv) && (20041 > drv)
	}
	return false
}
