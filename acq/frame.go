package acq

import (
	"time"

	"github.com/nasa-jpl/camflow/camera"
)

// Metadata describes how a frame was acquired
type Metadata struct {
	// AcquiredAt is the time the wait for the frame began
	AcquiredAt time.Time `json:"acquiredAt"`

	// Exposure is the exposure time reported by the camera
	Exposure time.Duration `json:"exposure"`

	// Gain is the preamp gain
	Gain float64 `json:"gain"`

	// BitDepth is the dynamic range of the readout channel
	BitDepth int `json:"bitDepth"`

	// PixelReadout is the time to read out one super pixel
	PixelReadout time.Duration `json:"pixelReadout"`

	// ReadoutRate is the pixel readout rate in Hz
	ReadoutRate float64 `json:"readoutRate"`

	// Binning is the pixel binning
	Binning camera.Binning `json:"binning"`

	// Region is the AOI
	Region camera.Region `json:"region"`

	// Temperature is the most recent sensor temperature in Celsius
	Temperature float64 `json:"temperature"`
}

func metadataFrom(c Committed, at time.Time, temp float64) Metadata {
	return Metadata{
		AcquiredAt:   at,
		Exposure:     c.Exposure,
		Gain:         c.Settings.Gain,
		BitDepth:     c.BitDepth,
		PixelReadout: c.PixelReadout,
		ReadoutRate:  c.Settings.ReadoutRate,
		Binning:      c.Settings.Binning,
		Region:       c.Settings.Region,
		Temperature:  temp,
	}
}

// Frame is one image, row major, Width*Height pixels of 16 bits
type Frame struct {
	// Seq counts frames delivered by the engine since it was created
	Seq uint64

	Width, Height int
	Pix           []uint16
	Metadata      Metadata

	pool *BufferPool
}

// At returns the pixel at column x, row y
func (f *Frame) At(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// Clone returns a copy of f which owns its pixels.  Frames passed to a
// stream callback are only valid until it returns
func (f *Frame) Clone() *Frame {
	g := *f
	g.Pix = append([]uint16(nil), f.Pix...)
	g.pool = nil
	return &g
}

// release returns the pixel buffer to its pool
func (f *Frame) release() {
	if f.pool != nil {
		f.pool.Put(f.Pix)
		f.Pix = nil
		f.pool = nil
	}
}
