// Package video describes the capture device capability the pipeline consumes.
// The OpenCV-backed implementation lives in video/opencv.
package video

import (
	"errors"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
)

// ErrEmptyFrame is returned when a read succeeds but yields no pixels.
var ErrEmptyFrame = errors.New("empty frame")

// Hints are best-effort capture properties. Zero values are left untouched.
type Hints struct {
	Width      int
	Height     int
	FPS        int
	BufferSize int
}

// Handle is an opened video source.
type Handle interface {
	Configure(h Hints)
	// Read returns the freshest frame. The caller owns and must Close it.
	Read() (model.Image, error)
	Release() error
}

// Opener opens a source described by desc.
type Opener interface {
	Open(desc model.SourceDescriptor) (Handle, error)
}

// Encoder turns a frame into JPEG bytes.
type Encoder interface {
	EncodeJPEG(img model.Image) ([]byte, error)
}
