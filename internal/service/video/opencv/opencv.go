// Package opencv implements the video capability with gocv.
package opencv

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video"
)

var backends = map[string]gocv.VideoCaptureAPI{
	model.BackendDefault:   gocv.VideoCaptureAny,
	model.BackendAny:       gocv.VideoCaptureAny,
	model.BackendDShow:     gocv.VideoCaptureDshow,
	model.BackendMSMF:      gocv.VideoCaptureMSMF,
	model.BackendV4L2:      gocv.VideoCaptureV4l2,
	model.BackendFFmpeg:    gocv.VideoCaptureFFmpeg,
	model.BackendGStreamer: gocv.VideoCaptureGstreamer,
}

// Opener opens local devices and network streams through OpenCV.
type Opener struct{}

func NewOpener() *Opener {
	return &Opener{}
}

func (o *Opener) Open(desc model.SourceDescriptor) (video.Handle, error) {
	api, ok := backends[desc.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported backend %q", desc.Backend)
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if desc.Kind == model.LocalIndex {
		capture, err = gocv.VideoCaptureDeviceWithAPI(desc.Index, api)
	} else {
		capture, err = gocv.VideoCaptureFileWithAPI(desc.URL, api)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", desc, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open %s: device not opened", desc)
	}

	h := &handle{capture: capture, frame: gocv.NewMat()}
	if desc.Kind == model.StreamURL {
		// Keep the transport buffer short so reads return the newest frame.
		capture.Set(gocv.VideoCaptureBufferSize, 1)
	}
	return h, nil
}

type handle struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	mu      sync.Mutex
	closed  bool
}

func (h *handle) Configure(hints video.Hints) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if hints.Width > 0 {
		h.capture.Set(gocv.VideoCaptureFrameWidth, float64(hints.Width))
	}
	if hints.Height > 0 {
		h.capture.Set(gocv.VideoCaptureFrameHeight, float64(hints.Height))
	}
	if hints.FPS > 0 {
		h.capture.Set(gocv.VideoCaptureFPS, float64(hints.FPS))
	}
	if hints.BufferSize > 0 {
		h.capture.Set(gocv.VideoCaptureBufferSize, float64(hints.BufferSize))
	}
}

// Read grabs the next frame into the reusable buffer and returns a clone owned by the caller.
func (h *handle) Read() (model.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("read on released capture")
	}
	if ok := h.capture.Read(&h.frame); !ok {
		return nil, fmt.Errorf("capture read failed")
	}
	if h.frame.Empty() {
		return nil, video.ErrEmptyFrame
	}
	return &Image{mat: h.frame.Clone()}, nil
}

func (h *handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.frame.Close()
	return h.capture.Close()
}

// Image wraps a gocv.Mat.
type Image struct {
	mat gocv.Mat
}

// NewImage takes ownership of mat.
func NewImage(mat gocv.Mat) *Image {
	return &Image{mat: mat}
}

func (i *Image) Clone() model.Image {
	return &Image{mat: i.mat.Clone()}
}

func (i *Image) Empty() bool {
	return i.mat.Empty()
}

func (i *Image) Close() error {
	return i.mat.Close()
}

// Mat exposes the underlying matrix without transferring ownership.
func (i *Image) Mat() gocv.Mat {
	return i.mat
}
