// Package videotest provides in-memory video sources for tests.
package videotest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video"
)

var ErrClosed = errors.New("videotest: handle released")

// Image is a byte-backed frame that records whether it was closed.
type Image struct {
	Data   []byte
	Blank  bool
	closed atomic.Bool
}

func NewImage(data string) *Image {
	return &Image{Data: []byte(data)}
}

func BlankImage() *Image {
	return &Image{Blank: true}
}

func (i *Image) Clone() model.Image {
	return &Image{Data: append([]byte(nil), i.Data...), Blank: i.Blank}
}

func (i *Image) Empty() bool { return i.Blank }

func (i *Image) Close() error {
	i.closed.Store(true)
	return nil
}

func (i *Image) Closed() bool { return i.closed.Load() }

// ReadFunc produces the n-th (1-based) read of a handle.
type ReadFunc func(n int) (model.Image, error)

// Handle is a scripted video.Handle.
type Handle struct {
	Desc     model.SourceDescriptor
	ReadFunc ReadFunc

	mu       sync.Mutex
	reads    int
	hints    []video.Hints
	released int
}

func (h *Handle) Configure(hints video.Hints) {
	h.mu.Lock()
	h.hints = append(h.hints, hints)
	h.mu.Unlock()
}

func (h *Handle) Read() (model.Image, error) {
	h.mu.Lock()
	if h.released > 0 {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.reads++
	n := h.reads
	h.mu.Unlock()

	if h.ReadFunc == nil {
		return NewImage("frame"), nil
	}
	return h.ReadFunc(n)
}

func (h *Handle) Release() error {
	h.mu.Lock()
	h.released++
	h.mu.Unlock()
	return nil
}

func (h *Handle) Reads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

func (h *Handle) Released() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Handle) Hints() []video.Hints {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]video.Hints(nil), h.hints...)
}

// Opener hands out scripted handles keyed by descriptor string.
type Opener struct {
	// Scripts maps SourceDescriptor.String() to the read script for that source.
	// Sources without a script fail to open.
	Scripts map[string]ReadFunc

	mu     sync.Mutex
	opened []*Handle
	events []string
}

func (o *Opener) Open(desc model.SourceDescriptor) (video.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.events = append(o.events, "open "+desc.String())
	script, ok := o.Scripts[desc.String()]
	if !ok {
		return nil, errors.New("videotest: no such device " + desc.String())
	}
	h := &Handle{Desc: desc, ReadFunc: script}
	o.opened = append(o.opened, h)
	return &trackedHandle{Handle: h, opener: o}, nil
}

// Opened returns every handle opened so far, in order.
func (o *Opener) Opened() []*Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Handle(nil), o.opened...)
}

// Events returns the open/release sequence as strings ("open 0", "release 0").
func (o *Opener) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type trackedHandle struct {
	*Handle
	opener *Opener
}

func (t *trackedHandle) Release() error {
	t.opener.mu.Lock()
	t.opener.events = append(t.opener.events, "release "+t.Desc.String())
	t.opener.mu.Unlock()
	return t.Handle.Release()
}

// Encoder returns the image bytes as the "JPEG".
type Encoder struct {
	Err error
}

func (e Encoder) EncodeJPEG(img model.Image) ([]byte, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	fake, ok := img.(*Image)
	if !ok {
		return nil, errors.New("videotest: foreign image")
	}
	return append([]byte(nil), fake.Data...), nil
}

// Frames returns a ReadFunc that always yields a fresh non-empty frame.
func Frames() ReadFunc {
	return func(int) (model.Image, error) { return NewImage("frame"), nil }
}

// FrameAfter returns a ReadFunc yielding empty frames until read n.
func FrameAfter(n int) ReadFunc {
	return func(i int) (model.Image, error) {
		if i < n {
			return BlankImage(), nil
		}
		return NewImage("frame"), nil
	}
}

// Never returns a ReadFunc that opens fine but never produces a frame.
func Never() ReadFunc {
	return func(int) (model.Image, error) { return nil, video.ErrEmptyFrame }
}

// FailAfter yields frames for n reads, then fails every read.
func FailAfter(n int) ReadFunc {
	return func(i int) (model.Image, error) {
		if i > n {
			return nil, errors.New("videotest: device unplugged")
		}
		return NewImage("frame"), nil
	}
}
