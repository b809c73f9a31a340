package streamsupervisor

import (
	"image"
	"sync"
	"time"
)

// Frame is one decoded picture delivered to a Surface.
//
// Pipeline backends fill Data with packed RGB (3 bytes per pixel); polled
// backends fill Img with whatever the image decoder produced. Data and Img
// MUST NOT be modified after Set.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	Img       image.Image
	// TraceID identifies the frame across logs.
	TraceID string
}

// Image returns the frame as an image.Image, converting packed RGB on demand.
func (f Frame) Image() image.Image {
	if f.Img != nil {
		return f.Img
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height*3 {
		return nil
	}
	rgba := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < f.Width*f.Height*3; i, j = i+3, j+4 {
		rgba.Pix[j] = f.Data[i]
		rgba.Pix[j+1] = f.Data[i+1]
		rgba.Pix[j+2] = f.Data[i+2]
		rgba.Pix[j+3] = 0xff
	}
	return rgba
}

// Surface is the renderable sink of a StreamManager: it always holds the
// latest frame only. A stopped manager leaves its last frame in place, which
// is what freezes the picture while a Supervisor is paused.
type Surface struct {
	mu     sync.RWMutex
	cond   *sync.Cond
	frame  *Frame
	seq    uint64
	closed bool
}

// NewSurface returns an empty surface.
func NewSurface() *Surface {
	s := &Surface{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Set replaces the latest frame. Returns false once the surface is closed.
func (s *Surface) Set(frame Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.frame = &frame
	s.seq++
	s.cond.Broadcast()
	return true
}

// Latest returns the most recent frame without blocking.
func (s *Surface) Latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.frame == nil {
		return Frame{}, false
	}
	return *s.frame, true
}

// Wait blocks until a frame newer than afterSeq is available or the surface
// is closed. It returns the frame and its surface sequence number.
func (s *Surface) Wait(afterSeq uint64) (Frame, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.seq <= afterSeq && !s.closed {
		s.cond.Wait()
	}
	if s.frame == nil || s.seq <= afterSeq {
		return Frame{}, s.seq, false
	}
	return *s.frame, s.seq, true
}

// Seq returns how many frames have been set so far.
func (s *Surface) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Close wakes all waiters and rejects further frames. The last frame stays
// readable through Latest.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cond.Broadcast()
}
