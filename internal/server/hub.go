package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/ayusman/pianovision/internal/app"
	"gocv.io/x/gocv"
)

// Surface names a published image stream.
type Surface string

// Published surfaces.
const (
	SurfaceFrame    Surface = "frame"
	SurfaceSkin     Surface = "skin"
	SurfaceKeyboard Surface = "keyboard"
)

// ParseSurface validates a surface name. An empty name selects the keyboard.
func ParseSurface(name string) (Surface, bool) {
	switch s := Surface(name); s {
	case "":
		return SurfaceKeyboard, true
	case SurfaceFrame, SurfaceSkin, SurfaceKeyboard:
		return s, true
	default:
		return "", false
	}
}

// subscriberBuffer is the number of coverage messages queued per client
// before new ones are dropped.
const subscriberBuffer = 16

// Hub holds the latest JPEG of every surface and fans coverage results out
// to subscribers. It implements app.Publisher.
type Hub struct {
	quality int

	mu      sync.Mutex
	seq     uint64
	images  map[Surface][]byte
	result  app.FrameResult
	frames  int
	changed chan struct{}
	subs    map[chan []byte]struct{}
}

// NewHub creates a Hub encoding JPEGs at the given quality.
func NewHub(quality int) *Hub {
	if quality < 1 || quality > 100 {
		quality = 80
	}
	return &Hub{
		quality: quality,
		images:  make(map[Surface][]byte),
		changed: make(chan struct{}),
		subs:    make(map[chan []byte]struct{}),
	}
}

// Publish encodes the surfaces and notifies waiting streams and coverage
// subscribers.
func (h *Hub) Publish(result app.FrameResult, s app.Surfaces) {
	images := make(map[Surface][]byte, 3)
	for name, m := range map[Surface]gocv.Mat{SurfaceFrame: s.Frame, SurfaceSkin: s.Skin, SurfaceKeyboard: s.Keyboard} {
		if m.Empty() {
			continue
		}
		buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{int(gocv.IMWriteJpegQuality), h.quality})
		if err != nil {
			log.Printf("Failed to encode %s surface: %v", name, err)
			continue
		}
		images[name] = append([]byte(nil), buf.GetBytes()...)
		buf.Close()
	}

	msg, err := json.Marshal(result)
	if err != nil {
		log.Printf("Failed to encode frame result: %v", err)
		msg = nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	h.frames++
	h.result = result
	for name, b := range images {
		h.images[name] = b
	}
	close(h.changed)
	h.changed = make(chan struct{})

	if msg == nil {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Latest returns the most recent JPEG of a surface and its sequence number.
func (h *Hub) Latest(surface Surface) ([]byte, uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.images[surface]
	return b, h.seq, ok
}

// Next blocks until a frame newer than after is available for surface and
// returns it with its sequence number.
func (h *Hub) Next(ctx context.Context, surface Surface, after uint64) ([]byte, uint64, error) {
	for {
		h.mu.Lock()
		b, ok := h.images[surface]
		seq, changed := h.seq, h.changed
		h.mu.Unlock()

		if ok && seq > after {
			return b, seq, nil
		}

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-changed:
		}
	}
}

// Result returns the most recent frame result.
func (h *Hub) Result() app.FrameResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Frames returns the number of frames published.
func (h *Hub) Frames() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

// Subscribe registers for JSON-encoded frame results. Messages are dropped
// while the channel is full. The returned func unsubscribes.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
