package web

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/GuideGo/internal/logic/guiding"
)

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	evt := StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Publish implements guiding.Sink. Tracking points go to the websocket
// feed instead and are not repeated here.
func (b *StatusBroadcaster) Publish(e guiding.Event) {
	switch e := e.(type) {
	case guiding.CalibrationPoint:
		b.Broadcast("live", fmt.Sprintf("Calibration point RA %.2fs DEC %.2fs: %v", e.Point.RA, e.Point.DEC, e.Point.Offset))
	case guiding.BacklashPoint:
		b.Broadcast("live", fmt.Sprintf("Backlash step %d (%v): %v", e.Point.ID, e.Point.Phase, e.Point.Offset))
	case guiding.ProgressUpdate:
		if e.Aborted {
			b.Broadcast("warn", fmt.Sprintf("%s cancelled", e.Activity))
			return
		}
		b.Broadcast("progress", fmt.Sprintf("%s %.0f%%", e.Activity, 100*e.Fraction))
	case guiding.Complete:
		switch {
		case e.Calibration != nil:
			b.Broadcast("info", fmt.Sprintf("Calibration complete: %v", e.Calibration))
		case e.Backlash != nil:
			b.Broadcast("info", fmt.Sprintf("Backlash complete: %v", e.Backlash))
		default:
			b.Broadcast("info", fmt.Sprintf("%s complete", e.Activity))
		}
	case guiding.Failed:
		b.Broadcast("error", fmt.Sprintf("%s failed: %v", e.Activity, e.Err))
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
