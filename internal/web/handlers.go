package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
	"github.com/cjeanneret/GuideGo/internal/logic/guiding"
	"github.com/cjeanneret/GuideGo/internal/logic/state"
)

// maxBodyBytes bounds the size of request bodies.
const maxBodyBytes = 1 << 20

// Guider is the part of guiding.Guider the HTTP surface drives.
type Guider interface {
	State() state.State
	Descriptor() guiding.Descriptor
	Calibration() *calibration.Calibration
	Summary() guiding.TrackingSummary
	LastAction() string
	StartCalibrating(focalLength, pixelSize float64) error
	StartGuiding(interval time.Duration) error
	StopGuiding() error
	Cancel() error
}

// FormConfig holds default values for the control form (from config).
type FormConfig struct {
	FocalLengthMm float64 `json:"focal_length_mm"`
	PixelSizeUm   float64 `json:"pixel_size_um"`
	IntervalS     float64 `json:"interval_s"`
}

// CalibrateRequest is the body of POST /calibrate. Zero fields take the
// form defaults.
type CalibrateRequest struct {
	FocalLengthMm float64 `json:"focal_length_mm"`
	PixelSizeUm   float64 `json:"pixel_size_um"`
}

// GuideRequest is the body of POST /guide. A zero interval takes the
// form default.
type GuideRequest struct {
	IntervalS float64 `json:"interval_s"`
}

// Status is the body of GET /status.
type Status struct {
	State       state.State              `json:"state"`
	Guider      string                   `json:"guider"`
	Calibration *calibration.Calibration `json:"calibration,omitempty"`
	Summary     guiding.TrackingSummary  `json:"summary"`
	LastAction  string                   `json:"last_action"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Guider       Guider
	Broadcaster  *StatusBroadcaster
	Hub          *Hub
	FormDefaults FormConfig
	staticFS     fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If guider is nil, the control endpoints return 503 Service Unavailable.
func NewHandlers(guider Guider, broadcaster *StatusBroadcaster, hub *Hub, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Guider:       guider,
		Broadcaster:  broadcaster,
		Hub:          hub,
		FormDefaults: formDefaults,
		staticFS:     staticFS,
	}
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// ValidateCalibrate checks the optics of a calibration request.
func ValidateCalibrate(req CalibrateRequest) error {
	if !finitePositive(req.FocalLengthMm) || req.FocalLengthMm > 20000 {
		return fmt.Errorf("focal_length_mm must be between 0 and 20000, got %g", req.FocalLengthMm)
	}
	if !finitePositive(req.PixelSizeUm) || req.PixelSizeUm > 100 {
		return fmt.Errorf("pixel_size_um must be between 0 and 100, got %g", req.PixelSizeUm)
	}
	return nil
}

// ValidateGuide checks the interval of a guiding request.
func ValidateGuide(req GuideRequest) error {
	if !finitePositive(req.IntervalS) || req.IntervalS < guiding.MinInterval.Seconds() || req.IntervalS > 3600 {
		return fmt.Errorf("interval_s must be between %g and 3600, got %g", guiding.MinInterval.Seconds(), req.IntervalS)
	}
	return nil
}

// statusCode maps guider errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, guideerr.ErrBadState):
		return http.StatusConflict
	case errors.Is(err, guideerr.ErrBadParameter):
		return http.StatusBadRequest
	case errors.Is(err, guideerr.ErrNoCalibration):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error(fmt.Errorf("web: encode response: %w", err))
	}
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func post(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// control runs a guider operation and reports its outcome.
func (h *Handlers) control(w http.ResponseWriter, status string, op func() error) {
	if h.Guider == nil {
		http.Error(w, "guider not configured", http.StatusServiceUnavailable)
		return
	}
	if err := op(); err != nil {
		http.Error(w, err.Error(), statusCode(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// HandleStatus returns the guider state as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Guider == nil {
		http.Error(w, "guider not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, Status{
		State:       h.Guider.State(),
		Guider:      h.Guider.Descriptor().String(),
		Calibration: h.Guider.Calibration(),
		Summary:     h.Guider.Summary(),
		LastAction:  h.Guider.LastAction(),
	})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCalibrate handles POST /calibrate to start a calibration.
func (h *Handlers) HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	if !post(w, r) {
		return
	}
	var req CalibrateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FocalLengthMm == 0 {
		req.FocalLengthMm = h.FormDefaults.FocalLengthMm
	}
	if req.PixelSizeUm == 0 {
		req.PixelSizeUm = h.FormDefaults.PixelSizeUm
	}
	if err := ValidateCalibrate(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.control(w, "calibrating", func() error {
		return h.Guider.StartCalibrating(req.FocalLengthMm/1000, req.PixelSizeUm*1e-6)
	})
}

// HandleGuide handles POST /guide to start guiding.
func (h *Handlers) HandleGuide(w http.ResponseWriter, r *http.Request) {
	if !post(w, r) {
		return
	}
	var req GuideRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IntervalS == 0 {
		req.IntervalS = h.FormDefaults.IntervalS
	}
	if err := ValidateGuide(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	interval := time.Duration(req.IntervalS * float64(time.Second))
	h.control(w, "guiding", func() error {
		return h.Guider.StartGuiding(interval)
	})
}

// HandleStop handles POST /stop to end guiding.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !post(w, r) {
		return
	}
	h.control(w, "stopped", func() error {
		return h.Guider.StopGuiding()
	})
}

// HandleCancel handles POST /cancel to abort any running activity.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if !post(w, r) {
		return
	}
	h.control(w, "cancelled", func() error {
		return h.Guider.Cancel()
	})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
