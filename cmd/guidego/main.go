package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/soniakeys/exit"

	"github.com/cjeanneret/GuideGo/internal/config"
	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/hw/gpio"
	"github.com/cjeanneret/GuideGo/internal/hw/guideport"
	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/control"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/logic/guiding"
	"github.com/cjeanneret/GuideGo/internal/logic/tracker"
	"github.com/cjeanneret/GuideGo/internal/sim"
	"github.com/cjeanneret/GuideGo/internal/store"
	"github.com/cjeanneret/GuideGo/internal/web"
)

// Overrides holds command line values that replace config defaults.
// Zero means "use the config value".
type Overrides struct {
	FocalLengthMm float64
	PixelSizeUm   float64
	IntervalS     float64
}

func main() {
	defer exit.Handler()

	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	calPath := flag.String("calibration", "", "load the calibration from this YAML file instead of the store")
	calibrate := flag.Bool("calibrate", false, "calibrate even if a calibration is available")
	guideFor := flag.Duration("guide", 0, "guide for this long; 0 guides until interrupted")
	backlashAxis := flag.String("backlash", "", "measure the backlash of axis ra or dec instead of guiding")
	focalLengthMm := flag.Float64("focal_length_mm", 0, "override focal length in mm")
	pixelSizeUm := flag.Float64("pixel_size_um", 0, "override pixel size in µm")
	intervalS := flag.Float64("interval_s", 0, "override guiding interval in seconds")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		exit.Log(err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		exit.Log(fmt.Errorf("load config failed: %w", err))
	}

	overrides := Overrides{FocalLengthMm: *focalLengthMm, PixelSizeUm: *pixelSizeUm, IntervalS: *intervalS}
	if err := validateCLIOverrides(overrides); err != nil {
		exit.Log(fmt.Errorf("invalid CLI override: %w", err))
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Initializing guide port and camera")
	r, err := newRig(cfg)
	if err != nil {
		exit.Log(fmt.Errorf("init hardware failed: %w", err))
	}
	defer r.Close()
	debug.PrintStruct("Guide port config", cfg.GuidePort)

	debug.Step(2, "Opening store")
	st, err := newStore(ctx, cfg.Store)
	if err != nil {
		exit.Log(fmt.Errorf("open store failed: %w", err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			debug.Error(err)
		}
	}()
	debug.Value("Store", cfg.Store.Type)

	debug.Step(3, "Creating guider")
	g, err := newGuider(cfg, r, st)
	if err != nil {
		exit.Log(err)
	}
	defer g.Close()
	if err := loadCalibration(ctx, g, st, *calPath); err != nil {
		exit.Log(err)
	}

	if port := webPort.port(); port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		hub := web.NewHub()
		g.Subscribe(broadcaster)
		g.Subscribe(hub)
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		formDefaults := web.FormConfig{
			FocalLengthMm: cfg.Lens.FocalLengthMm,
			PixelSizeUm:   cfg.Sensor.PixelSizeUm,
			IntervalS:     cfg.Interval().Seconds(),
		}
		srv := web.NewServer(fmt.Sprintf(":%d", port), g, broadcaster, hub, formDefaults)
		if err := srv.Run(ctx); err != nil {
			exit.Log(fmt.Errorf("web server: %w", err))
		}
		return
	}

	g.Subscribe(guiding.SinkFunc(logEvent))
	if err := runCLI(ctx, g, cfg, *calibrate, *guideFor, *backlashAxis); err != nil && !errors.Is(err, context.Canceled) {
		exit.Log(err)
	}
}

// runCLI calibrates when needed, then measures backlash or guides.
func runCLI(ctx context.Context, g *guiding.Guider, cfg *config.Config, calibrate bool, guideFor time.Duration, axis string) error {
	if calibrate || !g.Calibration().Usable() {
		debug.Section("Calibration")
		if err := g.StartCalibrating(cfg.FocalLength(), cfg.PixelSize()); err != nil {
			return err
		}
		if err := waitGuider(ctx, g); err != nil {
			return fmt.Errorf("calibration: %w", err)
		}
		if !g.Calibration().Usable() {
			return fmt.Errorf("calibration did not complete: %w", guideerr.ErrCalibrationFailed)
		}
	}

	if axis != "" {
		a, err := backlash.ParseAxis(axis)
		if err != nil {
			return err
		}
		debug.Section("Backlash")
		if err := g.StartBacklash(a, 0, 0); err != nil {
			return err
		}
		return waitGuider(ctx, g)
	}

	debug.Section("Guiding")
	if err := g.StartGuiding(cfg.Interval()); err != nil {
		return err
	}
	if guideFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, guideFor)
		defer cancel()
	}
	<-ctx.Done()
	if err := g.StopGuiding(); err != nil && !errors.Is(err, guideerr.ErrBadState) {
		return err
	}
	s := g.Summary()
	debug.Summary(fmt.Sprintf("Guided %d cycles, RMS %.3f px (x %.3f, y %.3f)", s.Count, s.RMS, s.RMSX, s.RMSY))
	return g.Err()
}

// waitGuider waits for the running activity and cancels it when ctx is done.
func waitGuider(ctx context.Context, g *guiding.Guider) error {
	for !g.Wait(100 * time.Millisecond) {
		if ctx.Err() != nil {
			if err := g.Cancel(); err != nil && !errors.Is(err, guideerr.ErrBadState) {
				return err
			}
			return ctx.Err()
		}
	}
	return g.Err()
}

func logEvent(e guiding.Event) {
	switch e := e.(type) {
	case guiding.ProgressUpdate:
		if e.Aborted {
			debug.Info("%s cancelled", e.Activity)
			return
		}
		debug.Progress(string(e.Activity), e.Fraction)
	case guiding.Complete:
		switch {
		case e.Calibration != nil:
			debug.Summary(fmt.Sprintf("Calibration %v, quality %.2f", e.Calibration, e.Calibration.Quality()))
		case e.Backlash != nil:
			debug.Summary(e.Backlash.String())
		}
	case guiding.Failed:
		debug.Error(fmt.Errorf("%s failed: %w", e.Activity, e.Err))
	}
}

// rig is the guide camera and guide port in use.
type rig struct {
	camera  camera.Camera
	port    guideport.GuidePort
	closers []io.Closer
}

func (r *rig) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			debug.Error(err)
		}
	}
}

// newRig builds the camera and guide port selected by the config. The
// simulated camera watches a simulated mount; with a sim guide port the
// mount responds to the guide pulses.
func newRig(cfg *config.Config) (*rig, error) {
	sc := sim.DefaultConfig()
	if cfg.Camera.WidthPx > 0 {
		sc.Width = cfg.Camera.WidthPx
	}
	if cfg.Camera.HeightPx > 0 {
		sc.Height = cfg.Camera.HeightPx
	}
	mount := sim.NewMount(sc)
	r := &rig{camera: mount}

	switch cfg.GuidePort.Type {
	case config.GuidePortSim:
		r.port = mount
	case config.GuidePortGPIO:
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		drv, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return nil, fmt.Errorf("init GPIO: %w", err)
		}
		r.closers = append(r.closers, drv)
		port, err := guideport.NewGPIOPort(drv, guideport.GPIOConfig{
			RAPlusPin:   cfg.GuidePort.RAPlusPin,
			RAMinusPin:  cfg.GuidePort.RAMinusPin,
			DECPlusPin:  cfg.GuidePort.DECPlusPin,
			DECMinusPin: cfg.GuidePort.DECMinusPin,
			ActiveLow:   cfg.GuidePort.ActiveLow,
		})
		if err != nil {
			r.Close()
			return nil, err
		}
		r.port = port
		r.closers = append(r.closers, port)
	case config.GuidePortSerial:
		port, err := guideport.OpenSerial(cfg.GuidePort.SerialDevice, cfg.GuidePort.Baud)
		if err != nil {
			return nil, err
		}
		r.port = port
		r.closers = append(r.closers, port)
	default:
		return nil, fmt.Errorf("unsupported guide port type: %s", cfg.GuidePort.Type)
	}
	return r, nil
}

// newStore opens the stores listed in the config. Several stores are
// combined so that every record goes to each of them.
func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var stores store.Multi
	for _, t := range cfg.Types() {
		var s store.Store
		var err error
		switch t {
		case config.StoreMemory:
			s = store.NewMemoryStore()
		case config.StoreFile:
			s, err = store.NewFileStore(cfg.Dir)
		case config.StoreRedis:
			s, err = store.NewRedisStore(ctx, store.RedisOptions{
				Enabled:  true,
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Prefix:   cfg.Redis.Prefix,
			})
		default:
			err = fmt.Errorf("unsupported store type: %s", t)
		}
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores = append(stores, s)
	}
	if len(stores) == 1 {
		return stores[0], nil
	}
	return stores, nil
}

// newControllerFactory returns the controller selected by the config.
func newControllerFactory(cfg config.GuidingConfig) guiding.ControllerFactory {
	return func(interval time.Duration) (control.Controller, error) {
		if cfg.Controller != config.ControllerOptimal {
			return control.NewGainController(cfg.GainRA, cfg.GainDEC)
		}
		c, err := control.NewOptimalController(cfg.GainRA, cfg.GainDEC, interval)
		if err != nil {
			return nil, err
		}
		if cfg.MeasurementError > 0 {
			if err := c.SetMeasurementError(cfg.MeasurementError); err != nil {
				return nil, err
			}
		}
		if cfg.SystemError > 0 {
			if err := c.SetSystemError(cfg.SystemError); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
}

func newGuider(cfg *config.Config, r *rig, st store.Store) (*guiding.Guider, error) {
	tf, err := tracker.NewFactory(cfg.Guiding.Tracker, tracker.Options{
		Window:    cfg.Guiding.TrackerWindow,
		Threshold: cfg.Guiding.TrackerThreshold,
		MinPSR:    cfg.Guiding.TrackerMinPSR,
	})
	if err != nil {
		return nil, err
	}
	var grid geometry.GridConstant = geometry.DefaultGridConstant{GuideRate: cfg.Guiding.GuideRate}
	if cfg.Guiding.GridConstantS > 0 {
		grid = geometry.FixedGridConstant(cfg.Guiding.GridConstantS)
	}
	g := guiding.NewGuider(guiding.Config{
		Descriptor:       guiding.Descriptor{Camera: cfg.Camera.Type, GuidePort: cfg.GuidePort.Type},
		Camera:           r.camera,
		Port:             r.port,
		Store:            st,
		Exposure:         cfg.Exposure(),
		Grid:             grid,
		CalibrationRange: cfg.Guiding.CalibrationRange,
		Settle:           cfg.Settle(),
		MaxResidual:      cfg.Guiding.MaxResidual,
		HistorySize:      cfg.Guiding.HistorySize,
		BacklashLast:     cfg.Guiding.BacklashLast,
		Tracker:          tf,
		Controller:       newControllerFactory(cfg.Guiding),
	})
	if err := g.Configure(); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// loadCalibration installs the calibration from path, or the latest one
// in the store when path is empty. A store without calibration is fine.
func loadCalibration(ctx context.Context, g *guiding.Guider, st store.Store, path string) error {
	if path != "" {
		c, err := store.LoadCalibrationFile(path)
		if err != nil {
			return fmt.Errorf("load calibration: %w", err)
		}
		return g.UseCalibration(c)
	}
	c, err := st.LoadCalibration(ctx, g.Descriptor().String())
	if errors.Is(err, guideerr.ErrNoCalibration) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}
	debug.Info("Using stored calibration %s", c.ID)
	return g.UseCalibration(c)
}

func checkRange(name string, v, max float64) error {
	if v == 0 {
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v > max {
		return fmt.Errorf("%s must be between 0 and %g, got %g", name, max, v)
	}
	return nil
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(o Overrides) error {
	if err := checkRange("focal_length_mm", o.FocalLengthMm, 20000); err != nil {
		return err
	}
	if err := checkRange("pixel_size_um", o.PixelSizeUm, 100); err != nil {
		return err
	}
	if err := checkRange("interval_s", o.IntervalS, 3600); err != nil {
		return err
	}
	if o.IntervalS != 0 && o.IntervalS < guiding.MinInterval.Seconds() {
		return fmt.Errorf("interval_s must be at least %g, got %g", guiding.MinInterval.Seconds(), o.IntervalS)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o Overrides) {
	if o.FocalLengthMm > 0 {
		cfg.Lens.FocalLengthMm = o.FocalLengthMm
	}
	if o.PixelSizeUm > 0 {
		cfg.Sensor.PixelSizeUm = o.PixelSizeUm
	}
	if o.IntervalS > 0 {
		cfg.Guiding.IntervalMs = int(math.Round(o.IntervalS * 1000))
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
