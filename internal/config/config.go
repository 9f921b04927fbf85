package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// Guide port types.
const (
	GuidePortGPIO   = "gpio"
	GuidePortSerial = "serial"
	GuidePortSim    = "sim"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Controller types.
const (
	ControllerGain    = "gain"
	ControllerOptimal = "optimal"
)

// GuidePortConfig selects and wires the guide port.
type GuidePortConfig struct {
	Type         string `yaml:"type"`          // gpio, serial or sim
	RAPlusPin    int    `yaml:"ra_plus_pin"`   // BCM pin numbers, gpio only
	RAMinusPin   int    `yaml:"ra_minus_pin"`
	DECPlusPin   int    `yaml:"dec_plus_pin"`
	DECMinusPin  int    `yaml:"dec_minus_pin"`
	ActiveLow    bool   `yaml:"active_low"`
	SerialDevice string `yaml:"serial_device"` // e.g. /dev/ttyUSB0, serial only
	Baud         int    `yaml:"baud"`
}

// CameraConfig describes the guide camera.
// Only the simulated camera is built in; it shares the sim guide port's mount.
type CameraConfig struct {
	Type       string `yaml:"type"`
	ExposureMs int    `yaml:"exposure_ms"`
	WidthPx    int    `yaml:"width_px"`
	HeightPx   int    `yaml:"height_px"`
}

// LensConfig describes the guide scope optics.
type LensConfig struct {
	Name          string  `yaml:"name"`
	FocalLengthMm float64 `yaml:"focal_length_mm"`
}

// SensorConfig describes the guide camera sensor.
type SensorConfig struct {
	PixelSizeUm float64 `yaml:"pixel_size_um"`
}

// GuidingConfig holds the parameters of calibration and the guiding loop.
type GuidingConfig struct {
	IntervalMs       int     `yaml:"interval_ms"`
	Controller       string  `yaml:"controller"` // gain or optimal
	GainRA           float64 `yaml:"gain_ra"`    // (0, 1]
	GainDEC          float64 `yaml:"gain_dec"`
	MeasurementError float64 `yaml:"measurement_error"` // px, optimal controller only
	SystemError      float64 `yaml:"system_error"`      // px per sqrt(s), optimal controller only
	GuideRate        float64 `yaml:"guide_rate"`        // fraction of sidereal rate
	GridConstantS    float64 `yaml:"grid_constant_s"`   // 0 derives it from the optics
	CalibrationRange int     `yaml:"calibration_range"`
	SettleMs         int     `yaml:"settle_ms"`
	MaxResidual      float64 `yaml:"max_residual_px"` // calibration fit, 0 disables the check
	Tracker          string  `yaml:"tracker"` // star or phase
	TrackerWindow    int     `yaml:"tracker_window"`
	TrackerThreshold float64 `yaml:"tracker_threshold"`
	TrackerMinPSR    float64 `yaml:"tracker_min_psr"`
	HistorySize      int     `yaml:"history_size"`
	BacklashLast     int     `yaml:"backlash_last_points"` // 0 analyses every backlash point
}

// RedisConfig describes the Redis connection of the redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StoreConfig selects where calibrations and tracking data are kept.
type StoreConfig struct {
	Type  string      `yaml:"type"` // memory, file or redis, comma separated
	Dir   string      `yaml:"dir"`  // file only
	Redis RedisConfig `yaml:"redis"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	GuidePort GuidePortConfig `yaml:"guideport"`
	Camera    CameraConfig    `yaml:"camera"`
	Lens      LensConfig      `yaml:"lens"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Guiding   GuidingConfig   `yaml:"guiding"`
	Store     StoreConfig     `yaml:"store"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files directly inside a directory
// named configs, and rejects paths containing "..".
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have the .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file %q must be in a configs directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := c.validateGuidePort(); err != nil {
		return err
	}

	if c.Camera.Type == "" {
		c.Camera.Type = "sim"
	}
	if c.Camera.Type != "sim" {
		return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
	}
	if c.Camera.ExposureMs < 0 {
		return fmt.Errorf("camera.exposure_ms must be >= 0, got %d", c.Camera.ExposureMs)
	}
	if c.Camera.ExposureMs == 0 {
		c.Camera.ExposureMs = 500
	}

	if c.Lens.FocalLengthMm <= 0 {
		return fmt.Errorf("lens.focal_length_mm must be > 0")
	}
	if c.Sensor.PixelSizeUm <= 0 {
		return fmt.Errorf("sensor.pixel_size_um must be > 0")
	}

	if err := c.validateGuiding(); err != nil {
		return err
	}
	return c.validateStore()
}

func (c *Config) validateGuidePort() error {
	p := &c.GuidePort
	switch p.Type {
	case GuidePortGPIO:
		pins := []int{p.RAPlusPin, p.RAMinusPin, p.DECPlusPin, p.DECMinusPin}
		seen := make(map[int]bool)
		for _, pin := range pins {
			if pin <= 0 {
				return fmt.Errorf("guideport pins must be > 0, got %v", pins)
			}
			if seen[pin] {
				return fmt.Errorf("guideport pin %d used twice", pin)
			}
			seen[pin] = true
		}
	case GuidePortSerial:
		if p.SerialDevice == "" {
			return fmt.Errorf("guideport.serial_device is required for a serial guide port")
		}
		if p.Baud <= 0 {
			p.Baud = 9600 // LX200 default
		}
	case GuidePortSim:
	case "":
		return fmt.Errorf("guideport.type is required")
	default:
		return fmt.Errorf("unsupported guide port type: %s", p.Type)
	}
	return nil
}

func (c *Config) validateGuiding() error {
	g := &c.Guiding
	if g.IntervalMs == 0 {
		g.IntervalMs = 1000
	}
	if g.IntervalMs < 100 {
		return fmt.Errorf("guiding.interval_ms must be >= 100, got %d", g.IntervalMs)
	}
	if g.Controller == "" {
		g.Controller = ControllerGain
	}
	if g.Controller != ControllerGain && g.Controller != ControllerOptimal {
		return fmt.Errorf("unsupported controller: %s", g.Controller)
	}
	if g.GainRA == 0 {
		g.GainRA = 1
	}
	if g.GainDEC == 0 {
		g.GainDEC = 1
	}
	if g.GainRA < 0 || g.GainRA > 1 || g.GainDEC < 0 || g.GainDEC > 1 {
		return fmt.Errorf("guiding gains must be in (0, 1], got %.2f and %.2f", g.GainRA, g.GainDEC)
	}
	if g.MeasurementError < 0 || g.SystemError < 0 {
		return fmt.Errorf("guiding errors must be >= 0")
	}
	if g.GuideRate < 0 || g.GuideRate > 1 {
		return fmt.Errorf("guiding.guide_rate must be in (0, 1], got %.2f", g.GuideRate)
	}
	if g.GuideRate == 0 {
		g.GuideRate = 0.5
	}
	if g.GridConstantS < 0 {
		return fmt.Errorf("guiding.grid_constant_s must be >= 0, got %.2f", g.GridConstantS)
	}
	if g.CalibrationRange < 0 {
		return fmt.Errorf("guiding.calibration_range must be >= 0, got %d", g.CalibrationRange)
	}
	if g.CalibrationRange == 0 {
		g.CalibrationRange = 3
	}
	if g.MaxResidual < 0 {
		return fmt.Errorf("guiding.max_residual_px must be >= 0, got %.2f", g.MaxResidual)
	}
	if g.SettleMs < 0 {
		return fmt.Errorf("guiding.settle_ms must be >= 0, got %d", g.SettleMs)
	}
	if g.Tracker == "" {
		g.Tracker = "star"
	}
	if g.TrackerWindow == 0 {
		g.TrackerWindow = 16
	}
	if g.HistorySize <= 0 {
		g.HistorySize = 100
	}
	if g.BacklashLast < 0 {
		return fmt.Errorf("guiding.backlash_last_points must be >= 0, got %d", g.BacklashLast)
	}
	return nil
}

func (c *Config) validateStore() error {
	s := &c.Store
	if strings.TrimSpace(s.Type) == "" {
		s.Type = StoreMemory
	}
	for _, t := range s.Types() {
		switch t {
		case StoreMemory:
		case StoreFile:
			if s.Dir == "" {
				return fmt.Errorf("store.dir is required for a file store")
			}
		case StoreRedis:
			if s.Redis.Addr == "" {
				s.Redis.Addr = "localhost:6379"
			}
		default:
			return fmt.Errorf("unsupported store type: %q", t)
		}
	}
	if s.Redis.Prefix == "" {
		s.Redis.Prefix = "guidego"
	}
	return nil
}

// Types returns the store types listed in store.type, e.g. "file,redis"
// keeps every record in both.
func (s StoreConfig) Types() []string {
	var types []string
	for _, t := range strings.Split(s.Type, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// Interval returns the guiding interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Guiding.IntervalMs) * time.Millisecond
}

// Exposure returns the guide camera exposure time.
func (c *Config) Exposure() time.Duration {
	return time.Duration(c.Camera.ExposureMs) * time.Millisecond
}

// Settle returns the pause between a calibration move and its measurement.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.Guiding.SettleMs) * time.Millisecond
}

// FocalLength returns the focal length in meters.
func (c *Config) FocalLength() float64 {
	return c.Lens.FocalLengthMm / 1000
}

// PixelSize returns the pixel size in meters.
func (c *Config) PixelSize() float64 {
	return c.Sensor.PixelSizeUm * 1e-6
}
