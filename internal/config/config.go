// Package config holds the nested, mutable configuration described in
// spec.md §3, loaded from a JSON file at startup and live-mutated by
// the control protocol's `set` command. Field layout and the
// defaulting/validation style are grounded on the teacher's
// cmd/driver/config.go Config.Check.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
)

// Camera holds the camera-geometry and timeout settings.
type Camera struct {
	Width           int `json:"width" toml:"width" yaml:"width"`
	Height          int `json:"height" toml:"height" yaml:"height"`
	Framerate       int `json:"framerate" toml:"framerate" yaml:"framerate"`
	CaptureTimeoutS int `json:"capture_timeout_s" toml:"capture_timeout_s" yaml:"capture_timeout_s"`
}

// Downscale holds the ring-specific downscaled geometry.
type Downscale struct {
	Enable bool `json:"enable" toml:"enable" yaml:"enable"`
	Width  int  `json:"width" toml:"width" yaml:"width"`
	Height int  `json:"height" toml:"height" yaml:"height"`
}

// Ring holds the retention-ring sizing settings.
type Ring struct {
	Size      int       `json:"size" toml:"size" yaml:"size"`
	Downscale Downscale `json:"downscale" toml:"downscale" yaml:"downscale"`
}

// Night holds the day/night hysteresis and still-mode settings.
type Night struct {
	Enable         bool    `json:"enable" toml:"enable" yaml:"enable"`
	DarkThreshold  float64 `json:"dark_threshold" toml:"dark_threshold" yaml:"dark_threshold"`
	BrightThreshold float64 `json:"bright_threshold" toml:"bright_threshold" yaml:"bright_threshold"`
	MinDarkFrames  int     `json:"min_dark_frames" toml:"min_dark_frames" yaml:"min_dark_frames"`
	ExposureUs     int     `json:"exposure_us" toml:"exposure_us" yaml:"exposure_us"`
	Gain           float64 `json:"gain" toml:"gain" yaml:"gain"`
}

// Export holds exporter and auto-save settings.
type Export struct {
	BaseDir           string   `json:"base_dir" toml:"base_dir" yaml:"base_dir"`
	Formats           []string `json:"formats" toml:"formats" yaml:"formats"`
	SaveBeforeS       float64  `json:"save_before_s" toml:"save_before_s" yaml:"save_before_s"`
	StackCount        int      `json:"stack_count" toml:"stack_count" yaml:"stack_count"`
	StackDarkFrames   bool     `json:"stack_dark_frames" toml:"stack_dark_frames" yaml:"stack_dark_frames"`
	AutoSaveIntervalS float64  `json:"auto_save_interval_s" toml:"auto_save_interval_s" yaml:"auto_save_interval_s"`
	AutoSaveUseRing   bool     `json:"auto_save_use_ring" toml:"auto_save_use_ring" yaml:"auto_save_use_ring"`
}

// Network holds the control protocol's listening port and the overlay
// proxy's optional bearer-token requirement.
type Network struct {
	TriggerPort  int    `json:"trigger_port" toml:"trigger_port" yaml:"trigger_port"`
	OverlayToken string `json:"overlay_token" toml:"overlay_token" yaml:"overlay_token"`
}

// MJPEGServer holds the MJPEG stream's listening settings.
type MJPEGServer struct {
	Enable bool `json:"enable" toml:"enable" yaml:"enable"`
	Port   int  `json:"port" toml:"port" yaml:"port"`
	FPS    int  `json:"fps" toml:"fps" yaml:"fps"`
}

// Config is the whole nested configuration tree.
type Config struct {
	Camera      Camera      `json:"camera" toml:"camera" yaml:"camera"`
	Ring        Ring        `json:"ring" toml:"ring" yaml:"ring"`
	Night       Night       `json:"night" toml:"night" yaml:"night"`
	Export      Export      `json:"export" toml:"export" yaml:"export"`
	Network     Network     `json:"network" toml:"network" yaml:"network"`
	MJPEGServer MJPEGServer `json:"mjpeg_server" toml:"mjpeg_server" yaml:"mjpeg_server"`
}

// Default returns a Config pre-filled with sane defaults, mirroring
// the teacher's Config.Check defaulting pass.
func Default() Config {
	return Config{
		Camera: Camera{Width: 1280, Height: 720, Framerate: 10, CaptureTimeoutS: 4},
		Ring:   Ring{Size: 300, Downscale: Downscale{Enable: true, Width: 320, Height: 240}},
		Night: Night{
			Enable: true, DarkThreshold: 35, BrightThreshold: 55,
			MinDarkFrames: 3, ExposureUs: 200000, Gain: 4,
		},
		Export: Export{
			BaseDir: "captures", Formats: []string{"jpg"},
			SaveBeforeS: 5, StackCount: 5, StackDarkFrames: false,
			AutoSaveIntervalS: 0, AutoSaveUseRing: true,
		},
		Network:     Network{TriggerPort: 9090},
		MJPEGServer: MJPEGServer{Enable: true, Port: 8090, FPS: 5},
	}
}

// Load reads a JSON config file, defaulting any zero-valued section.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// sortedJSON re-encodes cfg through an untyped map so nested object
// keys come out alphabetically sorted (encoding/json sorts
// map[string]interface{} keys on marshal), matching spec.md §6's
// "sorted keys" requirement.
func sortedJSON(cfg Config) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	return json.MarshalIndent(asMap, "", "  ")
}

// Save writes cfg to path as pretty JSON with sorted keys, per
// spec.md §6.
func Save(cfg Config, path string) error {
	data, err := sortedJSON(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// DumpJSON renders cfg as pretty, sorted-key JSON text, for the
// `dump_config` control command.
func DumpJSON(cfg Config) (string, error) {
	data, err := sortedJSON(cfg)
	if err != nil {
		return "", fmt.Errorf("config: marshal: %w", err)
	}
	return string(data), nil
}

// Live wraps a Config with a mutex so the control server's `set`
// command can mutate individual leaves while every other component
// reads a consistent snapshot. Only the control server ever writes.
type Live struct {
	mutex sync.RWMutex
	cfg   Config
	path  string
}

// NewLive wraps cfg for live mutation; path is used by OverwriteToDisk.
func NewLive(cfg Config, path string) *Live {
	return &Live{cfg: cfg, path: path}
}

// Snapshot returns a copy of the current configuration.
func (l *Live) Snapshot() Config {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.cfg
}

// OverwriteToDisk persists the current configuration to the backing
// path (the `overwrite_config` command).
func (l *Live) OverwriteToDisk() error {
	return Save(l.Snapshot(), l.path)
}

// Path returns the file this Live was loaded from / saves to.
func (l *Live) Path() string {
	return l.path
}

// mutableLeaf describes one of the closed set of dotted keys the
// `set` command is allowed to touch, per spec.md §9's "enumerate the
// mutable leaves as a closed set" redesign.
type mutableLeaf struct {
	get func(c *Config) interface{}
	set func(c *Config, coerced interface{})
}

func intLeaf(get func(c *Config) *int) mutableLeaf {
	return mutableLeaf{
		get: func(c *Config) interface{} { return *get(c) },
		set: func(c *Config, v interface{}) { *get(c) = v.(int) },
	}
}

func floatLeaf(get func(c *Config) *float64) mutableLeaf {
	return mutableLeaf{
		get: func(c *Config) interface{} { return *get(c) },
		set: func(c *Config, v interface{}) { *get(c) = v.(float64) },
	}
}

func boolLeaf(get func(c *Config) *bool) mutableLeaf {
	return mutableLeaf{
		get: func(c *Config) interface{} { return *get(c) },
		set: func(c *Config, v interface{}) { *get(c) = v.(bool) },
	}
}

func stringLeaf(get func(c *Config) *string) mutableLeaf {
	return mutableLeaf{
		get: func(c *Config) interface{} { return *get(c) },
		set: func(c *Config, v interface{}) { *get(c) = v.(string) },
	}
}

var mutableLeaves = map[string]mutableLeaf{
	"camera.width":            intLeaf(func(c *Config) *int { return &c.Camera.Width }),
	"camera.height":           intLeaf(func(c *Config) *int { return &c.Camera.Height }),
	"camera.framerate":        intLeaf(func(c *Config) *int { return &c.Camera.Framerate }),
	"camera.capture_timeout_s": intLeaf(func(c *Config) *int { return &c.Camera.CaptureTimeoutS }),

	"ring.size":               intLeaf(func(c *Config) *int { return &c.Ring.Size }),
	"ring.downscale.enable":   boolLeaf(func(c *Config) *bool { return &c.Ring.Downscale.Enable }),
	"ring.downscale.width":    intLeaf(func(c *Config) *int { return &c.Ring.Downscale.Width }),
	"ring.downscale.height":   intLeaf(func(c *Config) *int { return &c.Ring.Downscale.Height }),

	"night.enable":           boolLeaf(func(c *Config) *bool { return &c.Night.Enable }),
	"night.dark_threshold":   floatLeaf(func(c *Config) *float64 { return &c.Night.DarkThreshold }),
	"night.bright_threshold": floatLeaf(func(c *Config) *float64 { return &c.Night.BrightThreshold }),
	"night.min_dark_frames":  intLeaf(func(c *Config) *int { return &c.Night.MinDarkFrames }),
	"night.exposure_us":      intLeaf(func(c *Config) *int { return &c.Night.ExposureUs }),
	"night.gain":             floatLeaf(func(c *Config) *float64 { return &c.Night.Gain }),

	"export.base_dir":              stringLeaf(func(c *Config) *string { return &c.Export.BaseDir }),
	"export.save_before_s":         floatLeaf(func(c *Config) *float64 { return &c.Export.SaveBeforeS }),
	"export.stack_count":           intLeaf(func(c *Config) *int { return &c.Export.StackCount }),
	"export.stack_dark_frames":     boolLeaf(func(c *Config) *bool { return &c.Export.StackDarkFrames }),
	"export.auto_save_interval_s":  floatLeaf(func(c *Config) *float64 { return &c.Export.AutoSaveIntervalS }),
	"export.auto_save_use_ring":    boolLeaf(func(c *Config) *bool { return &c.Export.AutoSaveUseRing }),

	"network.trigger_port":  intLeaf(func(c *Config) *int { return &c.Network.TriggerPort }),
	"network.overlay_token": stringLeaf(func(c *Config) *string { return &c.Network.OverlayToken }),

	"mjpeg_server.enable": boolLeaf(func(c *Config) *bool { return &c.MJPEGServer.Enable }),
	"mjpeg_server.port":   intLeaf(func(c *Config) *int { return &c.MJPEGServer.Port }),
	"mjpeg_server.fps":    intLeaf(func(c *Config) *int { return &c.MJPEGServer.FPS }),
}

// ErrUnknownKey is returned by Set for any key outside the closed set
// of mutable leaves.
type ErrUnknownKey string

func (e ErrUnknownKey) Error() string { return "unknown config key: " + string(e) }

// coerce converts the raw string value to match the current type of
// the target leaf, per spec.md §4.8's `set` semantics (booleans accept
// 1/0/true/false).
func coerce(current interface{}, raw string) (interface{}, error) {
	switch current.(type) {
	case int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return v, nil
	case float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a float: %q", raw)
		}
		return v, nil
	case bool:
		switch raw {
		case "1", "true", "True", "TRUE":
			return true, nil
		case "0", "false", "False", "FALSE":
			return false, nil
		default:
			return nil, fmt.Errorf("not a boolean: %q", raw)
		}
	case string:
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported leaf type %T", current)
	}
}

// Set applies a dotted-key/value change live, returning the previous
// and new values on success. It never partially applies: on any
// coercion error the configuration is left untouched.
func (l *Live) Set(key, rawValue string) (oldValue, newValue interface{}, err error) {
	leaf, ok := mutableLeaves[key]
	if !ok {
		return nil, nil, ErrUnknownKey(key)
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	old := leaf.get(&l.cfg)
	coerced, err := coerce(old, rawValue)
	if err != nil {
		return nil, nil, fmt.Errorf("set %s: %w", key, err)
	}
	leaf.set(&l.cfg, coerced)
	return old, coerced, nil
}

// Keys returns the closed set of dotted keys `set` accepts, sorted for
// deterministic help output.
func Keys() []string {
	keys := make([]string, 0, len(mutableLeaves))
	for k := range mutableLeaves {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
