// Package config holds the engine's static configuration, read from the
// environment, and the reactive reader settings the engine follows at run
// time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ironsheep/page-tiler/internal/imaging"
	"github.com/ironsheep/page-tiler/internal/reactive"
)

// Environment variables read by FromEnv.
const (
	EnvTileSize          = "PAGE_TILER_TILE_SIZE"
	EnvLookAhead         = "PAGE_TILER_LOOK_AHEAD"
	EnvRetention         = "PAGE_TILER_RETENTION"
	EnvMaxConcurrent     = "PAGE_TILER_MAX_CONCURRENT"
	EnvPageCache         = "PAGE_TILER_PAGE_CACHE"
	EnvInitTimeout       = "PAGE_TILER_INIT_TIMEOUT"
	EnvCompressThreshold = "PAGE_TILER_COMPRESS_THRESHOLD"
	EnvLogLevel          = "PAGE_TILER_LOG_LEVEL"
)

// Config is the static engine configuration.
type Config struct {
	TileSize          int           // tile edge in source pixels
	LookAhead         int           // display pixels requested beyond the viewport
	Retention         int           // display pixels kept beyond the viewport
	MaxConcurrent     int           // tile requests in flight per page
	PageCache         int           // processed pages kept across engines
	InitTimeout       time.Duration // decode worker startup deadline
	CompressThreshold int           // payload bytes above which frames are compressed
	Debug             bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TileSize:          512,
		LookAhead:         256,
		Retention:         1024,
		MaxConcurrent:     4,
		PageCache:         4,
		InitTimeout:       10 * time.Second,
		CompressThreshold: 64 * 1024,
	}
}

// FromEnv overrides Default with any variables set in the environment.
func FromEnv() (Config, error) {
	cfg := Default()

	ints := []struct {
		name string
		dst  *int
		min  int
	}{
		{EnvTileSize, &cfg.TileSize, 16},
		{EnvLookAhead, &cfg.LookAhead, 0},
		{EnvRetention, &cfg.Retention, 0},
		{EnvMaxConcurrent, &cfg.MaxConcurrent, 1},
		{EnvPageCache, &cfg.PageCache, 1},
		{EnvCompressThreshold, &cfg.CompressThreshold, 0},
	}
	for _, v := range ints {
		s := os.Getenv(v.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", v.name, err)
		}
		if n < v.min {
			return cfg, fmt.Errorf("invalid %s: %d is below minimum %d", v.name, n, v.min)
		}
		*v.dst = n
	}

	if s := os.Getenv(EnvInitTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", EnvInitTimeout, err)
		}
		cfg.InitTimeout = d
	}

	cfg.Debug = os.Getenv(EnvLogLevel) == "debug"

	if cfg.Retention < cfg.LookAhead {
		cfg.Retention = cfg.LookAhead
	}
	return cfg, nil
}

// Settings are the reader inputs the engine reacts to.
type Settings struct {
	Upsampling   *reactive.Value[imaging.UpsamplingMode]
	Downsampling *reactive.Value[imaging.Kernel]
	LinearLight  *reactive.Value[bool]
	StretchToFit *reactive.Value[bool]
	CropBorders  *reactive.Value[bool]
}

// NewSettings returns settings with the reader defaults: bilinear
// upscaling, Lanczos3 downscaling in gamma space, no stretching and no
// border cropping.
func NewSettings() *Settings {
	return &Settings{
		Upsampling:   reactive.NewValue(imaging.UpsampleBilinear),
		Downsampling: reactive.NewValue(imaging.KernelLanczos3),
		LinearLight:  reactive.NewValue(false),
		StretchToFit: reactive.NewValue(false),
		CropBorders:  reactive.NewValue(false),
	}
}

// SubscribeSampling calls fn when any setting that changes how tiles are
// scaled is modified.
func (s *Settings) SubscribeSampling(fn func()) (cancel func()) {
	cancels := []func(){
		s.Upsampling.Subscribe(func(imaging.UpsamplingMode) { fn() }),
		s.Downsampling.Subscribe(func(imaging.Kernel) { fn() }),
		s.LinearLight.Subscribe(func(bool) { fn() }),
		s.StretchToFit.Subscribe(func(bool) { fn() }),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
