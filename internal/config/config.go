// Package config loads Freemap Tiler's configuration the way the
// teacher's main.go does: a TOML file read by viper, with CLI flags
// overriding file values and viper defaults underneath both.
package config

import (
	"fmt"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds every tunable named in spec §6.
type Config struct {
	SourceFile        string
	TargetFile        string
	MaxZoom           int
	SourceSRS         string
	TransformPipeline string
	BoundingPolygon   string
	TileSize          int
	NumThreads        int
	JPEGQuality       int
	WarpZoomOffset    int
	Resume            bool
	Debug             bool
	RedisAddr         string
	SinkBatchSize     int
}

// ConfigError is spec §7's ConfigError: a CLI/config validation failure,
// fatal at startup.
type ConfigError struct {
	Field, Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads cfgFile (if present) into viper, applies defaults the way
// the teacher's initConf does, and returns a Config ready for flag
// overrides.
func Load(cfgFile string) (*Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist, using defaults and flags", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}

	viper.SetDefault("tile.size", 256)
	viper.SetDefault("tile.maxzoom", 14)
	viper.SetDefault("tile.warpzoomoffset", 3)
	viper.SetDefault("tile.jpegquality", 85)
	viper.SetDefault("task.workers", runtime.GOMAXPROCS(0))
	viper.SetDefault("task.sinkbatchsize", 1000)
	viper.SetDefault("task.resume", false)
	viper.SetDefault("task.debug", false)
	viper.SetDefault("task.redis", "127.0.0.1:6379")

	return &Config{
		SourceFile:        viper.GetString("source.file"),
		TargetFile:        viper.GetString("target.file"),
		MaxZoom:           viper.GetInt("tile.maxzoom"),
		SourceSRS:         viper.GetString("source.srs"),
		TransformPipeline: viper.GetString("source.transformpipeline"),
		BoundingPolygon:   viper.GetString("source.boundingpolygon"),
		TileSize:          viper.GetInt("tile.size"),
		NumThreads:        viper.GetInt("task.workers"),
		JPEGQuality:       viper.GetInt("tile.jpegquality"),
		WarpZoomOffset:    viper.GetInt("tile.warpzoomoffset"),
		Resume:            viper.GetBool("task.resume"),
		Debug:             viper.GetBool("task.debug"),
		RedisAddr:         viper.GetString("task.redis"),
		SinkBatchSize:     viper.GetInt("task.sinkbatchsize"),
	}, nil
}

// Validate checks the invariants spec §6 implies: a positive even tile
// size, a sane quality range, required paths.
func (c *Config) Validate() error {
	if c.SourceFile == "" {
		return &ConfigError{Field: "source-file", Reason: "required"}
	}
	if c.TargetFile == "" {
		return &ConfigError{Field: "target-file", Reason: "required"}
	}
	if c.MaxZoom < 0 {
		return &ConfigError{Field: "max-zoom", Reason: "must be >= 0"}
	}
	if c.TileSize <= 0 || c.TileSize%2 != 0 {
		return &ConfigError{Field: "tile-size", Reason: "must be a positive multiple of 2"}
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return &ConfigError{Field: "jpeg-quality", Reason: "must be between 1 and 100"}
	}
	if c.WarpZoomOffset < 0 || c.WarpZoomOffset > c.MaxZoom {
		return &ConfigError{Field: "warp-zoom-offset", Reason: "must be between 0 and max-zoom"}
	}
	if c.NumThreads <= 0 {
		return &ConfigError{Field: "num-threads", Reason: "must be positive"}
	}
	return nil
}
