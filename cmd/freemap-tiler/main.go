// Command freemap-tiler converts a raster geographic dataset into a
// Web-Mercator tile pyramid stored as MBTiles (spec §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"

	"github.com/FreemapSlovakia/freemap-tiler/internal/bounds"
	"github.com/FreemapSlovakia/freemap-tiler/internal/cache"
	"github.com/FreemapSlovakia/freemap-tiler/internal/config"
	"github.com/FreemapSlovakia/freemap-tiler/internal/resume"
	"github.com/FreemapSlovakia/freemap-tiler/internal/scheduler"
	"github.com/FreemapSlovakia/freemap-tiler/internal/sink"
	"github.com/FreemapSlovakia/freemap-tiler/internal/source"
)

var (
	cfgFile           string
	sourceFile        string
	targetFile        string
	maxZoom           int
	sourceSRS         string
	transformPipeline string
	boundingPolygon   string
	tileSize          int
	numThreads        int
	jpegQuality       int
	warpZoomOffset    int
	resumeFlag        bool
	debugFlag         bool
	synthetic         bool
)

func init() {
	flag.StringVar(&cfgFile, "c", "conf.toml", "config `file`")
	flag.StringVar(&sourceFile, "source-file", "", "input raster path")
	flag.StringVar(&targetFile, "target-file", "", "output MBTiles path")
	flag.IntVar(&maxZoom, "max-zoom", 0, "highest zoom to produce (0 = use config)")
	flag.StringVar(&sourceSRS, "source-srs", "", "SRS authority code for the source")
	flag.StringVar(&transformPipeline, "transform-pipeline", "", "explicit projection pipeline expression")
	flag.StringVar(&boundingPolygon, "bounding-polygon", "", "GeoJSON polygon in WGS84 lon/lat coordinates (not reprojected from the source SRS)")
	flag.IntVar(&tileSize, "tile-size", 0, "tile side length in pixels (0 = use config)")
	flag.IntVar(&numThreads, "num-threads", 0, "worker count (0 = use config)")
	flag.IntVar(&jpegQuality, "jpeg-quality", 0, "JPEG quality 1-100 (0 = use config)")
	flag.IntVar(&warpZoomOffset, "warp-zoom-offset", -1, "anchor offset k (-1 = use config)")
	flag.BoolVar(&resumeFlag, "resume", false, "continue an existing target")
	flag.BoolVar(&debugFlag, "debug", false, "emit additional diagnostics")
	flag.BoolVar(&synthetic, "synthetic-source", false, "use the built-in synthetic test adapter instead of a native raster library")

	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	file, err := os.OpenFile("freemap-tiler.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		log.SetOutput(io.MultiWriter(os.Stdout, file))
	} else {
		log.Warn("failed to open log file, logging to stdout only")
	}
	log.SetLevel(log.InfoLevel)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.WithError(err).Fatal("config: failed to load")
	}
	applyFlagOverrides(cfg)

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("config: invalid")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.WithError(err).Error("freemap-tiler: fatal error")
		os.Exit(1)
	}
}

func applyFlagOverrides(cfg *config.Config) {
	if sourceFile != "" {
		cfg.SourceFile = sourceFile
	}
	if targetFile != "" {
		cfg.TargetFile = targetFile
	}
	if maxZoom != 0 {
		cfg.MaxZoom = maxZoom
	}
	if sourceSRS != "" {
		cfg.SourceSRS = sourceSRS
	}
	if transformPipeline != "" {
		cfg.TransformPipeline = transformPipeline
	}
	if boundingPolygon != "" {
		cfg.BoundingPolygon = boundingPolygon
	}
	if tileSize != 0 {
		cfg.TileSize = tileSize
	}
	if numThreads != 0 {
		cfg.NumThreads = numThreads
	}
	if jpegQuality != 0 {
		cfg.JPEGQuality = jpegQuality
	}
	if warpZoomOffset != -1 {
		cfg.WarpZoomOffset = warpZoomOffset
	}
	if resumeFlag {
		cfg.Resume = true
	}
	if debugFlag {
		cfg.Debug = true
	}
}

// buildSource resolves the raster/reprojection collaborator. Reading and
// reprojecting pixels is explicitly out of scope for this repository
// (spec §1); production builds wire a real native-library binding here.
// --synthetic-source selects the in-memory adapter used for the
// scenarios in spec §8 and for local smoke tests.
func buildSource(cfg *config.Config) (source.Adapter, error) {
	if synthetic {
		return source.NewSynthetic(cfg.TileSize, cfg.MaxZoom), nil
	}
	return nil, &config.ConfigError{
		Field:  "source-file",
		Reason: "no native raster/reprojection adapter wired into this build; see internal/source.Adapter and DESIGN.md, or pass --synthetic-source",
	}
}

func run(cfg *config.Config) error {
	runID := uuid.New().String()
	log.WithField("run", runID).Info("freemap-tiler: starting")

	src, err := buildSource(cfg)
	if err != nil {
		return err
	}

	west, south, east, north, err := src.FootprintLonLat()
	if err != nil {
		return fmt.Errorf("source: footprint: %w", err)
	}

	var polygon []byte
	if cfg.BoundingPolygon != "" {
		polygon, err = os.ReadFile(cfg.BoundingPolygon)
		if err != nil {
			return fmt.Errorf("bounding-polygon: %w", err)
		}
	}
	multiPoly, err := parsePolygon(polygon)
	if err != nil {
		return fmt.Errorf("bounding-polygon: %w", err)
	}

	planner := bounds.New(bounds.Footprint{West: west, South: south, East: east, North: north}, cfg.MaxZoom, multiPoly)

	sk, err := sink.Open(cfg.TargetFile, cfg.Resume, cfg.SinkBatchSize)
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	defer sk.Close()

	var resumeC *resume.Cache
	if cfg.Resume {
		resumeC = resume.New(cfg.RedisAddr, runID)
		defer resumeC.Close()
	}

	c := cache.New(cfg.TileSize, planner.Includes)

	sched := scheduler.New(scheduler.Options{
		MaxZoom:        cfg.MaxZoom,
		WarpZoomOffset: cfg.WarpZoomOffset,
		TileSize:       cfg.TileSize,
		JPEGQuality:    cfg.JPEGQuality,
		NumWorkers:     cfg.NumThreads,
		SinkBatchSize:  cfg.SinkBatchSize,
		ShowProgress:   !cfg.Debug,
		Resume:         cfg.Resume,
	}, src, planner, c, sk, resumeC)

	ctx := context.Background()
	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	bound := fmt.Sprintf("%f,%f,%f,%f", west, south, east, north)
	center := fmt.Sprintf("%f,%f,%d", (west+east)/2, (south+north)/2, cfg.MaxZoom/2)
	if err := sk.Finalise(cfg.TargetFile, cfg.MaxZoom, bound, center, planner.AllRects()); err != nil {
		return fmt.Errorf("sink: finalise: %w", err)
	}

	log.WithField("run", runID).Info("freemap-tiler: done")
	return nil
}

func parsePolygon(data []byte) (orb.MultiPolygon, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return bounds.LoadPolygon(data)
}
