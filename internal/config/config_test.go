package config

import "testing"

func TestValidateRequiresSourceAndTarget(t *testing.T) {
	cfg := &Config{TileSize: 256, JPEGQuality: 85, WarpZoomOffset: 2, MaxZoom: 14, NumThreads: 4}
	if _, ok := errOf(cfg.Validate()); !ok {
		t.Fatal("expected ConfigError for missing source/target")
	}

	cfg.SourceFile = "in.tif"
	err := cfg.Validate()
	ce, ok := errOf(err)
	if !ok {
		t.Fatal("expected ConfigError for missing target-file")
	}
	if ce.Field != "target-file" {
		t.Fatalf("expected target-file error, got %q", ce.Field)
	}
}

func TestValidateTileSizeMustBeEvenPositive(t *testing.T) {
	base := func() *Config {
		return &Config{
			SourceFile: "in.tif", TargetFile: "out.mbtiles",
			MaxZoom: 14, JPEGQuality: 85, WarpZoomOffset: 2, NumThreads: 4,
		}
	}

	cases := []struct {
		name     string
		tileSize int
		wantErr  bool
	}{
		{"zero", 0, true},
		{"odd", 255, true},
		{"negative", -256, true},
		{"valid", 256, false},
	}
	for _, c := range cases {
		cfg := base()
		cfg.TileSize = c.tileSize
		err := cfg.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: TileSize=%d Validate() error=%v, wantErr=%v", c.name, c.tileSize, err, c.wantErr)
		}
	}
}

func TestValidateJPEGQualityRange(t *testing.T) {
	cfg := &Config{
		SourceFile: "in.tif", TargetFile: "out.mbtiles",
		MaxZoom: 14, TileSize: 256, WarpZoomOffset: 2, NumThreads: 4,
	}
	for _, q := range []int{0, 101, -1} {
		cfg.JPEGQuality = q
		if _, ok := errOf(cfg.Validate()); !ok {
			t.Errorf("JPEGQuality=%d: expected ConfigError", q)
		}
	}
	cfg.JPEGQuality = 85
	if err := cfg.Validate(); err != nil {
		t.Errorf("JPEGQuality=85: unexpected error %v", err)
	}
}

func TestValidateWarpZoomOffsetBounds(t *testing.T) {
	cfg := &Config{
		SourceFile: "in.tif", TargetFile: "out.mbtiles",
		MaxZoom: 4, TileSize: 256, JPEGQuality: 85, NumThreads: 4,
	}
	cfg.WarpZoomOffset = 5
	if _, ok := errOf(cfg.Validate()); !ok {
		t.Fatal("expected ConfigError for warp-zoom-offset beyond max-zoom")
	}
	cfg.WarpZoomOffset = -1
	if _, ok := errOf(cfg.Validate()); !ok {
		t.Fatal("expected ConfigError for negative warp-zoom-offset")
	}
	cfg.WarpZoomOffset = 4
	if err := cfg.Validate(); err != nil {
		t.Errorf("warp-zoom-offset == max-zoom: unexpected error %v", err)
	}
}

func errOf(err error) (*ConfigError, bool) {
	ce, ok := err.(*ConfigError)
	return ce, ok
}
