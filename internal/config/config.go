// Package config loads posekit settings from an HCL file.
//
// Every block and attribute is optional; anything left out keeps the value
// from Default. Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the full set of settings.
type Config struct {
	Build    Build
	Split    Split
	Detector Detector
	Catalog  Catalog
}

// Build holds dataset build settings.
type Build struct {
	ImagesDir          string
	OutputCSV          string
	DebugImagesDir     string
	PerClassLimit      int
	DetectionThreshold float64
	Workers            int
}

// Split holds train/test split settings.
type Split struct {
	Source       string
	Dest         string
	TestFraction float64
	Seed         int64
}

// Detector holds MediaPipe service settings.
type Detector struct {
	PythonPath      string
	ScriptPath      string
	ModelComplexity int
	IdleTimeout     time.Duration
}

// Catalog holds build catalog and API settings.
type Catalog struct {
	Path string
	Addr string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Build: Build{
			DetectionThreshold: 0.1,
			Workers:            1,
		},
		Split: Split{
			TestFraction: 0.2,
			Seed:         42,
		},
		Detector: Detector{
			ModelComplexity: 1,
			IdleTimeout:     30 * time.Second,
		},
		Catalog: Catalog{
			Addr: ":8080",
		},
	}
}

// hclFile is the decoding target for a config file.
type hclFile struct {
	Build    *hclBuild    `hcl:"build,block"`
	Split    *hclSplit    `hcl:"split,block"`
	Detector *hclDetector `hcl:"detector,block"`
	Catalog  *hclCatalog  `hcl:"catalog,block"`
}

type hclBuild struct {
	ImagesDir          *string  `hcl:"images_dir,optional"`
	OutputCSV          *string  `hcl:"output_csv,optional"`
	DebugImagesDir     *string  `hcl:"debug_images_dir,optional"`
	PerClassLimit      *int     `hcl:"per_class_limit,optional"`
	DetectionThreshold *float64 `hcl:"detection_threshold,optional"`
	Workers            *int     `hcl:"workers,optional"`
}

type hclSplit struct {
	Source       *string  `hcl:"source,optional"`
	Dest         *string  `hcl:"dest,optional"`
	TestFraction *float64 `hcl:"test_fraction,optional"`
	Seed         *int64   `hcl:"seed,optional"`
}

type hclDetector struct {
	PythonPath      *string `hcl:"python_path,optional"`
	ScriptPath      *string `hcl:"script_path,optional"`
	ModelComplexity *int    `hcl:"model_complexity,optional"`
	IdleTimeout     *string `hcl:"idle_timeout,optional"`
}

type hclCatalog struct {
	Path *string `hcl:"path,optional"`
	Addr *string `hcl:"addr,optional"`
}

// Load reads an HCL config file and overlays it on Default.
func Load(path string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}
	return decode(path, file.Body)
}

// Parse decodes HCL source held in memory. filename is used in diagnostics.
func Parse(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", filename, diags)
	}
	return decode(filename, file.Body)
}

func decode(filename string, body hcl.Body) (Config, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(body, nil, &parsed); diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", filename, diags)
	}

	cfg := Default()
	if b := parsed.Build; b != nil {
		setValue(&cfg.Build.ImagesDir, b.ImagesDir)
		setValue(&cfg.Build.OutputCSV, b.OutputCSV)
		setValue(&cfg.Build.DebugImagesDir, b.DebugImagesDir)
		setValue(&cfg.Build.PerClassLimit, b.PerClassLimit)
		setValue(&cfg.Build.DetectionThreshold, b.DetectionThreshold)
		setValue(&cfg.Build.Workers, b.Workers)
	}
	if s := parsed.Split; s != nil {
		setValue(&cfg.Split.Source, s.Source)
		setValue(&cfg.Split.Dest, s.Dest)
		setValue(&cfg.Split.TestFraction, s.TestFraction)
		setValue(&cfg.Split.Seed, s.Seed)
	}
	if d := parsed.Detector; d != nil {
		setValue(&cfg.Detector.PythonPath, d.PythonPath)
		setValue(&cfg.Detector.ScriptPath, d.ScriptPath)
		setValue(&cfg.Detector.ModelComplexity, d.ModelComplexity)
		if d.IdleTimeout != nil {
			timeout, err := time.ParseDuration(*d.IdleTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("detector.idle_timeout: %w", err)
			}
			cfg.Detector.IdleTimeout = timeout
		}
	}
	if c := parsed.Catalog; c != nil {
		setValue(&cfg.Catalog.Path, c.Path)
		setValue(&cfg.Catalog.Addr, c.Addr)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks value ranges. Paths are checked by the commands that use them.
func (c Config) Validate() error {
	if !(c.Build.DetectionThreshold >= 0 && c.Build.DetectionThreshold <= 1) {
		return fmt.Errorf("build.detection_threshold must be in [0,1], got %v", c.Build.DetectionThreshold)
	}
	if c.Build.PerClassLimit < 0 {
		return fmt.Errorf("build.per_class_limit must not be negative, got %d", c.Build.PerClassLimit)
	}
	if c.Build.Workers < 0 {
		return fmt.Errorf("build.workers must not be negative, got %d", c.Build.Workers)
	}
	if !(c.Split.TestFraction >= 0 && c.Split.TestFraction <= 1) {
		return fmt.Errorf("split.test_fraction must be in [0,1], got %v", c.Split.TestFraction)
	}
	if c.Detector.ModelComplexity < 0 || c.Detector.ModelComplexity > 2 {
		return fmt.Errorf("detector.model_complexity must be 0, 1, or 2, got %d", c.Detector.ModelComplexity)
	}
	if c.Detector.IdleTimeout <= 0 {
		return fmt.Errorf("detector.idle_timeout must be positive, got %s", c.Detector.IdleTimeout)
	}
	return nil
}

func setValue[T string | int | int64 | float64](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
