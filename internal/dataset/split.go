package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ayusman/posekit/internal/ctxlog"
)

// DefaultSplitSeed is the seed used when none is configured.
const DefaultSplitSeed = 42

// Split subset directory names.
const (
	TrainDir = "train"
	TestDir  = "test"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

// SplitConfig holds configuration for a train/test split.
type SplitConfig struct {
	Source       string
	Dest         string
	TestFraction float64
	Seed         int64
}

// ClassSplit lists the files sent to each subset for one class.
type ClassSplit struct {
	Class string   `json:"class"`
	Test  []string `json:"test"`
	Train []string `json:"train"`
}

// SplitReport is the result of a split.
type SplitReport struct {
	Classes []ClassSplit `json:"classes"`
}

// Split copies every class of cfg.Source into <Dest>/train/<class> and
// <Dest>/test/<class>. The fraction is applied per class and the shuffle is
// re-seeded for each class, so a class's partition depends only on its own
// file names and the seed.
func Split(ctx context.Context, cfg SplitConfig) (*SplitReport, error) {
	if cfg.Source == "" || cfg.Dest == "" {
		return nil, errors.New("source and destination are required")
	}
	if !(cfg.TestFraction >= 0 && cfg.TestFraction <= 1) {
		return nil, fmt.Errorf("test fraction must be in [0,1], got %v", cfg.TestFraction)
	}

	logger := ctxlog.FromContext(ctx)

	entries, err := os.ReadDir(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}

	var classes []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), hiddenPrefix) {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)

	report := &SplitReport{}
	for _, class := range classes {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		files, err := imageFiles(filepath.Join(cfg.Source, class))
		if err != nil {
			return report, err
		}
		shuffle(files, cfg.Seed)

		testCount := int(float64(len(files)) * cfg.TestFraction)
		cs := ClassSplit{
			Class: class,
			Test:  files[:testCount],
			Train: files[testCount:],
		}

		if err := copyAll(cfg.Source, filepath.Join(cfg.Dest, TestDir), class, cs.Test); err != nil {
			return report, err
		}
		if err := copyAll(cfg.Source, filepath.Join(cfg.Dest, TrainDir), class, cs.Train); err != nil {
			return report, err
		}

		logger.Info(fmt.Sprintf("Moved %d of %d from class %q into test.", testCount, len(files), class))
		report.Classes = append(report.Classes, cs)
	}

	return report, nil
}

// imageFiles returns the sorted image names of a directory.
func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read class dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, hiddenPrefix) {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(name))] {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}

func shuffle(files []string, seed int64) {
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	rng.Shuffle(len(files), func(i, j int) {
		files[i], files[j] = files[j], files[i]
	})
}

func copyAll(srcRoot, destRoot, class string, files []string) error {
	dir := filepath.Join(destRoot, class)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, name := range files {
		if err := copyFile(filepath.Join(srcRoot, class, name), filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
