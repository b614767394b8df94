package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/posekit/internal/ctxlog"
	"github.com/ayusman/posekit/internal/detector"
)

// DefaultDetectionThreshold is the detector confidence used when none is set.
const DefaultDetectionThreshold = 0.1

// hiddenPrefix marks directory entries that are never treated as classes or images.
const hiddenPrefix = "."

// BuilderConfig holds configuration for a dataset build.
type BuilderConfig struct {
	// ImagesDir contains one subdirectory per class.
	ImagesDir string

	// OutputCSV is the aggregated table path.
	OutputCSV string

	// DebugImagesDir receives annotated copies of processed images. Empty disables them.
	DebugImagesDir string

	// PerClassLimit caps the images read per class after sorting. 0 means no cap.
	PerClassLimit int

	// DetectionThreshold is the minimum detector confidence in [0,1].
	DetectionThreshold float64

	// Workers is the number of images processed concurrently per class.
	// Values <= 1 process images sequentially.
	Workers int
}

// Builder drives landmark extraction over an image tree and writes the
// aggregated table.
type Builder struct {
	config   BuilderConfig
	detector detector.Detector
	onImage  func(class, image string)
}

// NewBuilder creates a Builder that uses d for landmark extraction.
func NewBuilder(config BuilderConfig, d detector.Detector) *Builder {
	return &Builder{
		config:   config,
		detector: d,
	}
}

// OnImage registers a callback invoked after each image is processed.
// With Workers > 1 it is called from multiple goroutines.
func (b *Builder) OnImage(fn func(class, image string)) {
	b.onImage = fn
}

// ClassNames lists class subdirectories in sorted order. The position of a
// name in the result is its class_no.
func (b *Builder) ClassNames() ([]string, error) {
	entries, err := os.ReadDir(b.config.ImagesDir)
	if err != nil {
		return nil, fmt.Errorf("read images dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), hiddenPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ImageNames lists the images of one class in sorted order, truncated to
// PerClassLimit.
func (b *Builder) ImageNames(class string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.config.ImagesDir, class))
	if err != nil {
		return nil, fmt.Errorf("read class dir %s: %w", class, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), hiddenPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if b.config.PerClassLimit > 0 && len(names) > b.config.PerClassLimit {
		names = names[:b.config.PerClassLimit]
	}
	return names, nil
}

// imageOutcome is the result of processing a single image: either a record
// or a diagnostic, and possibly both when only the annotation failed.
type imageOutcome struct {
	record     *PoseRecord
	diagnostic *Diagnostic
}

// Build processes every class and writes the aggregated table.
//
// Unreadable images and images without a detected pose are skipped and
// reported. A class without any valid image aborts the build with an
// *EmptyClassError and no table is written. The returned report carries the
// diagnostics gathered so far even when an error is returned.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx)

	classes, err := b.ClassNames()
	if err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("no class directories found in %s", b.config.ImagesDir)
	}

	tmpDir, err := os.MkdirTemp("", "posekit-classes-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	report := &Report{OutputPath: b.config.OutputCSV}

	for classNo, class := range classes {
		logger.Info("Preprocessing", "class", class, "class_no", classNo)

		images, err := b.ImageNames(class)
		if err != nil {
			return report, err
		}

		outcomes, err := b.processClass(ctx, class, classNo, images)
		if err != nil {
			return report, err
		}

		summary := ClassSummary{Name: class, ClassNo: classNo, Images: len(images)}
		var records []PoseRecord
		for _, o := range outcomes {
			if o.diagnostic != nil {
				report.Diagnostics = append(report.Diagnostics, *o.diagnostic)
			}
			if o.record != nil {
				records = append(records, *o.record)
			} else {
				summary.Skipped++
			}
		}
		summary.Valid = len(records)
		report.Classes = append(report.Classes, summary)

		if len(records) == 0 {
			return report, &EmptyClassError{Class: class}
		}

		if err := writeClassCSV(classCSVPath(tmpDir, classNo), records); err != nil {
			return report, err
		}
		report.Records = append(report.Records, records...)
	}

	rows, err := b.writeTable(tmpDir, classes)
	if err != nil {
		return report, err
	}
	report.Rows = rows

	report.Log(logger)
	return report, nil
}

func (b *Builder) validate() error {
	if b.detector == nil {
		return errors.New("no detector configured")
	}
	if b.config.ImagesDir == "" {
		return errors.New("images directory is required")
	}
	if b.config.OutputCSV == "" {
		return errors.New("output csv path is required")
	}
	if b.config.PerClassLimit < 0 {
		return fmt.Errorf("per-class limit must not be negative, got %d", b.config.PerClassLimit)
	}
	return detector.ValidateConfidence(b.config.DetectionThreshold)
}

// processClass runs every image of a class, sequentially or on a bounded
// worker pool. Outcomes are indexed by image position so the result order
// never depends on completion order.
func (b *Builder) processClass(ctx context.Context, class string, classNo int, images []string) ([]imageOutcome, error) {
	outcomes := make([]imageOutcome, len(images))

	if b.config.Workers <= 1 {
		for i, name := range images {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			o, err := b.processImage(class, classNo, name)
			if err != nil {
				return nil, err
			}
			outcomes[i] = o
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Workers)
	for i, name := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o, err := b.processImage(class, classNo, name)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (b *Builder) processImage(class string, classNo int, name string) (imageOutcome, error) {
	if b.onImage != nil {
		defer b.onImage(class, name)
	}

	path := filepath.Join(b.config.ImagesDir, class, name)

	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return imageOutcome{diagnostic: &Diagnostic{
			Reason: SkipUnreadable,
			Path:   path,
			Detail: ErrUnreadableImage.Error(),
		}}, nil
	}

	pose, err := b.detector.Detect(&img, b.config.DetectionThreshold)
	if errors.Is(err, detector.ErrNoDetection) {
		return imageOutcome{diagnostic: &Diagnostic{
			Reason: SkipNoDetection,
			Path:   path,
			Detail: err.Error(),
		}}, nil
	}
	if err != nil {
		return imageOutcome{}, fmt.Errorf("detect %s: %w", path, err)
	}
	if !pose.Finite() {
		return imageOutcome{}, fmt.Errorf("detect %s: non-finite landmark coordinates", path)
	}

	out := imageOutcome{record: &PoseRecord{
		FileName:  name,
		ClassName: class,
		ClassNo:   classNo,
		Landmarks: *pose,
	}}

	if b.config.DebugImagesDir != "" {
		annotated := filepath.Join(b.config.DebugImagesDir, class, name)
		if err := detector.WriteAnnotated(annotated, img, pose); err != nil {
			out.diagnostic = &Diagnostic{Reason: AnnotationFailed, Path: path, Detail: err.Error()}
		}
	}

	return out, nil
}

// writeTable merges the per-class files into the aggregated table. The table
// is written next to its destination and renamed into place on success.
func (b *Builder) writeTable(tmpDir string, classes []string) (int, error) {
	if dir := filepath.Dir(b.config.OutputCSV); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("create output dir: %w", err)
		}
	}

	partial := b.config.OutputCSV + ".tmp"
	f, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(partial)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(Header()); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	for classNo, class := range classes {
		n, err := appendClassCSV(w, classCSVPath(tmpDir, classNo), classNo, class)
		if err != nil {
			return 0, err
		}
		rows += n
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush table: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close table: %w", err)
	}
	if err := os.Rename(partial, b.config.OutputCSV); err != nil {
		os.Remove(partial)
		committed = true
		return 0, fmt.Errorf("move table into place: %w", err)
	}
	committed = true

	return rows, nil
}

// classCSVPath names per-class files by index so class names never need
// to be valid file names twice over.
func classCSVPath(tmpDir string, classNo int) string {
	return filepath.Join(tmpDir, fmt.Sprintf("class-%04d.csv", classNo))
}
