package dataset

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gocv.io/x/gocv"

	"github.com/ayusman/posekit/internal/detector"
)

// noPoseWidth marks fixture images for which the scripted detector finds nothing.
const noPoseWidth = 48

// writeImage writes a blank BGR image of the given width.
func writeImage(t *testing.T, path string, width int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), 64, width, gocv.MatTypeCV8UC3)
	defer img.Close()
	if !gocv.IMWrite(path, img) {
		t.Fatalf("failed to write %s", path)
	}
}

// scriptedDetector returns a standing pose shifted by the frame width, and
// no detection for noPoseWidth frames.
func scriptedDetector() *detector.MockDetector {
	mock := detector.NewMockDetector()
	mock.SetResponder(func(frame *gocv.Mat) (*detector.PoseLandmarks, error) {
		if frame.Cols() == noPoseWidth {
			return nil, detector.ErrNoDetection
		}
		lm := detector.StandingPoseLandmarks()
		shift := float64(frame.Cols()) / 8
		for i := range lm.Points {
			lm.Points[i].X += shift
		}
		return &lm, nil
	})
	return mock
}

// twoClassTree creates images/<class>/<n>.png with 5 "down" and 3 "up" images.
func twoClassTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "images")
	for i, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		writeImage(t, filepath.Join(root, "down", name), 64+8*i)
	}
	for i, name := range []string{"x.png", "y.png", "z.png"} {
		writeImage(t, filepath.Join(root, "up", name), 96+8*i)
	}
	return root
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestBuilder_ClassNames(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"up", "down", ".hidden", "middle"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(BuilderConfig{ImagesDir: root}, detector.NewMockDetector())
	got, err := b.ClassNames()
	if err != nil {
		t.Fatalf("ClassNames() error = %v", err)
	}

	want := []string{"down", "middle", "up"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ClassNames() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_Build(t *testing.T) {
	root := twoClassTree(t)
	out := filepath.Join(t.TempDir(), "out", "poses.csv")

	b := NewBuilder(BuilderConfig{
		ImagesDir:          root,
		OutputCSV:          out,
		DetectionThreshold: DefaultDetectionThreshold,
	}, scriptedDetector())

	report, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if report.Rows != 8 {
		t.Errorf("expected 8 rows, got %d", report.Rows)
	}
	if len(report.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %v", report.Messages())
	}

	table, err := ReadTable(out)
	if err != nil {
		t.Fatalf("ReadTable() error = %v", err)
	}
	if len(table.Rows) != 8 {
		t.Fatalf("expected 8 table rows, got %d", len(table.Rows))
	}

	var names []string
	var classNos []int
	for _, r := range table.Rows {
		names = append(names, r.FileName)
		classNos = append(classNos, r.ClassNo)
	}
	wantNames := []string{
		"down/a.png", "down/b.png", "down/c.png", "down/d.png", "down/e.png",
		"up/x.png", "up/y.png", "up/z.png",
	}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("file names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 0, 0, 0, 0, 1, 1, 1}, classNos); diff != "" {
		t.Errorf("class numbers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"down", "up"}, table.ClassNames()); diff != "" {
		t.Errorf("class names mismatch (-want +got):\n%s", diff)
	}

	t.Run("every line has 102 columns", func(t *testing.T) {
		lines := strings.Split(strings.TrimSpace(string(readFile(t, out))), "\n")
		if len(lines) != 9 {
			t.Fatalf("expected header + 8 lines, got %d", len(lines))
		}
		for i, line := range lines {
			if n := len(strings.Split(line, ",")); n != NumColumns {
				t.Errorf("line %d has %d columns, want %d", i, n, NumColumns)
			}
		}
	})

	t.Run("landmark values round trip", func(t *testing.T) {
		want := report.Records[0].Landmarks.Flatten()
		if diff := cmp.Diff(want, table.Rows[0].Values); diff != "" {
			t.Errorf("values mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("class summaries", func(t *testing.T) {
		want := []ClassSummary{
			{Name: "down", ClassNo: 0, Images: 5, Valid: 5},
			{Name: "up", ClassNo: 1, Images: 3, Valid: 3},
		}
		if diff := cmp.Diff(want, report.Classes); diff != "" {
			t.Errorf("summaries mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no temporary table left behind", func(t *testing.T) {
		if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
			t.Errorf("expected no %s.tmp, stat error = %v", out, err)
		}
	})
}

func TestBuilder_Deterministic(t *testing.T) {
	root := twoClassTree(t)
	dir := t.TempDir()

	build := func(name string, workers int) []byte {
		out := filepath.Join(dir, name)
		b := NewBuilder(BuilderConfig{
			ImagesDir:          root,
			OutputCSV:          out,
			DetectionThreshold: 0.1,
			Workers:            workers,
		}, scriptedDetector())
		if _, err := b.Build(context.Background()); err != nil {
			t.Fatalf("Build(workers=%d) error = %v", workers, err)
		}
		return readFile(t, out)
	}

	first := build("first.csv", 1)
	second := build("second.csv", 1)
	parallel := build("parallel.csv", 4)

	if !bytes.Equal(first, second) {
		t.Error("two sequential builds produced different tables")
	}
	if !bytes.Equal(first, parallel) {
		t.Error("parallel build differs from sequential build")
	}
}

func TestBuilder_Skips(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	writeImage(t, filepath.Join(root, "pose", "1.png"), 64)
	writeImage(t, filepath.Join(root, "pose", "2.png"), noPoseWidth)
	writeImage(t, filepath.Join(root, "pose", "4.png"), 72)
	if err := os.WriteFile(filepath.Join(root, "pose", "3.png"), []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "poses.csv")
	b := NewBuilder(BuilderConfig{ImagesDir: root, OutputCSV: out, DetectionThreshold: 0.1}, scriptedDetector())

	report, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if report.Rows != 2 {
		t.Errorf("expected 2 rows, got %d", report.Rows)
	}

	want := []string{
		"Skipped " + filepath.Join(root, "pose", "2.png") + ". No pose was confidently detected.",
		"Skipped " + filepath.Join(root, "pose", "3.png") + ". Invalid image.",
	}
	if diff := cmp.Diff(want, report.Messages()); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	if report.Classes[0].Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", report.Classes[0].Skipped)
	}
}

func TestBuilder_EmptyClass(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	writeImage(t, filepath.Join(root, "good", "1.png"), 64)
	writeImage(t, filepath.Join(root, "nothing", "1.png"), noPoseWidth)
	writeImage(t, filepath.Join(root, "nothing", "2.png"), noPoseWidth)

	out := filepath.Join(t.TempDir(), "poses.csv")
	b := NewBuilder(BuilderConfig{ImagesDir: root, OutputCSV: out, DetectionThreshold: 0.1}, scriptedDetector())

	report, err := b.Build(context.Background())
	if !errors.Is(err, ErrEmptyClass) {
		t.Fatalf("expected ErrEmptyClass, got %v", err)
	}

	var emptyErr *EmptyClassError
	if !errors.As(err, &emptyErr) || emptyErr.Class != "nothing" {
		t.Errorf("expected empty class %q, got %v", "nothing", err)
	}
	if report == nil || len(report.Diagnostics) != 2 {
		t.Errorf("expected partial report with 2 diagnostics, got %+v", report)
	}

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("no table should be written, stat error = %v", err)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("no partial table should be written, stat error = %v", err)
	}
}

func TestBuilder_Limit(t *testing.T) {
	root := twoClassTree(t)
	out := filepath.Join(t.TempDir(), "poses.csv")

	b := NewBuilder(BuilderConfig{
		ImagesDir:          root,
		OutputCSV:          out,
		PerClassLimit:      2,
		DetectionThreshold: 0.1,
	}, scriptedDetector())

	report, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var names []string
	for _, r := range report.Records {
		names = append(names, r.QualifiedName())
	}
	want := []string{"down/a.png", "down/b.png", "up/x.png", "up/y.png"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_DetectorFailureAborts(t *testing.T) {
	root := twoClassTree(t)
	out := filepath.Join(t.TempDir(), "poses.csv")

	mock := detector.NewMockDetector()
	mock.SetError(errors.New("service crashed"))

	b := NewBuilder(BuilderConfig{ImagesDir: root, OutputCSV: out, DetectionThreshold: 0.1, Workers: 2}, mock)
	_, err := b.Build(context.Background())
	if err == nil || !strings.Contains(err.Error(), "service crashed") {
		t.Fatalf("expected detector error, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("no table should be written, stat error = %v", err)
	}
}

func TestBuilder_DebugImages(t *testing.T) {
	root := twoClassTree(t)
	debug := filepath.Join(t.TempDir(), "debug")

	b := NewBuilder(BuilderConfig{
		ImagesDir:          root,
		OutputCSV:          filepath.Join(t.TempDir(), "poses.csv"),
		DebugImagesDir:     debug,
		DetectionThreshold: 0.1,
	}, scriptedDetector())

	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	img := gocv.IMRead(filepath.Join(debug, "up", "x.png"), gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		t.Error("expected annotated debug image")
	}
}

func TestBuilder_OnImage(t *testing.T) {
	root := twoClassTree(t)

	var mu sync.Mutex
	seen := 0

	b := NewBuilder(BuilderConfig{
		ImagesDir:          root,
		OutputCSV:          filepath.Join(t.TempDir(), "poses.csv"),
		DetectionThreshold: 0.1,
		Workers:            3,
	}, scriptedDetector())
	b.OnImage(func(class, image string) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if seen != 8 {
		t.Errorf("expected 8 progress callbacks, got %d", seen)
	}
}

func TestBuilder_InvalidConfig(t *testing.T) {
	root := twoClassTree(t)
	out := filepath.Join(t.TempDir(), "poses.csv")

	tests := []struct {
		name   string
		config BuilderConfig
	}{
		{"missing images dir", BuilderConfig{OutputCSV: out}},
		{"missing output", BuilderConfig{ImagesDir: root}},
		{"threshold above one", BuilderConfig{ImagesDir: root, OutputCSV: out, DetectionThreshold: 1.5}},
		{"negative limit", BuilderConfig{ImagesDir: root, OutputCSV: out, PerClassLimit: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tt.config, scriptedDetector())
			if _, err := b.Build(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuilder_Canceled(t *testing.T) {
	root := twoClassTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(BuilderConfig{
		ImagesDir:          root,
		OutputCSV:          filepath.Join(t.TempDir(), "poses.csv"),
		DetectionThreshold: 0.1,
	}, scriptedDetector())

	if _, err := b.Build(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
