package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/posekit/internal/dataset"
	"github.com/ayusman/posekit/internal/detector"
	"github.com/ayusman/posekit/internal/store"
)

const noPoseWidth = 48

func writeImage(t *testing.T, path string, width int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), 64, width, gocv.MatTypeCV8UC3)
	defer img.Close()
	require.True(t, gocv.IMWrite(path, img), "write %s", path)
}

// testApp returns an App whose detector finds a standing pose in every frame
// except noPoseWidth frames.
func testApp(t *testing.T) (*App, *bytes.Buffer, *detector.MockDetector) {
	t.Helper()
	mock := detector.NewMockDetector()
	mock.SetResponder(func(frame *gocv.Mat) (*detector.PoseLandmarks, error) {
		if frame.Cols() == noPoseWidth {
			return nil, detector.ErrNoDetection
		}
		lm := detector.StandingPoseLandmarks()
		return &lm, nil
	})

	var out bytes.Buffer
	app := New(&out, &bytes.Buffer{})
	app.NewDetector = func(detector.Config) (detector.Detector, error) {
		return mock, nil
	}
	return app, &out, mock
}

func imageTree(t *testing.T, widths map[string][]int) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "images")
	for class, ws := range widths {
		for i, w := range ws {
			writeImage(t, filepath.Join(root, class, string(rune('a'+i))+".png"), w)
		}
	}
	return root
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	return exitErr.Code
}

func TestRun_UsageErrors(t *testing.T) {
	app, _, _ := testApp(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"train"}},
		{"unknown flag", []string{"build", "-bogus"}},
		{"build without paths", []string{"build", "-images", "x"}},
		{"split without paths", []string{"split", "-src", "x"}},
		{"split bad fraction", []string{"split", "-src", "a", "-dest", "b", "-test", "1.5"}},
		{"split NaN fraction", []string{"split", "-src", "a", "-dest", "b", "-test", "NaN"}},
		{"NaN threshold", []string{"build", "-images", "a", "-out", "b", "-threshold", "NaN"}},
		{"embed without paths", []string{"embed", "-in", "x"}},
		{"bad log level", []string{"embed", "-log-level", "loud", "-in", "a", "-out", "b"}},
		{"bad threshold", []string{"build", "-images", "a", "-out", "b", "-threshold", "2"}},
		{"missing config", []string{"split", "-config", "/nonexistent/posekit.hcl"}},
		{"stray argument", []string{"split", "-src", "a", "-dest", "b", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 2, exitCode(t, app.Run(ctx, tt.args)))
		})
	}
}

func TestRun_Help(t *testing.T) {
	app, out, _ := testApp(t)

	require.NoError(t, app.Run(context.Background(), []string{"build", "-h"}))
	assert.Contains(t, out.String(), "posekit build [options]")
	assert.Contains(t, out.String(), "-threshold")
}

func TestRun_Split(t *testing.T) {
	src := t.TempDir()
	for _, class := range []string{"down", "up"} {
		for i := 0; i < 10; i++ {
			p := filepath.Join(src, class, string(rune('a'+i))+".jpg")
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
			require.NoError(t, os.WriteFile(p, []byte(class), 0644))
		}
	}
	dest := t.TempDir()

	app, out, _ := testApp(t)
	err := app.Run(context.Background(), []string{"split", "-src", src, "-dest", dest, "-test", "0.3"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "down: 7 train, 3 test")
	assert.Contains(t, out.String(), "up: 7 train, 3 test")

	entries, err := os.ReadDir(filepath.Join(dest, dataset.TestDir, "up"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRun_Build(t *testing.T) {
	root := imageTree(t, map[string][]int{
		"down": {64, 72, noPoseWidth},
		"up":   {80, 88},
	})
	outDir := t.TempDir()
	csvPath := filepath.Join(outDir, "poses.csv")
	dbPath := filepath.Join(outDir, "catalog.db")

	app, out, mock := testApp(t)
	err := app.Run(context.Background(), []string{
		"build", "-images", root, "-out", csvPath, "-catalog", dbPath, "-workers", "2",
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Wrote 4 rows")
	assert.True(t, mock.Closed(), "detector should be closed after build")

	table, err := dataset.ReadTable(csvPath)
	require.NoError(t, err)
	assert.Len(t, table.Rows, 4)
	assert.Equal(t, []string{"down", "up"}, table.ClassNames())

	st, err := store.New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.Runs().List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunSucceeded, runs[0].Status)
	assert.Equal(t, 4, runs[0].Rows)

	count, err := st.Records().CountByRun(runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	messages, err := st.Runs().Messages(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, string(dataset.SkipNoDetection), messages[0].Reason)
	assert.Contains(t, messages[0].Text, "No pose was confidently detected")
}

func TestRun_BuildEmptyClass(t *testing.T) {
	root := imageTree(t, map[string][]int{
		"down": {64},
		"up":   {noPoseWidth, noPoseWidth},
	})
	outDir := t.TempDir()
	csvPath := filepath.Join(outDir, "poses.csv")
	dbPath := filepath.Join(outDir, "catalog.db")

	app, _, _ := testApp(t)
	err := app.Run(context.Background(), []string{
		"build", "-images", root, "-out", csvPath, "-catalog", dbPath, "-progress=false",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrEmptyClass)
	assert.Contains(t, err.Error(), `"up"`)

	var exitErr *ExitError
	assert.NotErrorAs(t, err, &exitErr, "an empty class is a runtime failure")

	_, statErr := os.Stat(csvPath)
	assert.True(t, os.IsNotExist(statErr), "no table should be written")

	st, err := store.New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.Runs().List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "up")

	count, err := st.Records().CountByRun(runs[0].ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRun_BuildFailureLogsSkips(t *testing.T) {
	root := imageTree(t, map[string][]int{
		"down": {noPoseWidth, 64},
		"up":   {72},
	})

	mock := detector.NewMockDetector()
	mock.SetResponder(func(frame *gocv.Mat) (*detector.PoseLandmarks, error) {
		switch frame.Cols() {
		case noPoseWidth:
			return nil, detector.ErrNoDetection
		case 72:
			return nil, errors.New("pose service crashed")
		}
		lm := detector.StandingPoseLandmarks()
		return &lm, nil
	})

	var stderr bytes.Buffer
	app := New(&bytes.Buffer{}, &stderr)
	app.NewDetector = func(detector.Config) (detector.Detector, error) {
		return mock, nil
	}

	err := app.Run(context.Background(), []string{
		"build", "-images", root, "-out", filepath.Join(t.TempDir(), "poses.csv"), "-progress=false",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pose service crashed")
	assert.Contains(t, stderr.String(), "No pose was confidently detected")
}

func TestRun_BuildConfigFile(t *testing.T) {
	root := imageTree(t, map[string][]int{
		"down": {64, 72, 80},
		"up":   {88, 96, 104},
	})
	outDir := t.TempDir()
	csvPath := filepath.Join(outDir, "poses.csv")

	configPath := filepath.Join(outDir, "posekit.hcl")
	src := `
build {
  images_dir      = "` + root + `"
  output_csv      = "` + filepath.Join(outDir, "ignored.csv") + `"
  per_class_limit = 2
}
`
	require.NoError(t, os.WriteFile(configPath, []byte(src), 0644))

	app, _, mock := testApp(t)
	err := app.Run(context.Background(), []string{
		"build", "-config", configPath, "-out", csvPath, "-progress=false",
	})
	require.NoError(t, err)

	table, err := dataset.ReadTable(csvPath)
	require.NoError(t, err)
	assert.Len(t, table.Rows, 4, "per_class_limit from the config file applies")
	assert.Equal(t, 4, mock.Calls())

	_, statErr := os.Stat(filepath.Join(outDir, "ignored.csv"))
	assert.True(t, os.IsNotExist(statErr), "-out overrides output_csv")
}

func TestRun_Embed(t *testing.T) {
	root := imageTree(t, map[string][]int{
		"down": {64, 72},
		"up":   {80},
	})
	outDir := t.TempDir()
	csvPath := filepath.Join(outDir, "poses.csv")
	embPath := filepath.Join(outDir, "emb", "embeddings.csv")

	app, out, _ := testApp(t)
	ctx := context.Background()
	require.NoError(t, app.Run(ctx, []string{"build", "-images", root, "-out", csvPath, "-progress=false"}))
	require.NoError(t, app.Run(ctx, []string{"embed", "-in", csvPath, "-out", embPath}))

	assert.Contains(t, out.String(), "Wrote 3 embeddings")

	data, err := os.ReadFile(embPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	header := strings.Split(lines[0], ",")
	assert.Equal(t, "file_name", header[0])
	assert.Equal(t, "class_name", header[len(header)-1])
	assert.Len(t, header, 69)
}

func TestRun_EmbedMissingTable(t *testing.T) {
	app, _, _ := testApp(t)
	err := app.Run(context.Background(), []string{"embed", "-in", filepath.Join(t.TempDir(), "none.csv"), "-out", filepath.Join(t.TempDir(), "e.csv")})
	require.Error(t, err)

	var exitErr *ExitError
	assert.NotErrorAs(t, err, &exitErr, "runtime failures are not usage errors")
}

func TestRun_ServeStopsOnCancel(t *testing.T) {
	app, _, _ := testApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := app.Run(ctx, []string{"serve", "-addr", "127.0.0.1:0", "-catalog", filepath.Join(t.TempDir(), "c.db")})
	assert.NoError(t, err)
}
