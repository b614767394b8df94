package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"

	"github.com/ayusman/posekit/internal/ctxlog"
	"github.com/ayusman/posekit/internal/dataset"
	"github.com/ayusman/posekit/internal/detector"
	"github.com/ayusman/posekit/internal/pose"
	"github.com/ayusman/posekit/internal/server"
	"github.com/ayusman/posekit/internal/store"
)

const progressTemplate = `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . "%.01f%%" "?"}} {{etime . "%s elapsed"}} {{rtime . "%s remain" "%s total" "???"}}`

func (a *App) runSplit(ctx context.Context, args []string) error {
	fs, common := a.newFlagSet("split", "Copy a class-per-folder image tree into train and test subsets.")
	src := fs.String("src", "", "Source image tree with one folder per class.")
	dest := fs.String("dest", "", "Destination; train/ and test/ are created inside.")
	testFraction := fs.Float64("test", 0.2, "Fraction of each class copied to the test subset.")
	seed := fs.Int64("seed", dataset.DefaultSplitSeed, "Shuffle seed.")

	ctx, cfg, set, err := a.parse(ctx, fs, common, args)
	if err != nil {
		return handleHelp(err)
	}
	if set["src"] {
		cfg.Split.Source = *src
	}
	if set["dest"] {
		cfg.Split.Dest = *dest
	}
	if set["test"] {
		cfg.Split.TestFraction = *testFraction
	}
	if set["seed"] {
		cfg.Split.Seed = *seed
	}
	if cfg.Split.Source == "" || cfg.Split.Dest == "" {
		return usageError("split requires -src and -dest")
	}
	if !(cfg.Split.TestFraction >= 0 && cfg.Split.TestFraction <= 1) {
		return usageError("-test must be in [0,1], got %v", cfg.Split.TestFraction)
	}

	report, err := dataset.Split(ctx, dataset.SplitConfig{
		Source:       cfg.Split.Source,
		Dest:         cfg.Split.Dest,
		TestFraction: cfg.Split.TestFraction,
		Seed:         cfg.Split.Seed,
	})
	if err != nil {
		return fmt.Errorf("split failed: %w", err)
	}

	for _, c := range report.Classes {
		fmt.Fprintf(a.Stdout, "%s: %d train, %d test\n", c.Class, len(c.Train), len(c.Test))
	}
	return nil
}

func (a *App) runBuild(ctx context.Context, args []string) error {
	fs, common := a.newFlagSet("build", "Extract pose landmarks from an image tree into a CSV table.")
	images := fs.String("images", "", "Image tree with one folder per class.")
	out := fs.String("out", "", "Output CSV table.")
	debugImages := fs.String("debug-images", "", "Directory for annotated copies of processed images.")
	limit := fs.Int("limit", 0, "Maximum images per class. 0 means no limit.")
	threshold := fs.Float64("threshold", dataset.DefaultDetectionThreshold, "Minimum detection confidence in [0,1].")
	workers := fs.Int("workers", 1, "Images processed concurrently per class.")
	catalog := fs.String("catalog", "", "SQLite catalog to record the run in.")
	progress := fs.Bool("progress", true, "Show a progress bar.")

	ctx, cfg, set, err := a.parse(ctx, fs, common, args)
	if err != nil {
		return handleHelp(err)
	}
	if set["images"] {
		cfg.Build.ImagesDir = *images
	}
	if set["out"] {
		cfg.Build.OutputCSV = *out
	}
	if set["debug-images"] {
		cfg.Build.DebugImagesDir = *debugImages
	}
	if set["limit"] {
		cfg.Build.PerClassLimit = *limit
	}
	if set["threshold"] {
		cfg.Build.DetectionThreshold = *threshold
	}
	if set["workers"] {
		cfg.Build.Workers = *workers
	}
	if set["catalog"] {
		cfg.Catalog.Path = *catalog
	}
	if cfg.Build.ImagesDir == "" || cfg.Build.OutputCSV == "" {
		return usageError("build requires -images and -out")
	}
	if err := cfg.Validate(); err != nil {
		return usageError("%v", err)
	}

	logger := ctxlog.FromContext(ctx)

	det, err := a.NewDetector(detector.Config{
		PythonPath:      cfg.Detector.PythonPath,
		ScriptPath:      cfg.Detector.ScriptPath,
		ModelComplexity: cfg.Detector.ModelComplexity,
		IdleTimeout:     cfg.Detector.IdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	defer det.Close()

	builder := dataset.NewBuilder(dataset.BuilderConfig{
		ImagesDir:          cfg.Build.ImagesDir,
		OutputCSV:          cfg.Build.OutputCSV,
		DebugImagesDir:     cfg.Build.DebugImagesDir,
		PerClassLimit:      cfg.Build.PerClassLimit,
		DetectionThreshold: cfg.Build.DetectionThreshold,
		Workers:            cfg.Build.Workers,
	}, det)

	if *progress {
		total, err := countImages(builder)
		if err != nil {
			return err
		}
		bar := pb.ProgressBarTemplate(progressTemplate).New(total).SetWriter(a.Stderr).Start()
		defer bar.Finish()
		builder.OnImage(func(class, image string) {
			bar.Set("prefix", class)
			bar.Increment()
		})
	}

	var st *store.Store
	var run *store.Run
	if cfg.Catalog.Path != "" {
		st, err = store.New(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		defer st.Close()

		run = &store.Run{
			ImagesDir:          cfg.Build.ImagesDir,
			OutputCSV:          cfg.Build.OutputCSV,
			DetectionThreshold: cfg.Build.DetectionThreshold,
			PerClassLimit:      cfg.Build.PerClassLimit,
		}
		if err := st.Runs().Create(run); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		logger.Info("Recording build in catalog.", "run_id", run.ID, "catalog", cfg.Catalog.Path)
	}

	report, buildErr := builder.Build(ctx)

	if st != nil {
		if err := recordBuild(st, run.ID, report, buildErr); err != nil {
			logger.Error("Failed to record build in catalog.", "run_id", run.ID, "error", err)
		}
	}

	if buildErr != nil {
		// Build logs the report itself only on success.
		if report != nil {
			report.Log(logger)
		}
		return fmt.Errorf("build failed: %w", buildErr)
	}

	fmt.Fprintf(a.Stdout, "Wrote %d rows to %s\n", report.Rows, report.OutputPath)
	return nil
}

func countImages(b *dataset.Builder) (int, error) {
	classes, err := b.ClassNames()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range classes {
		images, err := b.ImageNames(c)
		if err != nil {
			return 0, err
		}
		total += len(images)
	}
	return total, nil
}

// recordBuild stores a build report in the catalog. A nil report still marks
// the run finished.
func recordBuild(st *store.Store, runID string, report *dataset.Report, buildErr error) error {
	outcome := store.Outcome{Err: buildErr}
	if report != nil {
		outcome.Rows = report.Rows
		for _, c := range report.Classes {
			outcome.Classes = append(outcome.Classes, store.Class{
				ClassNo: c.ClassNo,
				Name:    c.Name,
				Images:  c.Images,
				Valid:   c.Valid,
				Skipped: c.Skipped,
			})
		}
		for _, d := range report.Diagnostics {
			outcome.Messages = append(outcome.Messages, store.Message{
				Reason: string(d.Reason),
				Path:   d.Path,
				Text:   d.String(),
			})
		}

		if buildErr == nil {
			records := make([]store.Record, 0, len(report.Records))
			for _, r := range report.Records {
				records = append(records, store.Record{
					FileName:  r.QualifiedName(),
					ClassNo:   r.ClassNo,
					ClassName: r.ClassName,
					Landmarks: r.Landmarks.Flatten(),
				})
			}
			if err := st.Records().Add(runID, records); err != nil {
				return err
			}
		}
	}
	return st.Runs().Finish(runID, outcome)
}

func (a *App) runEmbed(ctx context.Context, args []string) error {
	fs, common := a.newFlagSet("embed", "Normalize a landmark table into pose embeddings.")
	in := fs.String("in", "", "Landmark table written by build.")
	out := fs.String("out", "", "Output CSV of embeddings.")

	ctx, _, _, err := a.parse(ctx, fs, common, args)
	if err != nil {
		return handleHelp(err)
	}
	if *in == "" || *out == "" {
		return usageError("embed requires -in and -out")
	}

	table, err := pose.EmbedTable(*in)
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}

	if dir := filepath.Dir(*out); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := pose.WriteEmbeddings(f, table); err != nil {
		f.Close()
		return fmt.Errorf("failed to write embeddings: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Info("Embeddings written.", "path", *out, "rows", len(table.Rows), "classes", table.ClassNames)
	fmt.Fprintf(a.Stdout, "Wrote %d embeddings to %s\n", len(table.Rows), *out)
	return nil
}

func (a *App) runServe(ctx context.Context, args []string) error {
	fs, common := a.newFlagSet("serve", "Serve the build catalog and the embedding API over HTTP.")
	addr := fs.String("addr", ":8080", "Listen address.")
	catalog := fs.String("catalog", "", "SQLite catalog to serve.")
	debugImages := fs.String("debug-images", "", "Directory of annotated images served under /debug/.")

	ctx, cfg, set, err := a.parse(ctx, fs, common, args)
	if err != nil {
		return handleHelp(err)
	}
	if set["addr"] {
		cfg.Catalog.Addr = *addr
	}
	if set["catalog"] {
		cfg.Catalog.Path = *catalog
	}
	if set["debug-images"] {
		cfg.Build.DebugImagesDir = *debugImages
	}

	logger := ctxlog.FromContext(ctx)

	srvConfig := server.Config{DebugImagesDir: cfg.Build.DebugImagesDir}
	if cfg.Catalog.Path != "" {
		st, err := store.New(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		defer st.Close()
		srvConfig.Store = st
	}

	logger.Info("Starting server.", "addr", cfg.Catalog.Addr, "catalog", cfg.Catalog.Path)
	if err := server.New(srvConfig).ListenAndServe(ctx, cfg.Catalog.Addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("Server stopped.")
	return nil
}
