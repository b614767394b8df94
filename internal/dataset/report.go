package dataset

import (
	"fmt"
	"log/slog"
)

// SkipReason classifies a skipped or degraded image.
type SkipReason string

const (
	// SkipUnreadable means the image could not be decoded.
	SkipUnreadable SkipReason = "unreadable_image"
	// SkipNoDetection means no pose cleared the detection threshold.
	SkipNoDetection SkipReason = "no_detection"
	// AnnotationFailed means the record was kept but its debug image was not written.
	AnnotationFailed SkipReason = "annotation_failed"
)

// Diagnostic is one per-image message collected during a build.
type Diagnostic struct {
	Reason SkipReason
	Path   string
	Detail string
}

// String renders the diagnostic for humans.
func (d Diagnostic) String() string {
	switch d.Reason {
	case SkipUnreadable:
		return fmt.Sprintf("Skipped %s. Invalid image.", d.Path)
	case SkipNoDetection:
		return fmt.Sprintf("Skipped %s. No pose was confidently detected.", d.Path)
	default:
		return fmt.Sprintf("Could not annotate %s: %s", d.Path, d.Detail)
	}
}

// ClassSummary holds per-class counts.
type ClassSummary struct {
	Name    string `json:"name"`
	ClassNo int    `json:"class_no"`
	Images  int    `json:"images"`
	Valid   int    `json:"valid"`
	Skipped int    `json:"skipped"`
}

// Report is the result of a build. Diagnostics are in class order, then
// image order, independent of worker count.
type Report struct {
	OutputPath  string
	Classes     []ClassSummary
	Rows        int
	Diagnostics []Diagnostic
	Records     []PoseRecord
}

// Messages returns the diagnostics as display strings.
func (r *Report) Messages() []string {
	out := make([]string, len(r.Diagnostics))
	for i, d := range r.Diagnostics {
		out[i] = d.String()
	}
	return out
}

// Log writes the whole report at once.
func (r *Report) Log(logger *slog.Logger) {
	for _, d := range r.Diagnostics {
		logger.Warn(d.String(), "reason", string(d.Reason))
	}
	for _, c := range r.Classes {
		logger.Info("Class summary", "class", c.Name, "class_no", c.ClassNo,
			"images", c.Images, "valid", c.Valid, "skipped", c.Skipped)
	}
	logger.Info("Dataset written", "path", r.OutputPath, "rows", r.Rows)
}
