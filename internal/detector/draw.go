package detector

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

var (
	connectionColor = color.RGBA{R: 245, G: 245, B: 245, A: 0}
	landmarkColor   = color.RGBA{R: 0, G: 0, B: 255, A: 0}
)

// Annotation drawing sizes.
const (
	ConnectionThickness = 2
	LandmarkRadius      = 3
)

// DrawPose renders the pose skeleton onto img in place.
func DrawPose(img *gocv.Mat, lm *PoseLandmarks) {
	if img == nil || lm == nil {
		return
	}

	for _, c := range PoseConnections {
		a, b := lm.Points[c.From], lm.Points[c.To]
		gocv.Line(img, toPixel(a), toPixel(b), connectionColor, ConnectionThickness)
	}

	for _, p := range lm.Points {
		gocv.Circle(img, toPixel(p), LandmarkRadius, landmarkColor, -1)
	}
}

// WriteAnnotated writes a copy of img with the pose drawn on it to path,
// creating parent directories as needed. img itself is left untouched.
func WriteAnnotated(path string, img gocv.Mat, lm *PoseLandmarks) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create annotation dir: %w", err)
	}

	annotated := img.Clone()
	defer annotated.Close()

	DrawPose(&annotated, lm)

	if ok := gocv.IMWrite(path, annotated); !ok {
		return fmt.Errorf("write annotated image %s", path)
	}
	return nil
}

func toPixel(p Point3D) image.Point {
	return image.Pt(int(p.X+0.5), int(p.Y+0.5))
}
