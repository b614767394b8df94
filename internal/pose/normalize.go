// Package pose turns raw landmark coordinates into the pose embedding consumed
// by the classifier.
package pose

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/posekit/internal/detector"
)

// TorsoSizeMultiplier scales the torso length into the minimum pose size.
const TorsoSizeMultiplier = 2.5

// EmbeddingSize is the length of a pose embedding (33 points x 2 dims).
const EmbeddingSize = detector.NumLandmarks * 2

// ErrDegenerateGeometry is returned when the pose size is zero or not finite.
var ErrDegenerateGeometry = errors.New("degenerate pose geometry")

// PoseScale describes how a pose was scaled during normalization.
type PoseScale struct {
	TorsoSize float64 // shoulders center to hips center
	MaxDist   float64 // farthest landmark from the pose center
	Size      float64 // max(TorsoSize*multiplier, MaxDist)
}

// LandmarkMatrix returns the 33x2 (x, y) matrix of a pose. Z is dropped.
func LandmarkMatrix(lm *detector.PoseLandmarks) *mat.Dense {
	m := mat.NewDense(detector.NumLandmarks, 2, nil)
	for i, p := range lm.Points {
		m.Set(i, 0, p.X)
		m.Set(i, 1, p.Y)
	}
	return m
}

// CenterPoint returns the midpoint of two landmarks.
func CenterPoint(m mat.Matrix, a, b detector.BodyPart) []float64 {
	return []float64{
		m.At(int(a), 0)*0.5 + m.At(int(b), 0)*0.5,
		m.At(int(a), 1)*0.5 + m.At(int(b), 1)*0.5,
	}
}

// PoseSize computes the scale of a pose matrix. The pose center is the hip
// midpoint; it does not need to be at the origin.
func PoseSize(m mat.Matrix, torsoMultiplier float64) (PoseScale, error) {
	if err := checkShape(m); err != nil {
		return PoseScale{}, err
	}

	hips := CenterPoint(m, detector.LeftHip, detector.RightHip)
	shoulders := CenterPoint(m, detector.LeftShoulder, detector.RightShoulder)

	scale := PoseScale{
		TorsoSize: floats.Distance(shoulders, hips, 2),
	}

	row := make([]float64, 2)
	for i := 0; i < detector.NumLandmarks; i++ {
		mat.Row(row, i, m)
		if d := floats.Distance(row, hips, 2); d > scale.MaxDist {
			scale.MaxDist = d
		}
	}

	scale.Size = math.Max(scale.TorsoSize*torsoMultiplier, scale.MaxDist)

	if scale.Size == 0 || math.IsNaN(scale.Size) || math.IsInf(scale.Size, 0) {
		return scale, fmt.Errorf("%w: pose size %v", ErrDegenerateGeometry, scale.Size)
	}
	return scale, nil
}

// Normalize moves the hip center to the origin and scales the pose to unit
// size. The input is not modified.
func Normalize(m mat.Matrix) (*mat.Dense, error) {
	if err := checkShape(m); err != nil {
		return nil, err
	}
	if !finite(m) {
		return nil, fmt.Errorf("%w: non-finite landmark coordinate", ErrDegenerateGeometry)
	}

	center := CenterPoint(m, detector.LeftHip, detector.RightHip)

	out := mat.DenseCopyOf(m)
	for i := 0; i < detector.NumLandmarks; i++ {
		out.Set(i, 0, out.At(i, 0)-center[0])
		out.Set(i, 1, out.At(i, 1)-center[1])
	}

	scale, err := PoseSize(out, TorsoSizeMultiplier)
	if err != nil {
		return nil, err
	}

	out.Apply(func(_, _ int, v float64) float64 { return v / scale.Size }, out)
	if !finite(out) {
		return nil, fmt.Errorf("%w: non-finite normalized coordinate", ErrDegenerateGeometry)
	}
	return out, nil
}

// Embedding normalizes the (x, y) landmarks of a pose and flattens them
// row-major into EmbeddingSize values.
func Embedding(lm *detector.PoseLandmarks) ([]float64, error) {
	if lm == nil {
		return nil, errors.New("nil landmarks")
	}
	return embed(LandmarkMatrix(lm))
}

// EmbeddingFromRow builds the embedding from a flat x, y, z row of 99 values
// as stored in the aggregated table.
func EmbeddingFromRow(values []float64) ([]float64, error) {
	if len(values) != detector.NumLandmarks*3 {
		return nil, fmt.Errorf("expected %d landmark values, got %d", detector.NumLandmarks*3, len(values))
	}

	m := mat.NewDense(detector.NumLandmarks, 2, nil)
	for i := 0; i < detector.NumLandmarks; i++ {
		m.Set(i, 0, values[i*3])
		m.Set(i, 1, values[i*3+1])
	}
	return embed(m)
}

// EmbeddingFromPoints builds the embedding from 33 (x, y) pairs.
func EmbeddingFromPoints(points [][]float64) ([]float64, error) {
	if len(points) != detector.NumLandmarks {
		return nil, fmt.Errorf("expected %d landmarks, got %d", detector.NumLandmarks, len(points))
	}

	m := mat.NewDense(detector.NumLandmarks, 2, nil)
	for i, p := range points {
		if len(p) < 2 {
			return nil, fmt.Errorf("landmark %d has %d coordinates", i, len(p))
		}
		m.Set(i, 0, p[0])
		m.Set(i, 1, p[1])
	}
	return embed(m)
}

func embed(m *mat.Dense) ([]float64, error) {
	normalized, err := Normalize(m)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, EmbeddingSize)
	row := make([]float64, 2)
	for i := 0; i < detector.NumLandmarks; i++ {
		mat.Row(row, i, normalized)
		out = append(out, row...)
	}
	return out, nil
}

func checkShape(m mat.Matrix) error {
	r, c := m.Dims()
	if r != detector.NumLandmarks || c != 2 {
		return fmt.Errorf("landmark matrix is %dx%d, expected %dx2", r, c, detector.NumLandmarks)
	}
	return nil
}

func finite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
