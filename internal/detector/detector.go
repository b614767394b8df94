package detector

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// ErrNoDetection is returned when no pose was confidently detected in a frame.
var ErrNoDetection = errors.New("no pose detected")

// Detector defines the interface for pose landmark detection implementations.
type Detector interface {
	// Detect analyzes a decoded BGR image and returns the pose landmarks in
	// pixel coordinates. Returns ErrNoDetection if no pose clears minConfidence.
	Detect(frame *gocv.Mat, minConfidence float64) (*PoseLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for pose detection.
type Config struct {
	// PythonPath overrides the interpreter used for the MediaPipe service.
	PythonPath string

	// ScriptPath overrides the location of pose_service.py.
	ScriptPath string

	// ModelComplexity is passed to MediaPipe Pose (0, 1 or 2).
	ModelComplexity int

	// IdleTimeout stops the service after a period without requests.
	IdleTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelComplexity: 1,
		IdleTimeout:     30 * time.Second,
	}
}

// ValidateConfidence checks that a detection threshold lies in [0,1].
func ValidateConfidence(minConfidence float64) error {
	if !(minConfidence >= 0 && minConfidence <= 1) {
		return fmt.Errorf("detection confidence %v outside [0,1]", minConfidence)
	}
	return nil
}
