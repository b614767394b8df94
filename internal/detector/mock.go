package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu        sync.Mutex
	pose      *PoseLandmarks
	err       error
	responder func(frame *gocv.Mat) (*PoseLandmarks, error)
	calls     int
	closed    bool
}

// NewMockDetector creates a new MockDetector instance.
// Until configured, every call reports ErrNoDetection.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetPose sets the pose that will be returned by Detect.
func (m *MockDetector) SetPose(pose *PoseLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pose = pose
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetResponder installs a per-frame callback that takes precedence over
// SetPose and SetError.
func (m *MockDetector) SetResponder(fn func(frame *gocv.Mat) (*PoseLandmarks, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
}

// Detect returns the pre-configured pose or error.
func (m *MockDetector) Detect(frame *gocv.Mat, minConfidence float64) (*PoseLandmarks, error) {
	if err := ValidateConfidence(minConfidence); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls++
	responder, pose, err := m.responder, m.pose, m.err
	m.mu.Unlock()

	if responder != nil {
		return responder(frame)
	}
	if err != nil {
		return nil, err
	}
	if pose == nil {
		return nil, ErrNoDetection
	}
	out := *pose
	return &out, nil
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// StandingPoseLandmarks returns a preset upright pose in pixel coordinates,
// roughly centered in a 640x480 frame.
func StandingPoseLandmarks() PoseLandmarks {
	lm := PoseLandmarks{Score: 0.95}

	// Head
	lm.Points[Nose] = Point3D{X: 320, Y: 80, Z: -0.30, Visibility: 0.99}
	lm.Points[LeftEyeInner] = Point3D{X: 326, Y: 72, Z: -0.28, Visibility: 0.99}
	lm.Points[LeftEye] = Point3D{X: 330, Y: 72, Z: -0.28, Visibility: 0.99}
	lm.Points[LeftEyeOuter] = Point3D{X: 334, Y: 72, Z: -0.28, Visibility: 0.99}
	lm.Points[RightEyeInner] = Point3D{X: 314, Y: 72, Z: -0.28, Visibility: 0.99}
	lm.Points[RightEye] = Point3D{X: 310, Y: 72, Z: -0.28, Visibility: 0.99}
	lm.Points[RightEyeOuter] = Point3D{X: 306, Y: 72, Z: -0.28, Visibility: 0.99}
	lm.Points[LeftEar] = Point3D{X: 342, Y: 78, Z: -0.15, Visibility: 0.95}
	lm.Points[RightEar] = Point3D{X: 298, Y: 78, Z: -0.15, Visibility: 0.95}
	lm.Points[MouthLeft] = Point3D{X: 328, Y: 92, Z: -0.26, Visibility: 0.99}
	lm.Points[MouthRight] = Point3D{X: 312, Y: 92, Z: -0.26, Visibility: 0.99}

	// Arms hanging at the sides
	lm.Points[LeftShoulder] = Point3D{X: 370, Y: 130, Z: -0.10, Visibility: 0.99}
	lm.Points[RightShoulder] = Point3D{X: 270, Y: 130, Z: -0.10, Visibility: 0.99}
	lm.Points[LeftElbow] = Point3D{X: 385, Y: 200, Z: -0.05, Visibility: 0.97}
	lm.Points[RightElbow] = Point3D{X: 255, Y: 200, Z: -0.05, Visibility: 0.97}
	lm.Points[LeftWrist] = Point3D{X: 390, Y: 265, Z: -0.08, Visibility: 0.95}
	lm.Points[RightWrist] = Point3D{X: 250, Y: 265, Z: -0.08, Visibility: 0.95}
	lm.Points[LeftPinky] = Point3D{X: 394, Y: 280, Z: -0.09, Visibility: 0.90}
	lm.Points[RightPinky] = Point3D{X: 246, Y: 280, Z: -0.09, Visibility: 0.90}
	lm.Points[LeftIndex] = Point3D{X: 390, Y: 284, Z: -0.10, Visibility: 0.90}
	lm.Points[RightIndex] = Point3D{X: 250, Y: 284, Z: -0.10, Visibility: 0.90}
	lm.Points[LeftThumb] = Point3D{X: 386, Y: 276, Z: -0.10, Visibility: 0.90}
	lm.Points[RightThumb] = Point3D{X: 254, Y: 276, Z: -0.10, Visibility: 0.90}

	// Legs
	lm.Points[LeftHip] = Point3D{X: 345, Y: 260, Z: 0.0, Visibility: 0.99}
	lm.Points[RightHip] = Point3D{X: 295, Y: 260, Z: 0.0, Visibility: 0.99}
	lm.Points[LeftKnee] = Point3D{X: 348, Y: 345, Z: 0.02, Visibility: 0.97}
	lm.Points[RightKnee] = Point3D{X: 292, Y: 345, Z: 0.02, Visibility: 0.97}
	lm.Points[LeftAnkle] = Point3D{X: 350, Y: 425, Z: 0.08, Visibility: 0.95}
	lm.Points[RightAnkle] = Point3D{X: 290, Y: 425, Z: 0.08, Visibility: 0.95}
	lm.Points[LeftHeel] = Point3D{X: 348, Y: 438, Z: 0.10, Visibility: 0.90}
	lm.Points[RightHeel] = Point3D{X: 292, Y: 438, Z: 0.10, Visibility: 0.90}
	lm.Points[LeftFootIndex] = Point3D{X: 358, Y: 445, Z: 0.0, Visibility: 0.90}
	lm.Points[RightFootIndex] = Point3D{X: 282, Y: 445, Z: 0.0, Visibility: 0.90}

	return lm
}

// RaisedArmsPoseLandmarks returns the standing pose with both arms stretched
// overhead, so the wrists lie far from the torso.
func RaisedArmsPoseLandmarks() PoseLandmarks {
	lm := StandingPoseLandmarks()

	lm.Points[LeftElbow] = Point3D{X: 390, Y: 60, Z: -0.05, Visibility: 0.97}
	lm.Points[RightElbow] = Point3D{X: 250, Y: 60, Z: -0.05, Visibility: 0.97}
	lm.Points[LeftWrist] = Point3D{X: 400, Y: 0, Z: -0.08, Visibility: 0.95}
	lm.Points[RightWrist] = Point3D{X: 240, Y: 0, Z: -0.08, Visibility: 0.95}
	lm.Points[LeftPinky] = Point3D{X: 404, Y: -14, Z: -0.09, Visibility: 0.90}
	lm.Points[RightPinky] = Point3D{X: 236, Y: -14, Z: -0.09, Visibility: 0.90}
	lm.Points[LeftIndex] = Point3D{X: 400, Y: -18, Z: -0.10, Visibility: 0.90}
	lm.Points[RightIndex] = Point3D{X: 240, Y: -18, Z: -0.10, Visibility: 0.90}
	lm.Points[LeftThumb] = Point3D{X: 394, Y: -10, Z: -0.10, Visibility: 0.90}
	lm.Points[RightThumb] = Point3D{X: 246, Y: -10, Z: -0.10, Visibility: 0.90}

	return lm
}
