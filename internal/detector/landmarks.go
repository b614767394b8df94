// Package detector provides pose landmark types and the boundary to the
// external pose-detection model.
package detector

import (
	"fmt"
	"math"
)

// BodyPart identifies one of the 33 pose landmarks.
// Values follow the MediaPipe Pose convention.
// See: https://developers.google.com/mediapipe/solutions/vision/pose_landmarker
type BodyPart int

const (
	Nose BodyPart = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
)

// NumLandmarks is the number of landmarks in every valid pose.
const NumLandmarks = 33

var bodyPartNames = [NumLandmarks]string{
	Nose:           "NOSE",
	LeftEyeInner:   "LEFT_EYE_INNER",
	LeftEye:        "LEFT_EYE",
	LeftEyeOuter:   "LEFT_EYE_OUTER",
	RightEyeInner:  "RIGHT_EYE_INNER",
	RightEye:       "RIGHT_EYE",
	RightEyeOuter:  "RIGHT_EYE_OUTER",
	LeftEar:        "LEFT_EAR",
	RightEar:       "RIGHT_EAR",
	MouthLeft:      "MOUTH_LEFT",
	MouthRight:     "MOUTH_RIGHT",
	LeftShoulder:   "LEFT_SHOULDER",
	RightShoulder:  "RIGHT_SHOULDER",
	LeftElbow:      "LEFT_ELBOW",
	RightElbow:     "RIGHT_ELBOW",
	LeftWrist:      "LEFT_WRIST",
	RightWrist:     "RIGHT_WRIST",
	LeftPinky:      "LEFT_PINKY",
	RightPinky:     "RIGHT_PINKY",
	LeftIndex:      "LEFT_INDEX",
	RightIndex:     "RIGHT_INDEX",
	LeftThumb:      "LEFT_THUMB",
	RightThumb:     "RIGHT_THUMB",
	LeftHip:        "LEFT_HIP",
	RightHip:       "RIGHT_HIP",
	LeftKnee:       "LEFT_KNEE",
	RightKnee:      "RIGHT_KNEE",
	LeftAnkle:      "LEFT_ANKLE",
	RightAnkle:     "RIGHT_ANKLE",
	LeftHeel:       "LEFT_HEEL",
	RightHeel:      "RIGHT_HEEL",
	LeftFootIndex:  "LEFT_FOOT_INDEX",
	RightFootIndex: "RIGHT_FOOT_INDEX",
}

var bodyPartsByName = func() map[string]BodyPart {
	m := make(map[string]BodyPart, NumLandmarks)
	for i, name := range bodyPartNames {
		m[name] = BodyPart(i)
	}
	return m
}()

// String returns the upper-case landmark name, e.g. "LEFT_HIP".
func (b BodyPart) String() string {
	if !b.Valid() {
		return fmt.Sprintf("BodyPart(%d)", int(b))
	}
	return bodyPartNames[b]
}

// Valid reports whether b is one of the 33 known landmarks.
func (b BodyPart) Valid() bool {
	return b >= 0 && int(b) < NumLandmarks
}

// ParseBodyPart maps a landmark name back to its index.
func ParseBodyPart(name string) (BodyPart, error) {
	b, ok := bodyPartsByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown body part %q", name)
	}
	return b, nil
}

// BodyParts returns all landmarks in index order.
func BodyParts() []BodyPart {
	parts := make([]BodyPart, NumLandmarks)
	for i := range parts {
		parts[i] = BodyPart(i)
	}
	return parts
}

// Point3D is a single landmark. X and Y are image pixels, Z is in detector units.
type Point3D struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// PoseLandmarks is one detected pose in BodyPart order.
type PoseLandmarks struct {
	Points [NumLandmarks]Point3D `json:"points"`
	Score  float64               `json:"score"`
}

// NewPoseLandmarks builds a pose from an ordered slice of exactly NumLandmarks points.
func NewPoseLandmarks(points []Point3D) (*PoseLandmarks, error) {
	if len(points) != NumLandmarks {
		return nil, fmt.Errorf("expected %d landmarks, got %d", NumLandmarks, len(points))
	}
	lm := &PoseLandmarks{}
	copy(lm.Points[:], points)
	return lm, nil
}

// Point returns the landmark for the given body part.
func (p *PoseLandmarks) Point(b BodyPart) Point3D {
	return p.Points[b]
}

// Flatten returns x, y, z for every landmark in order (99 values).
func (p *PoseLandmarks) Flatten() []float64 {
	out := make([]float64, 0, NumLandmarks*3)
	for _, pt := range p.Points {
		out = append(out, pt.X, pt.Y, pt.Z)
	}
	return out
}

// Finite reports whether every coordinate is a finite number.
func (p *PoseLandmarks) Finite() bool {
	for _, pt := range p.Points {
		for _, v := range [3]float64{pt.X, pt.Y, pt.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Connection is a pair of landmarks joined by a skeleton edge.
type Connection struct {
	From, To BodyPart
}

// PoseConnections lists the skeleton edges drawn on annotated images.
var PoseConnections = []Connection{
	{Nose, RightEyeInner}, {RightEyeInner, RightEye}, {RightEye, RightEyeOuter}, {RightEyeOuter, RightEar},
	{Nose, LeftEyeInner}, {LeftEyeInner, LeftEye}, {LeftEye, LeftEyeOuter}, {LeftEyeOuter, LeftEar},
	{MouthRight, MouthLeft},
	{RightShoulder, LeftShoulder},
	{RightShoulder, RightElbow}, {RightElbow, RightWrist},
	{RightWrist, RightPinky}, {RightWrist, RightIndex}, {RightWrist, RightThumb}, {RightPinky, RightIndex},
	{LeftShoulder, LeftElbow}, {LeftElbow, LeftWrist},
	{LeftWrist, LeftPinky}, {LeftWrist, LeftIndex}, {LeftWrist, LeftThumb}, {LeftPinky, LeftIndex},
	{RightShoulder, RightHip}, {LeftShoulder, LeftHip}, {RightHip, LeftHip},
	{RightHip, RightKnee}, {RightKnee, RightAnkle}, {RightAnkle, RightHeel}, {RightHeel, RightFootIndex}, {RightAnkle, RightFootIndex},
	{LeftHip, LeftKnee}, {LeftKnee, LeftAnkle}, {LeftAnkle, LeftHeel}, {LeftHeel, LeftFootIndex}, {LeftAnkle, LeftFootIndex},
}
