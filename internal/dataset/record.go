// Package dataset builds the labeled landmark table from a directory-per-class
// image tree and splits image trees into train and test sets.
package dataset

import (
	"errors"
	"fmt"

	"github.com/ayusman/posekit/internal/detector"
)

var (
	// ErrUnreadableImage is returned when an image file cannot be decoded.
	ErrUnreadableImage = errors.New("unreadable image")

	// ErrEmptyClass is returned when a class yields no valid records.
	ErrEmptyClass = errors.New("empty class")
)

// EmptyClassError names the class that produced no usable images.
type EmptyClassError struct {
	Class string
}

func (e *EmptyClassError) Error() string {
	return fmt.Sprintf("no valid images found for the %q class", e.Class)
}

// Is reports whether target is ErrEmptyClass.
func (e *EmptyClassError) Is(target error) bool {
	return target == ErrEmptyClass
}

// PoseRecord is one image's landmarks with its label.
type PoseRecord struct {
	FileName  string // image name relative to its class folder
	ClassName string
	ClassNo   int
	Landmarks detector.PoseLandmarks
}

// QualifiedName returns "<class>/<image>", the table's file_name value.
func (r PoseRecord) QualifiedName() string {
	return r.ClassName + "/" + r.FileName
}
