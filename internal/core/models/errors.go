package models

import "errors"

var (
	// ErrInvalidImage means the payload is empty or not a decodable image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidBoundingBox means a box does not map to a non-empty region inside the image.
	ErrInvalidBoundingBox = errors.New("invalid bounding box")
	// ErrNoFaceDetected is returned by enrollment when the photo has no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFaces is returned by enrollment when the photo has more than one face.
	ErrMultipleFaces = errors.New("multiple faces detected")

	ErrStudentNotFound = errors.New("student not found")
	ErrRecordNotFound  = errors.New("attendance record not found")
	// ErrInvalidInput covers malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
)
