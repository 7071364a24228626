package media

import "context"

type DeviceKind string

const (
	AudioInput DeviceKind = "audioinput"
	VideoInput DeviceKind = "videoinput"
)

type DeviceInfo struct {
	Kind     DeviceKind `json:"kind"`
	DeviceID string     `json:"deviceId"`
	Label    string     `json:"label"`
}

// Constraints select the capture devices. An empty device id picks the default device of that kind.
type Constraints struct {
	Audio         bool
	Video         bool
	AudioDeviceID string
	VideoDeviceID string
}

// Stream carries the tracks produced by one capture request. Kinds that were not requested are nil.
type Stream struct {
	Audio *Track
	Video *Track
}

// Device is the capture boundary. Failures wrap domain.ErrDeviceUnavailable or domain.ErrPermissionDenied.
type Device interface {
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
	GetDisplayMedia(ctx context.Context) (*Track, error)
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
}
