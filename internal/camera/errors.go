package camera

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermissionDenied means the process may not open the device.
	ErrPermissionDenied = errors.New("camera: permission denied")
	// ErrDeviceUnavailable means the device is missing, busy, or produced no frames.
	ErrDeviceUnavailable = errors.New("camera: device unavailable")
	// ErrSinkNotReady means the video sink cannot accept frames yet.
	ErrSinkNotReady = errors.New("camera: video sink not ready")
	// ErrAlreadyOpen means another handle is live.
	ErrAlreadyOpen = errors.New("camera: device already acquired")
)

var permissionKeywords = []string{
	"permission denied",
	"not permitted",
	"eacces",
	"access denied",
	"not authorized",
}

var unavailableKeywords = []string{
	"no such file",
	"no such device",
	"cannot identify device",
	"device or resource busy",
	"busy",
	"not found",
	"not a capture device",
	"failed to allocate",
	"could not open",
}

// ClassifyDeviceError maps a capture backend error text onto
// ErrPermissionDenied or ErrDeviceUnavailable. Permission wins when both
// match, since v4l2 reports EACCES as "could not open device".
func ClassifyDeviceError(msg, debug string) error {
	combined := strings.ToLower(msg + " " + debug)

	for _, kw := range permissionKeywords {
		if strings.Contains(combined, kw) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
	}
	for _, kw := range unavailableKeywords {
		if strings.Contains(combined, kw) {
			return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
		}
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
}

// asDeviceError keeps already classified errors and folds the rest into
// ErrDeviceUnavailable.
func asDeviceError(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
