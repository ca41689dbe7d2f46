package media

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

var (
	ErrPermissionDenied         = errors.New("permission denied")
	ErrDeviceNotFound           = errors.New("device not found")
	ErrDeviceBusy               = errors.New("device busy")
	ErrConstraintsUnsatisfiable = errors.New("constraints could not be satisfied")
	ErrNoStream                 = errors.New("no active media stream")
)

// Error is a classified device failure.
type Error struct {
	Kind   error
	Device Kind
	Err    error
}

func (e *Error) Error() string {
	device := string(e.Device)
	if device == "" {
		device = "media"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", device, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", device, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Classify maps an OS, pulse, or ffmpeg failure onto the device taxonomy.
// Errors that match none of the kinds are returned unchanged.
func Classify(device Kind, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if kind := kindOf(err); kind != nil {
		if kind == err {
			return &Error{Kind: kind, Device: device}
		}
		return &Error{Kind: kind, Device: device, Err: err}
	}
	return err
}

func kindOf(err error) error {
	for _, kind := range []error{ErrPermissionDenied, ErrDeviceNotFound, ErrDeviceBusy, ErrConstraintsUnsatisfiable} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return ErrDeviceNotFound
	case errors.Is(err, syscall.EBUSY):
		return ErrDeviceBusy
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "permission denied"), strings.Contains(text, "access denied"):
		return ErrPermissionDenied
	case strings.Contains(text, "device or resource busy"), strings.Contains(text, "resource busy"):
		return ErrDeviceBusy
	case strings.Contains(text, "no such file"), strings.Contains(text, "no such device"),
		strings.Contains(text, "no such entity"), strings.Contains(text, "did not match any device"):
		return ErrDeviceNotFound
	case strings.Contains(text, "invalid argument"), strings.Contains(text, "not supported"),
		strings.Contains(text, "could not find codec parameters"):
		return ErrConstraintsUnsatisfiable
	}
	return nil
}

// Retryable reports whether the user can fix err without leaving the app.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrPermissionDenied)
}

// UserMessage is the remediation text shown for an acquisition failure.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Camera/microphone permission denied"
	case errors.Is(err, ErrDeviceNotFound):
		return "No camera or microphone found"
	case errors.Is(err, ErrDeviceBusy):
		return "Camera is being used by another application"
	case errors.Is(err, ErrConstraintsUnsatisfiable):
		return "Camera constraints could not be satisfied"
	default:
		return "Unable to access camera or microphone"
	}
}

// DeviceMessage is the per-device remediation text used by readiness checks.
func DeviceMessage(device Kind, err error) string {
	if err == nil {
		return ""
	}
	name, lower := "Camera", "camera"
	if device == KindAudio {
		name, lower = "Microphone", "microphone"
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return fmt.Sprintf("%s permission denied. Please allow %s access.", name, lower)
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("No %s found on this device", lower)
	case errors.Is(err, ErrDeviceBusy):
		return fmt.Sprintf("%s is being used by another application", name)
	case errors.Is(err, ErrConstraintsUnsatisfiable):
		return fmt.Sprintf("%s constraints could not be satisfied", name)
	default:
		return fmt.Sprintf("%s access failed: %v", name, err)
	}
}
