package media_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/rbright/candor/internal/media"
	"github.com/rbright/candor/internal/media/mediatest"
	"github.com/stretchr/testify/require"
)

func fullConstraints() media.Constraints {
	return media.Constraints{Audio: true, Video: true}
}

func TestAcquireIsIdempotent(t *testing.T) {
	source := mediatest.NewSource()
	acq := media.NewAcquirer(source, nil)

	first, err := acq.Acquire(context.Background(), fullConstraints())
	require.NoError(t, err)
	second, err := acq.Acquire(context.Background(), fullConstraints())
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, int32(1), source.Opens.Load())
	require.Equal(t, 1, acq.Opens())
	require.Len(t, first.Tracks(), 2)
}

func TestReleaseStopsEveryTrackAndIsIdempotent(t *testing.T) {
	source := mediatest.NewSource()
	acq := media.NewAcquirer(source, nil)

	stream, err := acq.Acquire(context.Background(), fullConstraints())
	require.NoError(t, err)

	detached := 0
	acq.Attach(media.SinkFunc(func() { detached++ }))

	require.NoError(t, acq.Release())
	for _, track := range stream.Tracks() {
		require.True(t, track.Stopped(), track.ID())
		require.False(t, track.Enabled(), track.ID())
	}
	require.Equal(t, 1, detached)
	require.Nil(t, acq.Stream())

	require.NotPanics(t, func() { require.NoError(t, acq.Release()) })
	require.Equal(t, 1, detached)
	require.Equal(t, int32(1), source.Audio.Stops.Load())
}

func TestAcquireAfterReleaseOpensAgain(t *testing.T) {
	source := mediatest.NewSource()
	acq := media.NewAcquirer(source, nil)

	_, err := acq.Acquire(context.Background(), fullConstraints())
	require.NoError(t, err)
	require.NoError(t, acq.Release())

	source.Audio = mediatest.NewAudio("mic")
	source.Video = mediatest.NewVideo("/dev/video0")
	_, err = acq.Acquire(context.Background(), fullConstraints())
	require.NoError(t, err)
	require.Equal(t, int32(2), source.Opens.Load())
}

func TestToggleTracksWithoutReacquiring(t *testing.T) {
	source := mediatest.NewSource()
	acq := media.NewAcquirer(source, nil)

	require.ErrorIs(t, acq.SetAudioEnabled(false), media.ErrNoStream)

	_, err := acq.Acquire(context.Background(), fullConstraints())
	require.NoError(t, err)

	require.NoError(t, acq.SetAudioEnabled(false))
	require.NoError(t, acq.SetVideoEnabled(false))
	require.False(t, source.Audio.Enabled())
	require.False(t, source.Video.Enabled())

	source.Audio.Push([]byte{9, 9, 9, 9})
	require.Equal(t, []byte{0, 0, 0, 0}, <-source.Audio.Chunks())

	require.NoError(t, acq.SetVideoEnabled(true))
	require.True(t, source.Video.Enabled())
	require.Equal(t, int32(1), source.Opens.Load())
}

func TestAttachWithoutStreamDetachesImmediately(t *testing.T) {
	acq := media.NewAcquirer(mediatest.NewSource(), nil)
	detached := false
	acq.Attach(media.SinkFunc(func() { detached = true }))
	require.True(t, detached)
}

func TestAcquireClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		msg  string
	}{
		{"permission", &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}, media.ErrPermissionDenied, "Camera/microphone permission denied"},
		{"missing", &os.PathError{Op: "open", Path: "/dev/video9", Err: syscall.ENOENT}, media.ErrDeviceNotFound, "No camera or microphone found"},
		{"busy", errors.New("/dev/video0: Device or resource busy"), media.ErrDeviceBusy, "Camera is being used by another application"},
		{"constraints", errors.New("ioctl(VIDIOC_S_FMT): Invalid argument"), media.ErrConstraintsUnsatisfiable, "Camera constraints could not be satisfied"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			source := mediatest.NewSource()
			source.Err = tc.err
			acq := media.NewAcquirer(source, nil)

			_, err := acq.Acquire(context.Background(), fullConstraints())
			require.ErrorIs(t, err, tc.kind)
			require.Equal(t, tc.msg, media.UserMessage(err))
			require.Nil(t, acq.Stream())
		})
	}
}

func TestRetryableExcludesPermission(t *testing.T) {
	require.False(t, media.Retryable(media.Classify(media.KindVideo, media.ErrPermissionDenied)))
	require.True(t, media.Retryable(media.Classify(media.KindVideo, media.ErrDeviceBusy)))
	require.False(t, media.Retryable(nil))
}

func TestDeviceMessagePerKind(t *testing.T) {
	require.Equal(t, "Microphone permission denied. Please allow microphone access.",
		media.DeviceMessage(media.KindAudio, media.Classify(media.KindAudio, syscall.EACCES)))
	require.Equal(t, "No camera found on this device",
		media.DeviceMessage(media.KindVideo, media.Classify(media.KindVideo, syscall.ENOENT)))
	require.Equal(t, "Camera is being used by another application",
		media.DeviceMessage(media.KindVideo, media.Classify(media.KindVideo, syscall.EBUSY)))
}

func TestClassifyLeavesUnknownErrors(t *testing.T) {
	err := fmt.Errorf("boom")
	require.Same(t, err, media.Classify(media.KindAudio, err))
	require.Equal(t, "Unable to access camera or microphone", media.UserMessage(err))
}

func TestCameraCommandExpandsTemplate(t *testing.T) {
	argv, err := media.CameraCommand(media.CameraConfig{Device: "/dev/video2", Width: 320, Height: 240, FPS: 5})
	require.NoError(t, err)
	require.Contains(t, argv, "/dev/video2")
	require.Contains(t, argv, "320x240")
	require.Contains(t, argv, "5")

	_, err = media.CameraCommand(media.CameraConfig{Device: "/dev/video0"})
	require.ErrorIs(t, err, media.ErrConstraintsUnsatisfiable)
}

func TestProbeCameraMissingDevice(t *testing.T) {
	err := media.ProbeCamera("/dev/definitely-missing-video")
	require.ErrorIs(t, err, media.ErrDeviceNotFound)
}

func TestLevel(t *testing.T) {
	require.Zero(t, media.Level(nil))
	require.Zero(t, media.Level(make([]byte, 640)))

	loud := make([]byte, 640)
	for i := 0; i < len(loud); i += 2 {
		loud[i], loud[i+1] = 0x00, 0x40 // 16384
	}
	require.InDelta(t, 1.0, media.Level(loud), 0.001)
}

func TestStreamVideoReady(t *testing.T) {
	source := mediatest.NewSource()
	acq := media.NewAcquirer(source, nil)
	stream, err := acq.Acquire(context.Background(), fullConstraints())
	require.NoError(t, err)

	select {
	case <-stream.VideoReady():
		t.Fatal("video ready before first frame")
	default:
	}

	source.Video.SetFrame(mediatest.Solid(8, 8, 1, 2, 3))
	<-stream.VideoReady()
}
