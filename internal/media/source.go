package media

import (
	"context"
	"log/slog"
)

// DeviceSource opens the host microphone through Pulse and the camera through
// the configured capture command.
type DeviceSource struct {
	Logger *slog.Logger
}

// Open starts the audio track first, then the camera. On any failure every
// track opened so far is stopped before returning.
func (s DeviceSource) Open(ctx context.Context, c Constraints) (AudioTrack, VideoTrack, error) {
	var audio *PulseTrack
	if c.Audio {
		selection, err := SelectAudioDevice(ctx, c.AudioInput, c.AudioBackup)
		if err != nil {
			return nil, nil, Classify(KindAudio, err)
		}
		if selection.Warning != "" && s.Logger != nil {
			s.Logger.Warn("audio device fallback", "warning", selection.Warning)
		}
		audio, err = StartPulseTrack(selection.Device)
		if err != nil {
			return nil, nil, err
		}
	}

	if !c.Video {
		return trackOrNil(audio), nil, nil
	}

	video, err := StartCamera(ctx, c.Camera)
	if err != nil {
		if audio != nil {
			_ = audio.Stop()
		}
		return nil, nil, err
	}
	return trackOrNil(audio), video, nil
}

// trackOrNil keeps a nil *PulseTrack from becoming a non-nil interface.
func trackOrNil(t *PulseTrack) AudioTrack {
	if t == nil {
		return nil
	}
	return t
}
