package indicator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/candor/internal/config"
	"github.com/rbright/candor/internal/media"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueWrapUp
	cueEnd
	cueError
)

const (
	cueVolume      = 0.17
	cueFileTimeout = 4 * time.Second
)

// note is one tone of a cue. A zero frequency is a rest.
type note struct {
	hz float64
	ms int
}

// cueScores are the built-in cues: rising on start, a triple chime before
// the wrap-up countdown, and falling on errors.
var cueScores = map[cueKind][]note{
	cueStart:  {{880, 70}, {0, 22}, {1175, 70}},
	cueWrapUp: {{988, 90}, {0, 22}, {740, 90}, {0, 22}, {988, 90}},
	cueEnd:    {{740, 65}, {0, 22}, {988, 90}},
	cueError:  {{480, 75}, {0, 22}, {360, 90}},
}

// emitCue plays the configured file for kind, falling back to the built-in
// tone when no file is set or it cannot be played.
func emitCue(ctx context.Context, kind cueKind, cfg config.IndicatorConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path := cuePath(kind, cfg); path != "" {
		if err := playCueFile(ctx, path); err == nil {
			return nil
		}
	}
	return media.PlayOnce(ctx, "candor cue", cueSamples(kind))
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	files := map[cueKind]string{
		cueStart:  cfg.SoundStartFile,
		cueWrapUp: cfg.SoundWrapUpFile,
		cueEnd:    cfg.SoundEndFile,
		cueError:  cfg.SoundErrorFile,
	}
	return expandHome(files[kind])
}

func expandHome(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(raw[1:], "/"))
}

func playCueFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat cue file %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cueFileTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path).Run(); err != nil {
		return fmt.Errorf("play cue file %q: %w", path, err)
	}
	return nil
}

func cueSamples(kind cueKind) []int16 {
	return render(cueScores[kind], cueVolume)
}

// render synthesizes score as 16kHz mono PCM. Each tone gets a short
// raised-cosine fade at both ends so it starts and stops without a click.
func render(score []note, volume float64) []int16 {
	const maxRamp = media.SampleRate / 200

	var pcm []int16
	for _, n := range score {
		count := n.ms * media.SampleRate / 1000
		if count <= 0 {
			continue
		}
		if n.hz <= 0 || volume <= 0 {
			pcm = append(pcm, make([]int16, count)...)
			continue
		}

		ramp := max(min(count/10, maxRamp), 1)
		step := 2 * math.Pi * n.hz / media.SampleRate
		for i := range count {
			gain := volume
			if edge := min(i, count-1-i); edge < ramp {
				gain *= 0.5 - 0.5*math.Cos(math.Pi*float64(edge)/float64(ramp))
			}
			pcm = append(pcm, int16(math.Round(math.Sin(step*float64(i))*gain*math.MaxInt16)))
		}
	}
	return pcm
}
