package media

import (
	"encoding/binary"
	"math"
)

// Level returns the mean absolute amplitude of s16le PCM normalized to [0,1],
// scaled so ordinary speech lands well above 0.1.
func Level(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i:]))
		sum += math.Abs(float64(v))
	}
	mean := sum / float64(samples) / 32768
	return math.Min(1, mean*4)
}
