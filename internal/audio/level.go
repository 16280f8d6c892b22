package audio

import "math"

// Level returns the RMS energy of an S16LE buffer, normalised to [0, 1].
func Level(data []byte) float64 {
	sampleCount := len(data) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < sampleCount; i++ {
		sample := int16(data[i*2]) | int16(data[i*2+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(sampleCount))
}

// IsSilent reports whether the whole buffer stays under threshold.
func IsSilent(data []byte, threshold float64) bool {
	return Level(data) < threshold
}
