package refaudio

import (
	"math"
)

// Level analysis parameters.
const (
	windowSeconds = 0.01
	// silenceFloorDB marks a window as silent for edge trimming.
	silenceFloorDB = -50.0
)

// silenceRule describes one clipping attempt: a run of at least minSilence
// seconds whose level stays below thresholdDB counts as a pause.
type silenceRule struct {
	minSilence  float64
	thresholdDB float64
	keep        float64
}

// Pauses are tried from long and quiet to short and louder before falling
// back to a hard cut.
var clipRules = []silenceRule{
	{minSilence: 1.0, thresholdDB: -50, keep: 1.0},
	{minSilence: 0.1, thresholdDB: -40, keep: 1.0},
}

func windowSize(sampleRate int) int {
	return max(1, int(float64(sampleRate)*windowSeconds))
}

// levelDB returns the RMS level of samples in dBFS. Silence is -Inf.
func levelDB(samples []float32) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}

	return 20 * math.Log10(rms)
}

// silentWindows flags each analysis window quieter than thresholdDB.
func silentWindows(samples []float32, sampleRate int, thresholdDB float64) ([]bool, int) {
	size := windowSize(sampleRate)
	count := (len(samples) + size - 1) / size
	flags := make([]bool, count)

	for i := range count {
		start := i * size
		end := min(start+size, len(samples))
		flags[i] = levelDB(samples[start:end]) < thresholdDB
	}

	return flags, size
}

// clipLength returns how many samples of a clip to keep so that it lasts at
// most maxSeconds. It prefers ending inside a pause and hard-cuts otherwise.
func clipLength(samples []float32, sampleRate int, maxSeconds float64) int {
	limit := int(maxSeconds * float64(sampleRate))
	if len(samples) <= limit {
		return len(samples)
	}

	for _, rule := range clipRules {
		if cut := lastPauseCut(samples, sampleRate, limit, rule); cut > 0 {
			return cut
		}
	}

	return limit
}

// lastPauseCut finds the last pause that starts before limit and returns the
// cut point, keeping up to rule.keep seconds of the pause. Zero means none.
func lastPauseCut(samples []float32, sampleRate, limit int, rule silenceRule) int {
	flags, size := silentWindows(samples, sampleRate, rule.thresholdDB)
	minWindows := max(1, int(rule.minSilence/windowSeconds))
	keep := int(rule.keep * float64(sampleRate))
	best := 0

	for i := 0; i < len(flags); {
		if !flags[i] {
			i++

			continue
		}

		runStart := i
		for i < len(flags) && flags[i] {
			i++
		}

		if i-runStart < minWindows || runStart == 0 {
			continue
		}

		start := runStart * size
		if start >= limit {
			break
		}

		end := min(i*size, len(samples))
		cut := min(start+keep, end, limit)
		best = cut
	}

	return best
}

// trimSilence removes leading and trailing windows below silenceFloorDB.
func trimSilence(samples []float32, sampleRate int) []float32 {
	flags, size := silentWindows(samples, sampleRate, silenceFloorDB)

	first := 0
	for first < len(flags) && flags[first] {
		first++
	}

	if first == len(flags) {
		return nil
	}

	last := len(flags) - 1
	for last > first && flags[last] {
		last--
	}

	return samples[first*size : min((last+1)*size, len(samples))]
}

// padSilence appends seconds of digital silence.
func padSilence(samples []float32, sampleRate int, seconds float64) []float32 {
	pad := int(seconds * float64(sampleRate))
	out := make([]float32, len(samples), len(samples)+pad)
	copy(out, samples)

	return append(out, make([]float32, pad)...)
}

// resample converts mono samples between rates by linear interpolation.
func resample(input []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || len(input) == 0 {
		out := make([]float32, len(input))
		copy(out, input)

		return out
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputLen := int(math.Ceil(float64(len(input)) / ratio))
	output := make([]float32, outputLen)

	for i := range output {
		position := float64(i) * ratio
		idx := int(position)
		frac := float32(position - float64(idx))

		if idx >= len(input)-1 {
			output[i] = input[len(input)-1]

			continue
		}

		output[i] = input[idx]*(1-frac) + input[idx+1]*frac
	}

	return output
}
