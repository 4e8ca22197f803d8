// Package audio provides PCM utilities for the consult socket: voice
// activity detection for utterance boundaries and a ring buffer for
// outbound audio pacing.
package audio

import "math"

// VADConfig holds voice activity detection tuning. Both thresholds are
// heuristics and stay configurable.
type VADConfig struct {
	EnergyThreshold float64 // RMS energy above which a frame counts as speech
	SilenceFrames   int     // Consecutive silent frames that end an utterance
	FrameSize       int     // Samples per frame (320 = 20ms at 16kHz)
}

// DefaultVADConfig returns the detection defaults for 16kHz PCM input
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10, // 200ms of silence
		FrameSize:       320,
	}
}

// Detector tracks speech activity across frames. Not safe for concurrent
// use; each consult socket owns one.
type Detector struct {
	config         *VADConfig
	silenceCounter int
	speaking       bool
}

// NewDetector creates a detector, falling back to defaults on nil config
func NewDetector(config *VADConfig) *Detector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &Detector{config: config}
}

// ProcessFrame classifies one frame and reports boundary transitions
func (d *Detector) ProcessFrame(samples []int16) (speaking, started, ended bool) {
	if CalculateRMS(samples) > d.config.EnergyThreshold {
		d.silenceCounter = 0
		if !d.speaking {
			started = true
			d.speaking = true
		}
	} else {
		d.silenceCounter++
		if d.speaking && d.silenceCounter >= d.config.SilenceFrames {
			ended = true
			d.speaking = false
			d.silenceCounter = 0
		}
	}
	return d.speaking, started, ended
}

// Reset clears detector state between utterances
func (d *Detector) Reset() {
	d.silenceCounter = 0
	d.speaking = false
}

// IsSpeaking reports the current speech state
func (d *Detector) IsSpeaking() bool {
	return d.speaking
}

// FrameSize returns the configured samples per frame
func (d *Detector) FrameSize() int {
	return d.config.FrameSize
}

// CalculateRMS computes the root mean square energy of PCM samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range samples {
		value := float64(sample)
		sum += value * value
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// BytesToSamples converts little-endian 16-bit PCM bytes to samples. An
// odd trailing byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return samples
}
