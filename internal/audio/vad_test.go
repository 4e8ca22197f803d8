package audio

import (
	"math"
	"testing"
)

// toneFrame builds a frame of the given amplitude
func toneFrame(amplitude int16, size int) []int16 {
	frame := make([]int16, size)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	return frame
}

func TestCalculateRMS(t *testing.T) {
	if got := CalculateRMS(nil); got != 0 {
		t.Errorf("RMS of empty = %v, want 0", got)
	}

	frame := toneFrame(1000, 320)
	got := CalculateRMS(frame)
	if math.Abs(got-1000) > 1 {
		t.Errorf("RMS of square wave amplitude 1000 = %v, want ~1000", got)
	}
}

func TestDetectorSpeechBoundaries(t *testing.T) {
	detector := NewDetector(&VADConfig{
		EnergyThreshold: 500,
		SilenceFrames:   3,
		FrameSize:       320,
	})

	loud := toneFrame(2000, 320)
	quiet := toneFrame(10, 320)

	// Silence first; nothing starts
	for i := 0; i < 5; i++ {
		speaking, started, ended := detector.ProcessFrame(quiet)
		if speaking || started || ended {
			t.Fatalf("frame %d: unexpected activity on silence", i)
		}
	}

	// Speech starts on the first loud frame
	speaking, started, _ := detector.ProcessFrame(loud)
	if !speaking || !started {
		t.Fatal("loud frame did not start speech")
	}

	// More speech; no repeated start
	_, started, _ = detector.ProcessFrame(loud)
	if started {
		t.Error("speech start reported twice")
	}

	// Two silent frames are not enough to end the utterance
	for i := 0; i < 2; i++ {
		speaking, _, ended := detector.ProcessFrame(quiet)
		if !speaking || ended {
			t.Fatalf("utterance ended after %d silent frames, want 3", i+1)
		}
	}

	// Third silent frame ends it
	speaking, _, ended := detector.ProcessFrame(quiet)
	if speaking || !ended {
		t.Fatal("utterance did not end after configured silence")
	}
	if detector.IsSpeaking() {
		t.Error("IsSpeaking() = true after utterance end")
	}
}

func TestDetectorSilenceCounterResetsOnSpeech(t *testing.T) {
	detector := NewDetector(&VADConfig{
		EnergyThreshold: 500,
		SilenceFrames:   3,
		FrameSize:       320,
	})

	loud := toneFrame(2000, 320)
	quiet := toneFrame(10, 320)

	detector.ProcessFrame(loud)
	detector.ProcessFrame(quiet)
	detector.ProcessFrame(quiet)
	detector.ProcessFrame(loud) // resets the counter

	for i := 0; i < 2; i++ {
		if _, _, ended := detector.ProcessFrame(quiet); ended {
			t.Fatal("utterance ended early, silence counter not reset by speech")
		}
	}
	if _, _, ended := detector.ProcessFrame(quiet); !ended {
		t.Fatal("utterance did not end after full silence run")
	}
}

func TestDetectorReset(t *testing.T) {
	detector := NewDetector(nil)
	loud := toneFrame(2000, detector.FrameSize())

	detector.ProcessFrame(loud)
	if !detector.IsSpeaking() {
		t.Fatal("detector not speaking after loud frame")
	}

	detector.Reset()
	if detector.IsSpeaking() {
		t.Error("detector speaking after Reset")
	}
}

func TestBytesToSamples(t *testing.T) {
	data := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80, 0x01}
	samples := BytesToSamples(data)

	want := []int16{0, 32767, -32768}
	if len(samples) != len(want) {
		t.Fatalf("samples = %v, want %v", samples, want)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
}
