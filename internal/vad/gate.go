package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/speech-relay/internal/audio"
)

// DefaultSilenceThreshold is the peak magnitude at or below which a frame is silent
const DefaultSilenceThreshold float32 = 0.01

// SilenceGate drops frames whose samples all stay at or below a magnitude threshold
type SilenceGate struct {
	threshold float32

	// Statistics
	totalFrames   uint64
	voicedFrames  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// GateStats represents silence gate statistics
type GateStats struct {
	Threshold       float32   `json:"threshold"`
	TotalFrames     uint64    `json:"total_frames"`
	VoicedFrames    uint64    `json:"voiced_frames"`
	SilentFrames    uint64    `json:"silent_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
}

// NewSilenceGate creates a gate with the given magnitude threshold
func NewSilenceGate(threshold float32) (*SilenceGate, error) {
	if err := validateThreshold(threshold); err != nil {
		return nil, err
	}

	return &SilenceGate{threshold: threshold}, nil
}

func validateThreshold(threshold float32) error {
	if threshold < 0 || threshold >= 1 {
		return fmt.Errorf("threshold must be in [0, 1), got %f", threshold)
	}
	return nil
}

// IsSilent reports whether every sample magnitude is at or below the threshold.
// An empty frame is silent.
func (g *SilenceGate) IsSilent(frame []float32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	silent := audio.PeakAmplitude(frame) <= g.threshold

	g.totalFrames++
	if !silent {
		g.voicedFrames++
	}
	g.lastProcessed = time.Now()

	return silent
}

// GetStats returns current gate statistics
func (g *SilenceGate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	voicePercentage := float64(0)
	if g.totalFrames > 0 {
		voicePercentage = float64(g.voicedFrames) / float64(g.totalFrames) * 100
	}

	return GateStats{
		Threshold:       g.threshold,
		TotalFrames:     g.totalFrames,
		VoicedFrames:    g.voicedFrames,
		SilentFrames:    g.totalFrames - g.voicedFrames,
		VoicePercentage: voicePercentage,
		LastProcessed:   g.lastProcessed,
	}
}

// UpdateThreshold updates the silence threshold
func (g *SilenceGate) UpdateThreshold(threshold float32) error {
	if err := validateThreshold(threshold); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.threshold = threshold
	return nil
}

// GetThreshold returns the current silence threshold
func (g *SilenceGate) GetThreshold() float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.threshold
}

// Reset clears the gate statistics
func (g *SilenceGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalFrames = 0
	g.voicedFrames = 0
	g.lastProcessed = time.Time{}
}
