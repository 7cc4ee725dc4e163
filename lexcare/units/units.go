// Package units holds the analysis units run by the turn orchestrator. Each
// unit reads the turn state, contributes a partial update, and falls back to
// a deterministic answer when the inference service is missing or fails.
package units

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
)

//go:embed signals.yaml
var signalsYAML []byte

// Signals are the keyword tables behind the deterministic fallbacks.
type Signals struct {
	EmotionOrder     []string            `yaml:"emotion_order"`
	Emotions         map[string][]string `yaml:"emotions"`
	Positive         []string            `yaml:"positive"`
	Negative         []string            `yaml:"negative"`
	DistressHigh     []string            `yaml:"distress_high"`
	DistressModerate []string            `yaml:"distress_moderate"`
	Risk             []string            `yaml:"risk"`
	Relief           []string            `yaml:"relief"`
	NextStep         []string            `yaml:"next_step"`
	Research         map[string]string   `yaml:"research"`
}

// LoadSignals parses a signals document.
func LoadSignals(data []byte) (*Signals, error) {
	var s Signals
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse signals: %w", err)
	}
	if len(s.EmotionOrder) == 0 {
		return nil, fmt.Errorf("signals define no emotions")
	}
	return &s, nil
}

var (
	defaultSignals     *Signals
	defaultSignalsErr  error
	defaultSignalsOnce sync.Once
)

// DefaultSignals returns the embedded tables, parsed once.
func DefaultSignals() (*Signals, error) {
	defaultSignalsOnce.Do(func() {
		defaultSignals, defaultSignalsErr = LoadSignals(signalsYAML)
	})
	return defaultSignals, defaultSignalsErr
}

// mustSignals is for constructors whose only input is the embedded file.
func mustSignals() *Signals {
	s, err := DefaultSignals()
	if err != nil {
		panic(err)
	}
	return s
}

// phrases returns the phrases of list found in text.
func phrases(list []string, text string) []string {
	table := make(map[string][]string, len(list))
	for _, p := range list {
		table[p] = []string{p}
	}
	return matching.MatchTable(table, text)
}

func countPhrases(list []string, text string) int {
	return len(phrases(list, text))
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
