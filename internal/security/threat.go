package security

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrThreatDetected is returned when screened input must be rejected
var ErrThreatDetected = errors.New("input rejected by security screening")

// ThreatLevel grades an assessment
type ThreatLevel string

const (
	ThreatNone     ThreatLevel = "none"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

func (l ThreatLevel) rank() int {
	switch l {
	case ThreatLow:
		return 1
	case ThreatMedium:
		return 2
	case ThreatHigh:
		return 3
	case ThreatCritical:
		return 4
	}
	return 0
}

var severityScore = map[Severity]int{
	SeverityLow:      10,
	SeverityMedium:   25,
	SeverityHigh:     50,
	SeverityCritical: 80,
}

const (
	repeatOffenderThreshold = 3
	repeatOffenderPenalty   = 25
)

// ThreatAssessment is the verdict for one piece of input
type ThreatAssessment struct {
	Level          ThreatLevel `json:"level"`
	Score          int         `json:"score"`
	Findings       []Finding   `json:"findings,omitempty"`
	RecentOffenses int         `json:"recent_offenses"`
}

// ThreatError carries the assessment that caused a rejection
type ThreatError struct {
	Assessment ThreatAssessment
}

func (e *ThreatError) Error() string {
	return fmt.Sprintf("%s (level %s)", ErrThreatDetected, e.Assessment.Level)
}

// Is matches ErrThreatDetected
func (e *ThreatError) Is(target error) bool {
	return target == ErrThreatDetected
}

// ThreatDetector scores input and escalates users who keep sending
// suspicious payloads within a sliding window
type ThreatDetector struct {
	detector *InjectionDetector
	window   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	offenses map[string][]time.Time
}

// NewThreatDetector creates a detector tracking offenses over window
func NewThreatDetector(detector *InjectionDetector, window time.Duration) *ThreatDetector {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &ThreatDetector{
		detector: detector,
		window:   window,
		now:      time.Now,
		offenses: make(map[string][]time.Time),
	}
}

// Assess scores text from userID and records an offense when anything matched
func (t *ThreatDetector) Assess(userID, text string) ThreatAssessment {
	findings := t.detector.Detect(text)

	score := 0
	for _, f := range findings {
		score += severityScore[f.Severity]
	}

	var recent int
	if len(findings) > 0 {
		recent = t.recordOffense(userID)
		if recent >= repeatOffenderThreshold {
			score += repeatOffenderPenalty
		}
	} else {
		recent = t.RecentOffenses(userID)
	}

	if score > 100 {
		score = 100
	}

	return ThreatAssessment{
		Level:          levelFor(score),
		Score:          score,
		Findings:       findings,
		RecentOffenses: recent,
	}
}

// ShouldBlock reports whether an assessment is severe enough to reject
func (t *ThreatDetector) ShouldBlock(a ThreatAssessment) bool {
	return a.Level.rank() >= ThreatHigh.rank()
}

// Screen assesses text and returns a *ThreatError when it must be blocked
func (t *ThreatDetector) Screen(userID, text string) (ThreatAssessment, error) {
	a := t.Assess(userID, text)
	if t.ShouldBlock(a) {
		return a, &ThreatError{Assessment: a}
	}
	return a, nil
}

// RecentOffenses returns the offenses of userID inside the window
func (t *ThreatDetector) RecentOffenses(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(userID)
	return len(t.offenses[userID])
}

func (t *ThreatDetector) recordOffense(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(userID)
	t.offenses[userID] = append(t.offenses[userID], t.now())
	return len(t.offenses[userID])
}

// prune drops offenses older than the window; caller holds mu
func (t *ThreatDetector) prune(userID string) {
	cutoff := t.now().Add(-t.window)
	kept := t.offenses[userID][:0]
	for _, at := range t.offenses[userID] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(t.offenses, userID)
		return
	}
	t.offenses[userID] = kept
}

func levelFor(score int) ThreatLevel {
	switch {
	case score == 0:
		return ThreatNone
	case score < 25:
		return ThreatLow
	case score < 50:
		return ThreatMedium
	case score < 80:
		return ThreatHigh
	default:
		return ThreatCritical
	}
}
