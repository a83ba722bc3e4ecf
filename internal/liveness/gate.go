package liveness

import (
	"errors"
	"fmt"
	"strings"
)

// Policy decides how the motion and blink signals combine.
type Policy string

const (
	PolicyMotion Policy = "motion"
	PolicyBlink  Policy = "blink"
	PolicyAll    Policy = "all"
	PolicyAny    Policy = "any"
)

// ParsePolicy accepts motion, blink, all or any.
func ParsePolicy(value string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(value))); p {
	case PolicyMotion, PolicyBlink, PolicyAll, PolicyAny:
		return p, nil
	default:
		return "", fmt.Errorf("unknown gate policy %q", value)
	}
}

// GateResult is the combined temporal signal for a frame sequence.
type GateResult struct {
	Passed bool         `json:"passed"`
	Policy Policy       `json:"policy"`
	Motion MotionResult `json:"motion"`
	Blink  *BlinkResult `json:"blink,omitempty"`
	// BlinkError is set when blink analysis was required but could not run.
	BlinkError string `json:"blink_error,omitempty"`
}

// Gate runs the temporal analyzers required by its policy.
type Gate struct {
	policy Policy
	motion *MotionAnalyzer
	blink  *BlinkAnalyzer
}

// NewGate builds a gate. An empty policy means motion only.
func NewGate(policy Policy, motion *MotionAnalyzer, blink *BlinkAnalyzer) *Gate {
	if policy == "" {
		policy = PolicyMotion
	}
	return &Gate{policy: policy, motion: motion, blink: blink}
}

// Policy returns the combination policy in effect.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Evaluate returns an error only for fatal input problems such as unreadable or
// mismatched frames. An unavailable blink detector fails the blink signal instead.
func (g *Gate) Evaluate(frames []Frame) (GateResult, error) {
	result := GateResult{Policy: g.policy}

	needMotion := g.policy != PolicyBlink
	needBlink := g.policy != PolicyMotion

	motionOK := false
	if needMotion {
		motion, err := g.motion.Analyze(frames)
		if err != nil {
			return result, err
		}
		result.Motion = motion
		motionOK = motion.Sufficient
	}

	blinkOK := false
	if needBlink && !(g.policy == PolicyAny && motionOK) && !(g.policy == PolicyAll && !motionOK) {
		blink, err := g.blink.Analyze(frames)
		switch {
		case err == nil:
			result.Blink = &blink
			blinkOK = blink.Detected
		case errors.Is(err, ErrDetectorUnavailable):
			result.BlinkError = err.Error()
		default:
			return result, err
		}
	}

	switch g.policy {
	case PolicyBlink:
		result.Passed = blinkOK
	case PolicyAll:
		result.Passed = motionOK && blinkOK
	case PolicyAny:
		result.Passed = motionOK || blinkOK
	default:
		result.Passed = motionOK
	}
	return result, nil
}
