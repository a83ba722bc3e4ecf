// Package liveness holds the decision engine: the attribute classifier and the
// temporal analyzers that gate frame sequences before any external call is made.
package liveness

// AttributeRule requires a trait to carry the wanted value with at least MinConfidence.
type AttributeRule struct {
	Want          bool    `mapstructure:"want" json:"want"`
	MinConfidence float64 `mapstructure:"min_confidence" json:"min_confidence"`
}

// Rules is the full acceptance band. Every condition is mandatory.
type Rules struct {
	MinConfidence float64       `mapstructure:"min_confidence" json:"min_confidence"`
	EyesOpen      AttributeRule `mapstructure:"eyes_open" json:"eyes_open"`
	MouthOpen     AttributeRule `mapstructure:"mouth_open" json:"mouth_open"`
	Smile         AttributeRule `mapstructure:"smile" json:"smile"`
	Sunglasses    AttributeRule `mapstructure:"sunglasses" json:"sunglasses"`
}

// DefaultRules returns eyes open, mouth closed, no smile and no sunglasses at 90%
// on a face detected with at least 99% confidence.
func DefaultRules() Rules {
	return Rules{
		MinConfidence: 99.0,
		EyesOpen:      AttributeRule{Want: true, MinConfidence: 90.0},
		MouthOpen:     AttributeRule{Want: false, MinConfidence: 90.0},
		Smile:         AttributeRule{Want: false, MinConfidence: 90.0},
		Sunglasses:    AttributeRule{Want: false, MinConfidence: 90.0},
	}
}

// Classifier turns a face attribute record into a liveness verdict.
type Classifier struct {
	rules Rules
}

// NewClassifier builds a classifier for the given rules.
func NewClassifier(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Rules returns the rules the classifier applies.
func (c *Classifier) Rules() Rules {
	return c.rules
}

// Classify evaluates every rule and stops at the first failure.
func (c *Classifier) Classify(attrs FaceAttributes) Verdict {
	// Written as a negated >= so NaN fails the gate.
	if attrs.Confidence == nil || !(*attrs.Confidence >= c.rules.MinConfidence) {
		return Verdict{Reason: ReasonConfidence}
	}

	checks := []struct {
		reason string
		attr   *Attribute
		rule   AttributeRule
	}{
		{ReasonEyesOpen, attrs.EyesOpen, c.rules.EyesOpen},
		{ReasonMouthOpen, attrs.MouthOpen, c.rules.MouthOpen},
		{ReasonSmile, attrs.Smile, c.rules.Smile},
		{ReasonSunglasses, attrs.Sunglasses, c.rules.Sunglasses},
	}
	for _, check := range checks {
		if !check.rule.satisfiedBy(check.attr) {
			return Verdict{Reason: check.reason}
		}
	}

	confidence := *attrs.Confidence
	return Verdict{IsLive: true, Confidence: &confidence}
}

// ClassifyAny returns the verdict of the first live face, or the rejection of the
// first face when none is live.
func (c *Classifier) ClassifyAny(faces []FaceAttributes) Verdict {
	if len(faces) == 0 {
		return Verdict{Reason: ReasonNoFace}
	}
	var first Verdict
	for i, face := range faces {
		verdict := c.Classify(face)
		if verdict.IsLive {
			return verdict
		}
		if i == 0 {
			first = verdict
		}
	}
	return first
}

func (r AttributeRule) satisfiedBy(attr *Attribute) bool {
	return attr != nil && attr.Value == r.Want && attr.Confidence >= r.MinConfidence
}
