package liveness

import (
	"encoding/json"
	"math"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func liveAttributes() FaceAttributes {
	return FaceAttributes{
		Confidence: ptr(99.5),
		EyesOpen:   &Attribute{Value: true, Confidence: 95},
		MouthOpen:  &Attribute{Value: false, Confidence: 95},
		Smile:      &Attribute{Value: false, Confidence: 95},
		Sunglasses: &Attribute{Value: false, Confidence: 95},
	}
}

func TestClassifyAcceptsLiveFace(t *testing.T) {
	verdict := NewClassifier(DefaultRules()).Classify(liveAttributes())
	if !verdict.IsLive {
		t.Fatalf("expected live verdict, got %+v", verdict)
	}
	if verdict.Confidence == nil || *verdict.Confidence != 99.5 {
		t.Fatalf("expected confidence 99.5, got %v", verdict.Confidence)
	}
}

func TestClassifyRejectsSmile(t *testing.T) {
	attrs := liveAttributes()
	attrs.Smile = &Attribute{Value: true, Confidence: 95}

	verdict := NewClassifier(DefaultRules()).Classify(attrs)
	if verdict.IsLive {
		t.Fatal("expected smiling face to be rejected")
	}
	if verdict.Confidence != nil {
		t.Fatalf("expected no confidence on rejection, got %v", *verdict.Confidence)
	}
	if verdict.Reason != ReasonSmile {
		t.Fatalf("unexpected reason: %s", verdict.Reason)
	}
}

func TestClassifyRejectsLowConfidenceRegardlessOfAttributes(t *testing.T) {
	classifier := NewClassifier(DefaultRules())
	for _, confidence := range []float64{0, 50, 98.99} {
		attrs := liveAttributes()
		attrs.Confidence = ptr(confidence)
		if verdict := classifier.Classify(attrs); verdict.IsLive || verdict.Reason != ReasonConfidence {
			t.Fatalf("confidence %.2f: expected rejection, got %+v", confidence, verdict)
		}
	}
}

func TestClassifyRejectsNaNConfidence(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name   string
		mutate func(*FaceAttributes)
		reason string
	}{
		{"face", func(a *FaceAttributes) { a.Confidence = ptr(nan) }, ReasonConfidence},
		{"eyes open", func(a *FaceAttributes) { a.EyesOpen.Confidence = nan }, ReasonEyesOpen},
		{"mouth open", func(a *FaceAttributes) { a.MouthOpen.Confidence = nan }, ReasonMouthOpen},
		{"smile", func(a *FaceAttributes) { a.Smile.Confidence = nan }, ReasonSmile},
		{"sunglasses", func(a *FaceAttributes) { a.Sunglasses.Confidence = nan }, ReasonSunglasses},
	}

	classifier := NewClassifier(DefaultRules())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			attrs := liveAttributes()
			tc.mutate(&attrs)
			verdict := classifier.Classify(attrs)
			if verdict.IsLive || verdict.Confidence != nil {
				t.Fatalf("expected NaN to be rejected, got %+v", verdict)
			}
			if verdict.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, verdict.Reason)
			}
		})
	}
}

func TestClassifyEveryRuleIsMandatory(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*FaceAttributes)
		reason string
	}{
		{"eyes closed", func(a *FaceAttributes) { a.EyesOpen.Value = false }, ReasonEyesOpen},
		{"eyes unsure", func(a *FaceAttributes) { a.EyesOpen.Confidence = 89.9 }, ReasonEyesOpen},
		{"eyes missing", func(a *FaceAttributes) { a.EyesOpen = nil }, ReasonEyesOpen},
		{"mouth open", func(a *FaceAttributes) { a.MouthOpen.Value = true }, ReasonMouthOpen},
		{"mouth unsure", func(a *FaceAttributes) { a.MouthOpen.Confidence = 80 }, ReasonMouthOpen},
		{"mouth missing", func(a *FaceAttributes) { a.MouthOpen = nil }, ReasonMouthOpen},
		{"smiling", func(a *FaceAttributes) { a.Smile.Value = true }, ReasonSmile},
		{"smile unsure", func(a *FaceAttributes) { a.Smile.Confidence = 10 }, ReasonSmile},
		{"smile missing", func(a *FaceAttributes) { a.Smile = nil }, ReasonSmile},
		{"sunglasses", func(a *FaceAttributes) { a.Sunglasses.Value = true }, ReasonSunglasses},
		{"sunglasses unsure", func(a *FaceAttributes) { a.Sunglasses.Confidence = 89 }, ReasonSunglasses},
		{"sunglasses missing", func(a *FaceAttributes) { a.Sunglasses = nil }, ReasonSunglasses},
		{"confidence missing", func(a *FaceAttributes) { a.Confidence = nil }, ReasonConfidence},
	}

	classifier := NewClassifier(DefaultRules())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			attrs := liveAttributes()
			tc.mutate(&attrs)
			verdict := classifier.Classify(attrs)
			if verdict.IsLive {
				t.Fatal("expected rejection")
			}
			if verdict.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, verdict.Reason)
			}
		})
	}
}

func TestClassifyThresholdsAreInclusive(t *testing.T) {
	attrs := FaceAttributes{
		Confidence: ptr(99.0),
		EyesOpen:   &Attribute{Value: true, Confidence: 90},
		MouthOpen:  &Attribute{Value: false, Confidence: 90},
		Smile:      &Attribute{Value: false, Confidence: 90},
		Sunglasses: &Attribute{Value: false, Confidence: 90},
	}
	if verdict := NewClassifier(DefaultRules()).Classify(attrs); !verdict.IsLive {
		t.Fatalf("expected boundary values to pass, got %+v", verdict)
	}
}

func TestClassifyHonoursOverriddenRules(t *testing.T) {
	rules := DefaultRules()
	rules.Smile = AttributeRule{Want: true, MinConfidence: 50}

	attrs := liveAttributes()
	attrs.Smile = &Attribute{Value: true, Confidence: 60}
	if verdict := NewClassifier(rules).Classify(attrs); !verdict.IsLive {
		t.Fatalf("expected overridden smile rule to accept, got %+v", verdict)
	}
}

func TestClassifyAnyReturnsFirstLiveFace(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	rejected := liveAttributes()
	rejected.Sunglasses = &Attribute{Value: true, Confidence: 99}
	live := liveAttributes()
	live.Confidence = ptr(99.9)

	verdict := classifier.ClassifyAny([]FaceAttributes{rejected, live})
	if !verdict.IsLive || *verdict.Confidence != 99.9 {
		t.Fatalf("expected second face to be accepted, got %+v", verdict)
	}

	verdict = classifier.ClassifyAny([]FaceAttributes{rejected})
	if verdict.IsLive || verdict.Reason != ReasonSunglasses {
		t.Fatalf("expected first rejection reason, got %+v", verdict)
	}

	verdict = classifier.ClassifyAny(nil)
	if verdict.IsLive || verdict.Reason != ReasonNoFace {
		t.Fatalf("expected no_face, got %+v", verdict)
	}
}

func TestFaceAttributesDecodeFromFaceDetail(t *testing.T) {
	raw := `{
		"BoundingBox": {"Width": 0.2},
		"Confidence": 99.5,
		"EyesOpen": {"Value": true, "Confidence": 95},
		"MouthOpen": {"Value": false, "Confidence": 95},
		"Smile": {"Value": false, "Confidence": 95},
		"Sunglasses": {"Value": false, "Confidence": 95}
	}`
	var attrs FaceAttributes
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if verdict := NewClassifier(DefaultRules()).Classify(attrs); !verdict.IsLive {
		t.Fatalf("expected decoded record to be live, got %+v", verdict)
	}
}
