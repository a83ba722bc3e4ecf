package liveness

// Attribute is a boolean face trait reported together with the service's confidence in it.
type Attribute struct {
	Value      bool    `json:"Value"`
	Confidence float64 `json:"Confidence"`
}

// FaceAttributes is the subset of a face analysis record the classifier consumes.
// The JSON layout matches a Rekognition FaceDetail so raw responses decode directly.
// Nil fields mean the service did not report the attribute.
type FaceAttributes struct {
	Confidence *float64   `json:"Confidence,omitempty"`
	EyesOpen   *Attribute `json:"EyesOpen,omitempty"`
	MouthOpen  *Attribute `json:"MouthOpen,omitempty"`
	Smile      *Attribute `json:"Smile,omitempty"`
	Sunglasses *Attribute `json:"Sunglasses,omitempty"`
}

// Verdict is the classifier output. Confidence is only set for live faces.
type Verdict struct {
	IsLive     bool     `json:"is_live"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Rejection reasons reported in Verdict.Reason.
const (
	ReasonNoFace     = "no_face"
	ReasonConfidence = "confidence"
	ReasonEyesOpen   = "eyes_open"
	ReasonMouthOpen  = "mouth_open"
	ReasonSmile      = "smile"
	ReasonSunglasses = "sunglasses"

	// ReasonTemporalGate marks sequences rejected before any face analysis.
	ReasonTemporalGate = "temporal_gate"
)
