package bootstrap

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/livecheck/internal/config"
	"github.com/example/livecheck/internal/facedetect"
	"github.com/example/livecheck/internal/liveness"
)

func testConfig() *config.Config {
	return &config.Config{
		Analyzer: config.AnalyzerConfig{Backend: config.BackendRekognition, RetryAttempts: 2},
		Liveness: config.LivenessConfig{
			Policy: "motion",
			Rules:  liveness.DefaultRules(),
			Motion: liveness.DefaultMotionConfig(),
		},
	}
}

func TestBuildLocal(t *testing.T) {
	components, err := Build(context.Background(), testConfig(), Local, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer components.Close()

	if components.Pipeline == nil || components.Store != nil || components.Faces != nil {
		t.Fatalf("unexpected components %+v", components)
	}
	if components.Retry.Attempts != 2 {
		t.Fatalf("expected retry attempts from config, got %d", components.Retry.Attempts)
	}
	if verdict := components.Pipeline.Classify(liveness.FaceAttributes{}); verdict.Reason != liveness.ReasonConfidence {
		t.Fatalf("expected configured classifier, got %+v", verdict)
	}
}

func TestBuildRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Liveness.Policy = "sometimes"
	if _, err := Build(context.Background(), cfg, Local, zap.NewNop()); err == nil {
		t.Fatal("expected policy error")
	}
}

func TestBuildRemoteRequiresRegion(t *testing.T) {
	if _, err := Build(context.Background(), testConfig(), Remote, zap.NewNop()); err == nil {
		t.Fatal("expected missing region error")
	}
}

func TestLoadAWSConfigUsesStaticCredentials(t *testing.T) {
	awsCfg, err := LoadAWSConfig(context.Background(), config.AWSConfig{
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if awsCfg.Region != "us-east-1" {
		t.Fatalf("unexpected region %s", awsCfg.Region)
	}
	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if creds.AccessKeyID != "AKIDEXAMPLE" {
		t.Fatalf("expected static credentials, got %s", creds.AccessKeyID)
	}
}

type deadlineDetector struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineDetector) DetectFaces(ctx context.Context, ref facedetect.ImageRef) ([]liveness.FaceAttributes, error) {
	d.deadline, d.ok = ctx.Deadline()
	return nil, nil
}

func TestWithTimeout(t *testing.T) {
	inner := &deadlineDetector{}
	if got := withTimeout(inner, 0); got != facedetect.Detector(inner) {
		t.Fatal("zero timeout should return the detector unchanged")
	}

	if _, err := withTimeout(inner, time.Second).DetectFaces(context.Background(), facedetect.ImageRef{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inner.ok || time.Until(inner.deadline) > time.Second {
		t.Fatalf("expected a deadline within one second, got %v", inner.deadline)
	}
}
