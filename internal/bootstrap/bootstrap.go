// Package bootstrap assembles the liveness pipeline from configuration for the
// HTTP server and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/example/livecheck/internal/cascade"
	"github.com/example/livecheck/internal/config"
	"github.com/example/livecheck/internal/facedetect"
	"github.com/example/livecheck/internal/grpcclient"
	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/retry"
	"github.com/example/livecheck/internal/storage"
	"github.com/example/livecheck/internal/usecase"
)

// Mode selects which external dependencies are wired.
type Mode int

const (
	// Local wires only the temporal analyzers and the classifier.
	Local Mode = iota
	// Remote also wires S3 and the face analysis backend.
	Remote
)

// Components are the wired pieces a command needs. Close releases them.
type Components struct {
	Pipeline *usecase.Pipeline
	Store    *storage.S3Store
	Faces    *cascade.Detector
	Retry    retry.Policy

	closers []func() error
}

// Close releases native classifiers and network connections.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires a pipeline for cfg. In Local mode no AWS or gRPC client is created.
func Build(ctx context.Context, cfg *config.Config, mode Mode, logger *zap.Logger) (*Components, error) {
	policy, err := liveness.ParsePolicy(cfg.Liveness.Policy)
	if err != nil {
		return nil, err
	}

	c := &Components{Retry: retry.Policy{
		Attempts:       cfg.Analyzer.RetryAttempts,
		InitialBackoff: retry.DefaultPolicy().InitialBackoff,
		MaxBackoff:     retry.DefaultPolicy().MaxBackoff,
	}}
	deps := usecase.PipelineDeps{
		Policy:     policy,
		Motion:     liveness.NewMotionAnalyzer(cfg.Liveness.Motion),
		Classifier: liveness.NewClassifier(cfg.Liveness.Rules),
	}

	if blink := cfg.Liveness.Blink; blink.FaceCascade != "" {
		params := cascade.DefaultParams()
		params.ScaleFactor = blink.ScaleFactor
		params.MinNeighbors = blink.MinNeighbors
		faces, err := cascade.New(blink.FaceCascade, blink.EyeCascade, params)
		if err != nil {
			return nil, err
		}
		c.Faces = faces
		c.closers = append(c.closers, faces.Close)
		deps.Faces = faces
		if cfg.BlinkEnabled() {
			deps.Blink = liveness.NewBlinkAnalyzer(faces)
		}
	}
	if deps.Blink == nil && policy != liveness.PolicyMotion {
		logger.Warn("blink analysis required by policy but no eye cascade configured", zap.String("policy", string(policy)))
	}

	if mode == Remote {
		if err := c.wireRemote(ctx, cfg, &deps, logger); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	c.Pipeline = usecase.NewPipeline(deps, usecase.PipelineOptions{
		CleanupAfterCheck: cfg.Storage.CleanupAfterCheck,
		Retry:             c.Retry,
		MaxFramePixels:    cfg.Liveness.MaxFramePixels,
	}, logger)
	return c, nil
}

func (c *Components) wireRemote(ctx context.Context, cfg *config.Config, deps *usecase.PipelineDeps, logger *zap.Logger) error {
	var awsCfg aws.Config
	needAWS := cfg.Analyzer.Backend == config.BackendRekognition || cfg.AWS.Bucket != ""
	if needAWS {
		loaded, err := LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		awsCfg = loaded
	}

	if cfg.AWS.Bucket != "" {
		c.Store = storage.NewS3Store(NewS3Client(awsCfg, cfg.AWS), cfg.AWS.Bucket, cfg.Storage.KeyPrefix, logger)
		deps.Store = c.Store
	}

	switch cfg.Analyzer.Backend {
	case config.BackendGRPC:
		detector, conn, err := grpcclient.DialFaceAnalyzer(ctx, cfg.Analyzer.GRPCAddr, logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, conn.Close)
		deps.Detector = withTimeout(detector, cfg.Analyzer.Timeout)
	default:
		client := rekognition.NewFromConfig(awsCfg, func(o *rekognition.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			}
		})
		deps.Detector = withTimeout(facedetect.NewRekognitionDetector(client, logger), cfg.Analyzer.Timeout)
	}
	return nil
}

// LoadAWSConfig resolves region and credentials. Static keys take precedence over the
// default credential chain when both parts are set.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	if cfg.Region == "" {
		return aws.Config{}, errors.New("AWS_REGION environment variable not set")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewS3Client builds an S3 client, honouring a custom endpoint for local stacks.
func NewS3Client(awsCfg aws.Config, cfg config.AWSConfig) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
}

type timeoutDetector struct {
	next    facedetect.Detector
	timeout time.Duration
}

func withTimeout(next facedetect.Detector, timeout time.Duration) facedetect.Detector {
	if timeout <= 0 {
		return next
	}
	return &timeoutDetector{next: next, timeout: timeout}
}

func (d *timeoutDetector) DetectFaces(ctx context.Context, ref facedetect.ImageRef) ([]liveness.FaceAttributes, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.next.DetectFaces(ctx, ref)
}
