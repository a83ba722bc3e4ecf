// Package config loads service and CLI settings from defaults, an optional YAML
// file, .env files and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/logging"
)

// Detector backends.
const (
	BackendRekognition = "rekognition"
	BackendGRPC        = "grpc"
)

// Config holds all configuration for the service and CLI.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Database DatabaseConfig  `mapstructure:"database"`
	Redis    RedisConfig     `mapstructure:"redis"`
	AWS      AWSConfig       `mapstructure:"aws"`
	Analyzer AnalyzerConfig  `mapstructure:"analyzer"`
	Liveness LivenessConfig  `mapstructure:"liveness"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Capture  CaptureConfig   `mapstructure:"capture"`
	Logging  logging.Options `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxFrames       int           `mapstructure:"max_frames"`
}

// AuthConfig holds JWT validation settings.
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// RedisConfig holds the result cache settings.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

// AWSConfig holds credentials, region and the bucket frames are uploaded to.
// Empty keys fall back to the SDK default credential chain.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
}

// AnalyzerConfig selects the external face analysis backend.
type AnalyzerConfig struct {
	Backend       string        `mapstructure:"backend"`
	GRPCAddr      string        `mapstructure:"grpc_addr"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

// LivenessConfig holds the decision engine thresholds.
type LivenessConfig struct {
	Policy         string                `mapstructure:"policy"`
	Rules          liveness.Rules        `mapstructure:"rules"`
	Motion         liveness.MotionConfig `mapstructure:"motion"`
	Blink          BlinkConfig           `mapstructure:"blink"`
	MaxFramePixels int                   `mapstructure:"max_frame_pixels"`
}

// BlinkConfig points at the Haar cascades used for eye presence.
type BlinkConfig struct {
	FaceCascade  string  `mapstructure:"face_cascade"`
	EyeCascade   string  `mapstructure:"eye_cascade"`
	ScaleFactor  float64 `mapstructure:"scale_factor"`
	MinNeighbors int     `mapstructure:"min_neighbors"`
}

// StorageConfig controls uploaded frame lifetime.
type StorageConfig struct {
	CleanupAfterCheck bool   `mapstructure:"cleanup_after_check"`
	KeyPrefix         string `mapstructure:"key_prefix"`
}

// CaptureConfig holds webcam capture settings for the CLI.
type CaptureConfig struct {
	Device       int           `mapstructure:"device"`
	Frames       int           `mapstructure:"frames"`
	Delay        time.Duration `mapstructure:"delay"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

// envAliases binds config keys to the unprefixed variable names deployments already use.
var envAliases = map[string]string{
	"aws.access_key_id":     "AWS_ACCESS_KEY_ID",
	"aws.secret_access_key": "AWS_SECRET_ACCESS_KEY",
	"aws.session_token":     "AWS_SESSION_TOKEN",
	"aws.region":            "AWS_REGION",
	"aws.bucket":            "S3_BUCKET",
	"database.dsn":          "DATABASE_DSN",
	"redis.addr":            "REDIS_ADDR",
	"auth.jwt_secret":       "JWT_SECRET",
	"auth.jwt_audience":     "JWT_AUDIENCE",
	"analyzer.grpc_addr":    "FACE_ANALYZER_ADDR",
}

// Load reads configuration. An empty path searches the standard locations; a missing
// file is not an error. .env files in the working directory are loaded first and
// never override variables that are already set.
func Load(configPath string, envFiles ...string) (*Config, error) {
	cfg, err := read(configPath, envFiles)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLocal is Load for commands that never reach AWS, the analyzer or the server.
func LoadLocal(configPath string, envFiles ...string) (*Config, error) {
	cfg, err := read(configPath, envFiles)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateLocal(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(configPath string, envFiles []string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("livecheck")
		v.AddConfigPath("/etc/livecheck/")
		v.AddConfigPath("$HOME/.livecheck")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LIVECHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "LIVECHECK_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		// The default .env is optional.
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("error loading env files: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	rules := liveness.DefaultRules()
	motion := liveness.DefaultMotionConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_frames", 20)

	v.SetDefault("auth.jwt_secret", "dev-secret")
	v.SetDefault("auth.jwt_audience", "")

	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=livecheck port=5432 sslmode=disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.result_ttl", 5*time.Minute)

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("aws.bucket", "")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("analyzer.backend", BackendRekognition)
	v.SetDefault("analyzer.grpc_addr", "face-analyzer:50051")
	v.SetDefault("analyzer.timeout", 10*time.Second)
	v.SetDefault("analyzer.retry_attempts", 3)

	v.SetDefault("liveness.policy", string(liveness.PolicyMotion))
	v.SetDefault("liveness.rules.min_confidence", rules.MinConfidence)
	v.SetDefault("liveness.rules.eyes_open.want", rules.EyesOpen.Want)
	v.SetDefault("liveness.rules.eyes_open.min_confidence", rules.EyesOpen.MinConfidence)
	v.SetDefault("liveness.rules.mouth_open.want", rules.MouthOpen.Want)
	v.SetDefault("liveness.rules.mouth_open.min_confidence", rules.MouthOpen.MinConfidence)
	v.SetDefault("liveness.rules.smile.want", rules.Smile.Want)
	v.SetDefault("liveness.rules.smile.min_confidence", rules.Smile.MinConfidence)
	v.SetDefault("liveness.rules.sunglasses.want", rules.Sunglasses.Want)
	v.SetDefault("liveness.rules.sunglasses.min_confidence", rules.Sunglasses.MinConfidence)
	v.SetDefault("liveness.motion.threshold", motion.Threshold)
	v.SetDefault("liveness.motion.aggregate", string(motion.Aggregate))
	v.SetDefault("liveness.blink.face_cascade", "")
	v.SetDefault("liveness.blink.eye_cascade", "")
	v.SetDefault("liveness.blink.scale_factor", 1.1)
	v.SetDefault("liveness.blink.min_neighbors", 4)
	v.SetDefault("liveness.max_frame_pixels", liveness.DefaultMaxFramePixels)

	v.SetDefault("storage.cleanup_after_check", true)
	v.SetDefault("storage.key_prefix", "")

	v.SetDefault("capture.device", 0)
	v.SetDefault("capture.frames", 10)
	v.SetDefault("capture.delay", 200*time.Millisecond)
	v.SetDefault("capture.initial_delay", time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Validate checks the settings that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if err := c.ValidateLocal(); err != nil {
		return err
	}

	switch c.Analyzer.Backend {
	case BackendRekognition:
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS_REGION environment variable not set")
		}
	case BackendGRPC:
		if c.Analyzer.GRPCAddr == "" {
			return fmt.Errorf("analyzer grpc address cannot be empty")
		}
	default:
		return fmt.Errorf("unknown analyzer backend %q", c.Analyzer.Backend)
	}

	if c.Server.MaxFrames < 1 {
		return fmt.Errorf("server max frames must be positive")
	}
	return nil
}

// ValidateLocal checks the decision engine and capture settings only.
func (c *Config) ValidateLocal() error {
	policy, err := liveness.ParsePolicy(c.Liveness.Policy)
	if err != nil {
		return err
	}
	aggregate, err := liveness.ParseAggregate(string(c.Liveness.Motion.Aggregate))
	if err != nil {
		return err
	}
	c.Liveness.Motion.Aggregate = aggregate
	if c.Liveness.Motion.Threshold < 0 {
		return fmt.Errorf("motion threshold must not be negative")
	}

	rules := c.Liveness.Rules
	for name, value := range map[string]float64{
		"min_confidence":            rules.MinConfidence,
		"eyes_open.min_confidence":  rules.EyesOpen.MinConfidence,
		"mouth_open.min_confidence": rules.MouthOpen.MinConfidence,
		"smile.min_confidence":      rules.Smile.MinConfidence,
		"sunglasses.min_confidence": rules.Sunglasses.MinConfidence,
	} {
		if !(value >= 0 && value <= 100) {
			return fmt.Errorf("liveness rule %s must be between 0 and 100", name)
		}
	}

	if (c.Liveness.Blink.FaceCascade == "") != (c.Liveness.Blink.EyeCascade == "") {
		return fmt.Errorf("face and eye cascades must be configured together")
	}
	if c.Liveness.Blink.ScaleFactor <= 1 {
		return fmt.Errorf("cascade scale factor must be greater than 1")
	}
	if (policy == liveness.PolicyBlink || policy == liveness.PolicyAll) && !c.BlinkEnabled() {
		return fmt.Errorf("liveness policy %q requires face and eye cascades", policy)
	}
	if c.Liveness.MaxFramePixels < 1 {
		return fmt.Errorf("liveness max frame pixels must be positive")
	}

	if c.Capture.Frames < 1 {
		return fmt.Errorf("capture frames must be positive")
	}
	return nil
}

// BlinkEnabled reports whether both cascades are configured.
func (c *Config) BlinkEnabled() bool {
	return c.Liveness.Blink.FaceCascade != "" && c.Liveness.Blink.EyeCascade != ""
}
