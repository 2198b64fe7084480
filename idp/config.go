package idp

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bullishbrief/briefauth/jwt"
)

// Config is the provider policy.
type Config struct {
	OTP     OTPConfig     `yaml:"otp"`
	Limits  LimitsConfig  `yaml:"limits"`
	Session SessionConfig `yaml:"session"`
	// EnumerationSafe answers unknown-account and already-registered sends
	// with the same generic failure.
	EnumerationSafe bool   `yaml:"enumeration_safe"`
	RedisPrefix     string `yaml:"redis_prefix"`
}

type OTPConfig struct {
	Digits         int           `yaml:"digits"`
	TTL            time.Duration `yaml:"ttl"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ResendCooldown time.Duration `yaml:"resend_cooldown"`
}

type LimitsConfig struct {
	Window           time.Duration `yaml:"window"`
	MaxRequests      int           `yaml:"max_requests"`
	MaxVerifies      int           `yaml:"max_verifies"`
	EnableIPThrottle bool          `yaml:"enable_ip_throttle"`
}

// SessionConfig drives the access tokens minted on verify. Secret is the
// hs256 key; the key files hold a PEM ed25519 pair.
type SessionConfig struct {
	AccessTTL      time.Duration `yaml:"access_ttl"`
	SigningMethod  string        `yaml:"signing_method"`
	Secret         string        `yaml:"secret"`
	PrivateKeyFile string        `yaml:"private_key_file"`
	PublicKeyFile  string        `yaml:"public_key_file"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	KeyID          string        `yaml:"key_id"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:         6,
			TTL:            10 * time.Minute,
			MaxAttempts:    5,
			ResendCooldown: 60 * time.Second,
		},
		Limits: LimitsConfig{
			Window:           time.Hour,
			MaxRequests:      30,
			MaxVerifies:      30,
			EnableIPThrottle: true,
		},
		Session: SessionConfig{
			AccessTTL:     time.Hour,
			SigningMethod: string(jwt.MethodHS256),
			Issuer:        "briefauth-idp",
			Audience:      "authenticated",
		},
		EnumerationSafe: false,
		RedisPrefix:     "bba",
	}
}

func DefaultConfig() Config {
	return defaultConfig()
}

/*
====================================
LOADING
====================================
*/

const (
	EnvJWTSecret       = "BRIEFAUTH_IDP_JWT_SECRET"
	EnvEnumerationSafe = "BRIEFAUTH_IDP_ENUMERATION_SAFE"
)

// LoadConfig reads a YAML file over the defaults and applies environment
// overrides. An empty path loads defaults plus environment.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read idp config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse idp config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvJWTSecret); ok && v != "" {
		c.Session.Secret = v
	}
	if v, ok := lookup(EnvEnumerationSafe); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			c.EnumerationSafe = true
		case "0", "false", "no", "off":
			c.EnumerationSafe = false
		}
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the whole configuration, session keys included.
func (c *Config) Validate() error {
	if err := c.validatePolicy(); err != nil {
		return err
	}
	return c.validateSession()
}

func (c *Config) validatePolicy() error {
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.ResendCooldown < 0 {
		return errors.New("OTP ResendCooldown must be >= 0")
	}
	if c.OTP.ResendCooldown >= c.OTP.TTL {
		return errors.New("OTP ResendCooldown must be < OTP TTL")
	}

	if c.Limits.MaxRequests < 0 || c.Limits.MaxVerifies < 0 {
		return errors.New("Limits MaxRequests and MaxVerifies must be >= 0")
	}
	if (c.Limits.MaxRequests > 0 || c.Limits.MaxVerifies > 0) && c.Limits.Window <= 0 {
		return errors.New("Limits Window must be > 0 when limits are enabled")
	}
	if strings.ContainsAny(c.RedisPrefix, " :") {
		return errors.New("RedisPrefix must not contain spaces or colons")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.AccessTTL <= 0 {
		return errors.New("Session AccessTTL must be > 0")
	}
	switch jwt.SigningMethod(c.Session.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.Session.Secret) < 32 {
			return errors.New("Session Secret must be at least 32 bytes for hs256")
		}
	case jwt.MethodEd25519:
		if c.Session.PrivateKeyFile == "" || c.Session.PublicKeyFile == "" {
			return errors.New("Session PrivateKeyFile and PublicKeyFile are required for ed25519")
		}
	default:
		return fmt.Errorf("Session SigningMethod %q is invalid", c.Session.SigningMethod)
	}
	return nil
}

// TokenManager builds the jwt.Manager described by the session settings.
func (c *Config) TokenManager() (*jwt.Manager, error) {
	if err := c.validateSession(); err != nil {
		return nil, err
	}
	jc := jwt.Config{
		AccessTTL:     c.Session.AccessTTL,
		SigningMethod: jwt.SigningMethod(c.Session.SigningMethod),
		Issuer:        c.Session.Issuer,
		Audience:      c.Session.Audience,
		KeyID:         c.Session.KeyID,
	}
	switch jc.SigningMethod {
	case jwt.MethodEd25519:
		key, err := os.ReadFile(c.Session.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read session key: %w", err)
		}
		jc.PrivateKey = key
		pub, err := os.ReadFile(c.Session.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read session public key: %w", err)
		}
		jc.PublicKey = pub
	default:
		jc.PrivateKey = []byte(c.Session.Secret)
	}
	return jwt.NewManager(jc)
}
