package gatekit

import (
	"errors"
	"time"

	"github.com/BurntSushi/toml"
)

// Config defines a public type used by the authentication engine APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Cache        CacheConfig
	Login        LoginConfig
	MFA          MFAConfig
	DeviceVerify DeviceVerifyConfig
	OTP          OTPConfig
	RateLimit    RateLimitConfig
	Security     SecurityConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig defines a public type used by the authentication engine APIs.
type CacheConfig struct {
	// Prefix namespaces every key this engine writes. Multiple engines may
	// share one Redis as long as prefixes differ.
	Prefix string
}

/*
====================================
LOGIN / AUTH TRANSACTION CONFIG
====================================
*/

// LoginConfig defines a public type used by the authentication engine APIs.
type LoginConfig struct {
	// ChallengeTTL bounds the lifetime of a pending login transaction.
	ChallengeTTL time.Duration
	// MaxChallengeAttempts is the per-transaction wrong-code budget. The
	// transaction is invalidated when the budget is exhausted.
	MaxChallengeAttempts int
	// MaxFailedLogins and FailedLoginWindow drive the per-identifier
	// failed-password counter. Zero MaxFailedLogins disables the counter.
	MaxFailedLogins   int
	FailedLoginWindow time.Duration
	// RequireCaptcha is the fallback when no Settings service is injected.
	RequireCaptcha bool
	// SingleSession is the fallback when no Settings service is injected.
	SingleSession bool
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig defines a public type used by the authentication engine APIs.
type MFAConfig struct {
	Enabled bool
	// RequiredForAll forces the MFA challenge even for users who have not
	// enrolled; such users fall through to device verification or deny.
	RequiredForAll bool
	// Issuer appears in the provisioning URL shown during setup.
	Issuer   string
	SetupTTL time.Duration
}

/*
====================================
DEVICE VERIFICATION CONFIG
====================================
*/

// DeviceVerifyConfig defines a public type used by the authentication engine APIs.
type DeviceVerifyConfig struct {
	Enabled bool
	// KnownDeviceTTL refreshes on every successful login from the device.
	KnownDeviceTTL time.Duration
}

/*
====================================
ONE-TIME CODE CONFIG
====================================
*/

// OTPConfig defines a public type used by the authentication engine APIs.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RouteLimit is the per-route rate limit policy. Routes without a policy, or
// with Enabled=false, are not limited.
type RouteLimit struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// RateLimitConfig defines a public type used by the authentication engine APIs.
type RateLimitConfig struct {
	// DefaultLimit/DefaultWindow apply to routes registered without an
	// explicit policy via [Engine.SetRouteLimit].
	DefaultLimit  int
	DefaultWindow time.Duration
	// Routes seeds the hot-reloadable per-route table at build time.
	Routes map[string]RouteLimit
}

/*
====================================
SECURITY MONITOR CONFIG
====================================
*/

// SecurityConfig defines a public type used by the authentication engine APIs.
type SecurityConfig struct {
	// Rule scores accumulate into the risk total for a login attempt.
	NewDeviceScore     int
	NewIPScore         int
	CountryChangeScore int
	// ChallengeThreshold and DenyThreshold map the total to an action.
	ChallengeThreshold int
	DenyThreshold      int
}

/*
====================================
AUDIT PIPELINE CONFIG
====================================
*/

// AuditConfig defines a public type used by the authentication engine APIs.
type AuditConfig struct {
	Enabled bool
	// BufferSize bounds the in-process dispatcher channel feeding the
	// Redis queue. DropIfFull trades loss for latency under pressure.
	BufferSize int
	DropIfFull bool
	// FlushInterval paces the durable-store worker; FlushTimeout bounds a
	// single flush so a stuck insert cannot starve later ticks.
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	// MaxBatch caps how many queued entries one tick drains.
	MaxBatch int
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by the authentication engine APIs.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the baseline configuration every builder starts from.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			Prefix: "gk",
		},
		Login: LoginConfig{
			ChallengeTTL:         5 * time.Minute,
			MaxChallengeAttempts: 5,
			MaxFailedLogins:      10,
			FailedLoginWindow:    15 * time.Minute,
		},
		MFA: MFAConfig{
			Enabled:  true,
			Issuer:   "gatekit",
			SetupTTL: 10 * time.Minute,
		},
		DeviceVerify: DeviceVerifyConfig{
			Enabled:        true,
			KnownDeviceTTL: 90 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		RateLimit: RateLimitConfig{
			DefaultLimit:  30,
			DefaultWindow: time.Minute,
		},
		Security: SecurityConfig{
			NewDeviceScore:     40,
			NewIPScore:         20,
			CountryChangeScore: 30,
			ChallengeThreshold: 40,
			DenyThreshold:      90,
		},
		Audit: AuditConfig{
			Enabled:       true,
			BufferSize:    1024,
			DropIfFull:    true,
			FlushInterval: 5 * time.Second,
			FlushTimeout:  10 * time.Second,
			MaxBatch:      500,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate normalizes zero values to defaults and rejects configurations the
// engine cannot run with.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.Cache.Prefix == "" {
		c.Cache.Prefix = def.Cache.Prefix
	}
	if c.Login.ChallengeTTL <= 0 {
		c.Login.ChallengeTTL = def.Login.ChallengeTTL
	}
	if c.Login.MaxChallengeAttempts <= 0 {
		c.Login.MaxChallengeAttempts = def.Login.MaxChallengeAttempts
	}
	if c.Login.FailedLoginWindow <= 0 {
		c.Login.FailedLoginWindow = def.Login.FailedLoginWindow
	}
	if c.MFA.SetupTTL <= 0 {
		c.MFA.SetupTTL = def.MFA.SetupTTL
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = def.MFA.Issuer
	}
	if c.DeviceVerify.KnownDeviceTTL <= 0 {
		c.DeviceVerify.KnownDeviceTTL = def.DeviceVerify.KnownDeviceTTL
	}
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		c.OTP.Digits = def.OTP.Digits
	}
	if c.OTP.TTL <= 0 {
		c.OTP.TTL = def.OTP.TTL
	}
	if c.OTP.MaxAttempts <= 0 {
		c.OTP.MaxAttempts = def.OTP.MaxAttempts
	}
	if c.RateLimit.DefaultLimit <= 0 {
		c.RateLimit.DefaultLimit = def.RateLimit.DefaultLimit
	}
	if c.RateLimit.DefaultWindow < time.Second {
		c.RateLimit.DefaultWindow = def.RateLimit.DefaultWindow
	}
	for route, rl := range c.RateLimit.Routes {
		if rl.Enabled && (rl.Limit <= 0 || rl.Window < time.Second) {
			return errors.New("rate limit route " + route + ": enabled routes need limit >= 1 and window >= 1s")
		}
	}
	if c.Security.DenyThreshold <= c.Security.ChallengeThreshold {
		return errors.New("security deny threshold must exceed challenge threshold")
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = def.Audit.BufferSize
	}
	if c.Audit.FlushInterval <= 0 {
		c.Audit.FlushInterval = def.Audit.FlushInterval
	}
	if c.Audit.FlushTimeout <= 0 {
		c.Audit.FlushTimeout = def.Audit.FlushTimeout
	}
	if c.Audit.MaxBatch <= 0 {
		c.Audit.MaxBatch = def.Audit.MaxBatch
	}

	return nil
}

// fileConfig is the TOML shape of Config. Durations are expressed in seconds
// so operators never guess units.
type fileConfig struct {
	Cache struct {
		Prefix string `toml:"prefix"`
	} `toml:"cache"`
	Login struct {
		ChallengeTTLSeconds      int  `toml:"challenge_ttl_seconds"`
		MaxChallengeAttempts     int  `toml:"max_challenge_attempts"`
		MaxFailedLogins          int  `toml:"max_failed_logins"`
		FailedLoginWindowSeconds int  `toml:"failed_login_window_seconds"`
		RequireCaptcha           bool `toml:"require_captcha"`
		SingleSession            bool `toml:"single_session"`
	} `toml:"login"`
	MFA struct {
		Enabled         bool   `toml:"enabled"`
		RequiredForAll  bool   `toml:"required_for_all"`
		Issuer          string `toml:"issuer"`
		SetupTTLSeconds int    `toml:"setup_ttl_seconds"`
	} `toml:"mfa"`
	DeviceVerify struct {
		Enabled              bool `toml:"enabled"`
		KnownDeviceTTLHours  int  `toml:"known_device_ttl_hours"`
	} `toml:"device_verify"`
	OTP struct {
		Digits      int `toml:"digits"`
		TTLSeconds  int `toml:"ttl_seconds"`
		MaxAttempts int `toml:"max_attempts"`
	} `toml:"otp"`
	RateLimit struct {
		DefaultLimit         int `toml:"default_limit"`
		DefaultWindowSeconds int `toml:"default_window_seconds"`
		Routes               map[string]struct {
			Enabled       bool `toml:"enabled"`
			Limit         int  `toml:"limit"`
			WindowSeconds int  `toml:"window_seconds"`
		} `toml:"routes"`
	} `toml:"rate_limit"`
	Audit struct {
		Enabled              bool `toml:"enabled"`
		BufferSize           int  `toml:"buffer_size"`
		DropIfFull           bool `toml:"drop_if_full"`
		FlushIntervalSeconds int  `toml:"flush_interval_seconds"`
		FlushTimeoutSeconds  int  `toml:"flush_timeout_seconds"`
		MaxBatch             int  `toml:"max_batch"`
	} `toml:"audit"`
}

// LoadConfig reads a TOML file and merges it over [DefaultConfig]. Sections
// absent from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var fc fileConfig
	fc.MFA.Enabled = cfg.MFA.Enabled
	fc.DeviceVerify.Enabled = cfg.DeviceVerify.Enabled
	fc.Audit.Enabled = cfg.Audit.Enabled
	fc.Audit.DropIfFull = cfg.Audit.DropIfFull
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, err
	}

	if fc.Cache.Prefix != "" {
		cfg.Cache.Prefix = fc.Cache.Prefix
	}
	if fc.Login.ChallengeTTLSeconds > 0 {
		cfg.Login.ChallengeTTL = time.Duration(fc.Login.ChallengeTTLSeconds) * time.Second
	}
	if fc.Login.MaxChallengeAttempts > 0 {
		cfg.Login.MaxChallengeAttempts = fc.Login.MaxChallengeAttempts
	}
	if fc.Login.MaxFailedLogins > 0 {
		cfg.Login.MaxFailedLogins = fc.Login.MaxFailedLogins
	}
	if fc.Login.FailedLoginWindowSeconds > 0 {
		cfg.Login.FailedLoginWindow = time.Duration(fc.Login.FailedLoginWindowSeconds) * time.Second
	}
	cfg.Login.RequireCaptcha = fc.Login.RequireCaptcha
	cfg.Login.SingleSession = fc.Login.SingleSession

	cfg.MFA.Enabled = fc.MFA.Enabled
	cfg.MFA.RequiredForAll = fc.MFA.RequiredForAll
	if fc.MFA.Issuer != "" {
		cfg.MFA.Issuer = fc.MFA.Issuer
	}
	if fc.MFA.SetupTTLSeconds > 0 {
		cfg.MFA.SetupTTL = time.Duration(fc.MFA.SetupTTLSeconds) * time.Second
	}

	cfg.DeviceVerify.Enabled = fc.DeviceVerify.Enabled
	if fc.DeviceVerify.KnownDeviceTTLHours > 0 {
		cfg.DeviceVerify.KnownDeviceTTL = time.Duration(fc.DeviceVerify.KnownDeviceTTLHours) * time.Hour
	}

	if fc.OTP.Digits > 0 {
		cfg.OTP.Digits = fc.OTP.Digits
	}
	if fc.OTP.TTLSeconds > 0 {
		cfg.OTP.TTL = time.Duration(fc.OTP.TTLSeconds) * time.Second
	}
	if fc.OTP.MaxAttempts > 0 {
		cfg.OTP.MaxAttempts = fc.OTP.MaxAttempts
	}

	if fc.RateLimit.DefaultLimit > 0 {
		cfg.RateLimit.DefaultLimit = fc.RateLimit.DefaultLimit
	}
	if fc.RateLimit.DefaultWindowSeconds > 0 {
		cfg.RateLimit.DefaultWindow = time.Duration(fc.RateLimit.DefaultWindowSeconds) * time.Second
	}
	if len(fc.RateLimit.Routes) > 0 {
		cfg.RateLimit.Routes = make(map[string]RouteLimit, len(fc.RateLimit.Routes))
		for route, rl := range fc.RateLimit.Routes {
			cfg.RateLimit.Routes[route] = RouteLimit{
				Enabled: rl.Enabled,
				Limit:   rl.Limit,
				Window:  time.Duration(rl.WindowSeconds) * time.Second,
			}
		}
	}

	cfg.Audit.Enabled = fc.Audit.Enabled
	cfg.Audit.DropIfFull = fc.Audit.DropIfFull
	if fc.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = fc.Audit.BufferSize
	}
	if fc.Audit.FlushIntervalSeconds > 0 {
		cfg.Audit.FlushInterval = time.Duration(fc.Audit.FlushIntervalSeconds) * time.Second
	}
	if fc.Audit.FlushTimeoutSeconds > 0 {
		cfg.Audit.FlushTimeout = time.Duration(fc.Audit.FlushTimeoutSeconds) * time.Second
	}
	if fc.Audit.MaxBatch > 0 {
		cfg.Audit.MaxBatch = fc.Audit.MaxBatch
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
