package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"
)

var ErrMonitorBackend = errors.New("security monitor backend unavailable")

// MonitorConfig holds the rule scores and action thresholds.
type MonitorConfig struct {
	NewDeviceScore     int
	NewIPScore         int
	CountryChangeScore int
	ChallengeThreshold int
	DenyThreshold      int
	KnownDeviceTTL     time.Duration
}

// Action is the monitor's verdict.
type Action uint8

const (
	Allow Action = iota
	Challenge
	Deny
)

// Assessment is the risk evaluation snapshot for one login attempt.
type Assessment struct {
	IsNewDevice bool
	IsNewIP     bool
	Risk        int
	Action      Action
	Country     string
	Location    string
}

// Monitor classifies login attempts as known or anomalous. Device
// fingerprints and last-seen IP/country live in Redis under TTLs; each rule
// contributes an itemized score and the total maps to an action through the
// configured thresholds.
type Monitor struct {
	redis  redis.UniversalClient
	prefix string
	cfg    MonitorConfig
	geo    *geoip2.Reader
}

// NewMonitor creates a Monitor. geo may be nil; the country-change rule is
// skipped without it.
func NewMonitor(redisClient redis.UniversalClient, prefix string, cfg MonitorConfig, geo *geoip2.Reader) *Monitor {
	if prefix == "" {
		prefix = "sec"
	}
	if cfg.KnownDeviceTTL <= 0 {
		cfg.KnownDeviceTTL = 90 * 24 * time.Hour
	}
	return &Monitor{
		redis:  redisClient,
		prefix: prefix,
		cfg:    cfg,
		geo:    geo,
	}
}

func (m *Monitor) deviceKey(userID, fingerprint string) string {
	return m.prefix + ":dev:" + userID + ":" + fingerprint
}

func (m *Monitor) ipKey(userID, ip string) string {
	return m.prefix + ":ip:" + userID + ":" + ip
}

func (m *Monitor) countryKey(userID string) string {
	return m.prefix + ":cc:" + userID
}

// Evaluate scores one login attempt. It only reads; known state is recorded
// separately via RememberDevice once the attempt succeeds.
func (m *Monitor) Evaluate(ctx context.Context, userID, fingerprint, ip string) (Assessment, error) {
	var a Assessment

	knownDevice, err := m.exists(ctx, m.deviceKey(userID, fingerprint))
	if err != nil {
		return a, err
	}
	if !knownDevice {
		a.IsNewDevice = true
		a.Risk += m.cfg.NewDeviceScore
	}

	if ip != "" {
		knownIP, err := m.exists(ctx, m.ipKey(userID, ip))
		if err != nil {
			return a, err
		}
		if !knownIP {
			a.IsNewIP = true
			a.Risk += m.cfg.NewIPScore
		}

		if country, location, ok := m.lookup(ip); ok {
			a.Country = country
			a.Location = location
			last, err := m.redis.Get(ctx, m.countryKey(userID)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return a, fmt.Errorf("%w: %v", ErrMonitorBackend, err)
			}
			if last != "" && country != "" && last != country {
				a.Risk += m.cfg.CountryChangeScore
			}
		}
	}

	switch {
	case a.Risk >= m.cfg.DenyThreshold:
		a.Action = Deny
	case a.Risk >= m.cfg.ChallengeThreshold:
		a.Action = Challenge
	default:
		a.Action = Allow
	}
	return a, nil
}

// RememberDevice records the fingerprint, IP, and country as known for the
// user. Called after a successful login (or verified challenge) so failed
// probes never whitelist anything.
func (m *Monitor) RememberDevice(ctx context.Context, userID, fingerprint, ip string) error {
	now := time.Now().Unix()

	pipe := m.redis.Pipeline()
	pipe.Set(ctx, m.deviceKey(userID, fingerprint), now, m.cfg.KnownDeviceTTL)
	if ip != "" {
		pipe.Set(ctx, m.ipKey(userID, ip), now, m.cfg.KnownDeviceTTL)
		if country, _, ok := m.lookup(ip); ok && country != "" {
			pipe.Set(ctx, m.countryKey(userID), country, m.cfg.KnownDeviceTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMonitorBackend, err)
	}
	return nil
}

// ForgetDevice drops a fingerprint from the known set, forcing the next
// login from that device through verification again.
func (m *Monitor) ForgetDevice(ctx context.Context, userID, fingerprint string) error {
	if err := m.redis.Del(ctx, m.deviceKey(userID, fingerprint)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMonitorBackend, err)
	}
	return nil
}

func (m *Monitor) exists(ctx context.Context, key string) (bool, error) {
	n, err := m.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMonitorBackend, err)
	}
	return n > 0, nil
}

// lookup resolves country code and a human-readable location. The raw IP is
// used for the lookup only and never persisted by the monitor.
func (m *Monitor) lookup(ip string) (country, location string, ok bool) {
	if m.geo == nil {
		return "", "", false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", "", false
	}
	record, err := m.geo.City(parsed)
	if err != nil {
		return "", "", false
	}
	country = record.Country.IsoCode
	if city, found := record.City.Names["en"]; found && city != "" {
		location = city + ", " + country
	} else {
		location = country
	}
	return country, location, true
}
