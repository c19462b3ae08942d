package anomaly

import (
	"time"

	"github.com/endorses/wirecat/internal/pkg/constants"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/spf13/viper"
)

// PortScanConfig sets the port scan thresholds.
type PortScanConfig struct {
	Window        time.Duration `mapstructure:"window"`
	Threshold     int           `mapstructure:"threshold"`      // distinct ports per source and window
	HighThreshold int           `mapstructure:"high_threshold"` // ports at which severity becomes high
	BloomCapacity uint          `mapstructure:"bloom_capacity"`
	BloomFPRate   float64       `mapstructure:"bloom_fp_rate"`
}

// SynFloodConfig sets the SYN flood threshold.
type SynFloodConfig struct {
	Window    time.Duration `mapstructure:"window"`
	Threshold int           `mapstructure:"threshold"` // bare SYNs per destination and window
}

// SIPFloodConfig sets the SIP request flood threshold.
type SIPFloodConfig struct {
	Window    time.Duration `mapstructure:"window"`
	Threshold int           `mapstructure:"threshold"` // INVITE/REGISTER per source and window
}

// RTPJitterConfig sets the RTP jitter threshold.
type RTPJitterConfig struct {
	Threshold  time.Duration `mapstructure:"threshold"`   // mean absolute deviation of interarrival
	MinPackets int           `mapstructure:"min_packets"` // per flow before it is judged
}

// SIPScannerConfig sets the SIP scanner threshold.
type SIPScannerConfig struct {
	OptionsTargets int `mapstructure:"options_targets"` // distinct OPTIONS targets per source
}

// DNSTunnelingConfig sets the DNS tunneling heuristics.
type DNSTunnelingConfig struct {
	// EntropyThreshold is the Shannon entropy above which a subdomain is
	// considered encoded data.
	EntropyThreshold float64 `mapstructure:"entropy_threshold"`

	// MinSubdomainLength is the shortest subdomain analyzed for entropy.
	MinSubdomainLength int `mapstructure:"min_subdomain_length"`

	// MaxUniqueSubdomains is the subdomain count that maxes the uniqueness factor.
	MaxUniqueSubdomains int `mapstructure:"max_unique_subdomains"`

	ScoreThreshold float64 `mapstructure:"score_threshold"`
	MaxDomains     int     `mapstructure:"max_domains"`
}

// LargeUploadConfig sets the exfiltration threshold.
type LargeUploadConfig struct {
	Threshold uint64 `mapstructure:"threshold"` // bytes from a private to a public address
}

// Config collects the detector settings.
type Config struct {
	PortScan     PortScanConfig     `mapstructure:"port_scan"`
	SynFlood     SynFloodConfig     `mapstructure:"syn_flood"`
	SIPFlood     SIPFloodConfig     `mapstructure:"sip_flood"`
	RTPJitter    RTPJitterConfig    `mapstructure:"rtp_jitter"`
	SIPScanner   SIPScannerConfig   `mapstructure:"sip_scanner"`
	DNSTunneling DNSTunnelingConfig `mapstructure:"dns_tunneling"`
	LargeUpload  LargeUploadConfig  `mapstructure:"large_upload"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		PortScan: PortScanConfig{
			Window:        time.Minute,
			Threshold:     25,
			HighThreshold: 100,
			BloomCapacity: 1_000_000,
			BloomFPRate:   0.001,
		},
		SynFlood: SynFloodConfig{
			Window:    time.Second,
			Threshold: 100,
		},
		SIPFlood: SIPFloodConfig{
			Window:    time.Second,
			Threshold: 50,
		},
		RTPJitter: RTPJitterConfig{
			Threshold:  30 * time.Millisecond,
			MinPackets: 20,
		},
		SIPScanner: SIPScannerConfig{
			OptionsTargets: 20,
		},
		DNSTunneling: DNSTunnelingConfig{
			EntropyThreshold:    3.5,
			MinSubdomainLength:  20,
			MaxUniqueSubdomains: 100,
			ScoreThreshold:      0.7,
			MaxDomains:          constants.DefaultDomainCacheSize,
		},
		LargeUpload: LargeUploadConfig{
			Threshold: 50 << 20,
		},
	}
}

// ConfigFromViper reads anomaly.* keys over the defaults. The DNS domain
// cache size also honors cache.dns_domains.
func ConfigFromViper() Config {
	cfg := DefaultConfig()
	if viper.IsSet("anomaly") {
		if err := viper.UnmarshalKey("anomaly", &cfg); err != nil {
			logger.Warn("Invalid anomaly configuration, using defaults", "error", err)
			cfg = DefaultConfig()
		}
	}
	if v := viper.GetInt("cache.dns_domains"); v > 0 {
		cfg.DNSTunneling.MaxDomains = v
	}
	return cfg
}
