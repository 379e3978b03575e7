package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Application configuration
	DataDir           string `long:"data-dir" env:"DATA_DIR" default:"./data" description:"Directory for the SQLite database"`
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string `long:"base-url" env:"BASE_URL" description:"Public base URL used to build the WebSub callback (e.g., https://sportscan.example.com)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for task processing"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// WebSub configuration
	LeaseSeconds       int    `long:"lease-seconds" env:"LEASE_SECONDS" default:"86400" description:"Requested WebSub lease duration in seconds"`
	RenewalWindowHours int    `long:"renewal-window" env:"RENEWAL_WINDOW_HOURS" default:"24" description:"Renew subscriptions expiring within this many hours"`
	VerificationTTL    int    `long:"verification-ttl" env:"VERIFICATION_TTL" default:"10" description:"Minutes a pending subscription waits for hub verification"`
	SignatureAlgorithm string `long:"signature-algorithm" env:"SIGNATURE_ALGORITHM" default:"sha256" choice:"sha1" choice:"sha256" description:"HMAC algorithm expected on hub notifications"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Sportscan/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DataDir:            raw.DataDir,
		FeedsDir:           raw.FeedsDir,
		Port:               raw.Port,
		BaseUrl:            raw.BaseUrl,
		WorkerCount:        raw.WorkerCount,
		SchedulerInterval:  raw.SchedulerInterval,
		APIAccessKey:       raw.APIAccessKey,
		LeaseSeconds:       raw.LeaseSeconds,
		RenewalWindowHours: raw.RenewalWindowHours,
		VerificationTTL:    raw.VerificationTTL,
		SignatureAlgorithm: raw.SignatureAlgorithm,
		UserAgent:          raw.UserAgent,
		Timezone:           raw.Timezone,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration. Intended for tests.
func Set(cfg *Cfg) {
	globalCfg = cfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
