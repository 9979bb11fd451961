package crawler

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob that influences a crawl. All values originate
// from Viper so the engine can be configured via files, env vars, or CLI
// flags.
type Config struct {
	UserAgent         string
	RespectRobots     bool
	MaxDepth          int
	MaxURLsPerDomain  int
	RequestTimeout    time.Duration
	BatchSize         int
	GlobalConcurrency int
	SiteConcurrency   int
	Polite            bool
	PolitenessMin     time.Duration
	PolitenessMax     time.Duration
	BlockedDomains    []string
	NoisePatterns     []string
	InvalidLocalParts []string
	SkipExtensions    []string
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		UserAgent:         v.GetString("crawler.user_agent"),
		RespectRobots:     v.GetBool("crawler.respect_robots"),
		MaxDepth:          v.GetInt("crawler.max_depth"),
		MaxURLsPerDomain:  v.GetInt("crawler.max_urls_per_domain"),
		RequestTimeout:    v.GetDuration("crawler.request_timeout"),
		BatchSize:         v.GetInt("crawler.batch_size"),
		GlobalConcurrency: v.GetInt("crawler.global_concurrency"),
		SiteConcurrency:   v.GetInt("crawler.site_concurrency"),
		Polite:            v.GetBool("crawler.polite"),
		PolitenessMin:     v.GetDuration("crawler.politeness_min"),
		PolitenessMax:     v.GetDuration("crawler.politeness_max"),
		BlockedDomains:    v.GetStringSlice("crawler.blocked_domains"),
		NoisePatterns:     v.GetStringSlice("crawler.noise_patterns"),
		InvalidLocalParts: v.GetStringSlice("crawler.invalid_local_parts"),
		SkipExtensions:    v.GetStringSlice("crawler.skip_extensions"),
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.MaxURLsPerDomain <= 0 {
		return fmt.Errorf("crawler.max_urls_per_domain must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.GlobalConcurrency <= 0 {
		return fmt.Errorf("crawler.global_concurrency must be > 0")
	}
	if c.SiteConcurrency <= 0 {
		return fmt.Errorf("crawler.site_concurrency must be > 0")
	}
	if c.PolitenessMin < 0 || c.PolitenessMax < c.PolitenessMin {
		return fmt.Errorf("crawler politeness delay bounds are inverted")
	}
	return nil
}
