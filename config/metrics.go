package config

// MetricsConfig controls StatsD emission of session metrics.
type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Address string `env:"ADDR"    envDefault:"127.0.0.1:8125"`
	Prefix  string `env:"PREFIX"  envDefault:"portal.admin"`
	// Tags are attached to every metric, e.g. STATSD_TAGS=env:prod,region:east.
	Tags map[string]string `env:"TAGS"`
}
