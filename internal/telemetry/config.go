// Package telemetry wires OpenTelemetry tracing for plans, runs, waves and
// nodes. Tracing is off by default; spans go to a noop provider until
// InitProvider enables it.
package telemetry

// Config holds configuration for the tracer
type Config struct {
	// ServiceName is the name of the service
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`

	// ServiceVersion is the version of the service
	ServiceVersion string `mapstructure:"service_version" json:"service_version" yaml:"service_version"`

	// Environment is the deployment environment (dev, staging, production)
	Environment string `mapstructure:"environment" json:"environment" yaml:"environment"`

	// Enabled determines whether tracing is enabled
	// When false, a noop tracer is used
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP HTTP collector host:port (optional)
	// If empty, spans are recorded but not exported
	Endpoint string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" json:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces to sample (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" json:"sample_rate" yaml:"sample_rate"`
}

// DefaultConfig returns the CLI default: tracing disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "loom",
		ServiceVersion: "dev",
		Environment:    "development",
		Enabled:        false,
		Endpoint:       "",
		SampleRate:     1.0,
	}
}
