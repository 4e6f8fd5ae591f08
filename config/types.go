// Package config resolves client and facade settings from three layers, later layers
// winning: built-in defaults, an optional YAML file and the environment. The
// environment variables are the ones an interpreter launcher exports for scripts
// (AP_HOST, AP_PORT, AP_HANDSHAKE) plus SL4A_* for the rest.
package config

import (
	"net"
	"strconv"
	"time"

	"sl4a-rpc/codec"

	"github.com/nuclio/errors"
)

type RateLimit struct {
	Rate  float64 `json:"rate,omitempty" mapstructure:"rate"`
	Burst int     `json:"burst,omitempty" mapstructure:"burst"`
}

// Enabled reports whether calls should be rate limited at all
func (r *RateLimit) Enabled() bool {
	return r.Rate > 0
}

type Registry struct {
	Endpoints []string `json:"endpoints,omitempty" mapstructure:"endpoints"`
	Service   string   `json:"service,omitempty" mapstructure:"service"`
	Balancer  string   `json:"balancer,omitempty" mapstructure:"balancer"`

	// Affinity key of the consistent hash balancer
	Key string `json:"key,omitempty" mapstructure:"key"`
}

// Enabled reports whether endpoints are discovered through etcd instead of host/port
func (r *Registry) Enabled() bool {
	return len(r.Endpoints) > 0
}

type Config struct {
	Host        string        `json:"host,omitempty" mapstructure:"host"`
	Port        int           `json:"port,omitempty" mapstructure:"port"`
	Handshake   string        `json:"handshake,omitempty" mapstructure:"handshake"`
	Codec       string        `json:"codec,omitempty" mapstructure:"codec"`
	DialTimeout time.Duration `json:"dialTimeout,omitempty" mapstructure:"dialTimeout"`
	CallTimeout time.Duration `json:"callTimeout,omitempty" mapstructure:"callTimeout"`
	LogLevel    string        `json:"logLevel,omitempty" mapstructure:"logLevel"`
	RateLimit   RateLimit     `json:"rateLimit,omitempty" mapstructure:"rateLimit"`
	Registry    Registry      `json:"registry,omitempty" mapstructure:"registry"`
}

// Address joins host and port
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CodecType resolves the configured codec name
func (c *Config) CodecType() (codec.CodecType, error) {
	return codec.ParseCodecType(c.Codec)
}

// Validate rejects settings no component can work with
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("Port %d is out of range", c.Port)
	}

	if c.DialTimeout < 0 || c.CallTimeout < 0 {
		return errors.New("Timeouts must not be negative")
	}

	if c.RateLimit.Enabled() && c.RateLimit.Burst <= 0 {
		return errors.New("Rate limit burst must be positive when a rate is set")
	}

	if _, err := c.CodecType(); err != nil {
		return errors.Wrap(err, "Invalid codec")
	}

	if c.Registry.Enabled() && c.Registry.Service == "" {
		return errors.New("Registry service name is required when registry endpoints are set")
	}

	return nil
}
