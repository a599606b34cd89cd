// Package config holds the policy knobs an HttpEngine and OneShot are
// configured with: buffer sizing, keep-alive advertisement, user-agent and
// accept-encoding, redirect/delivery policy, and the debug trace toggle.
//
// Grounded on the teacher's own config.Config: a flat settings struct with a
// well-balanced Default(), modified by the caller before use rather than
// constructed by hand.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds settings for an HttpEngine or OneShot download. Always start
// from Default() and override individual fields; a zero-value Config is not
// meaningful (it disables redirect following and sends no User-Agent).
type Config struct {
	// InBufferSize is the minimum capacity of the engine's InBuffer. Values
	// below 512 are clamped up by the engine, and the engine never shrinks
	// its buffer below its current (by default 4096-byte) capacity.
	InBufferSize int `yaml:"inBufferSize"`
	// KeepAliveSecs, if nonzero, advertises Connection: Keep-Alive with that
	// timeout on every outgoing request. 0 advertises Connection: close.
	KeepAliveSecs uint32 `yaml:"keepAliveSecs"`
	// UserAgent is sent as the User-Agent header when non-empty.
	UserAgent string `yaml:"userAgent"`
	// AcceptEncoding is sent as the Accept-Encoding header when non-empty.
	// The engine never decodes a compressed body regardless of this value.
	AcceptEncoding string `yaml:"acceptEncoding"`
	// FollowRedirects enables automatic 301/302/303/307/308 handling.
	FollowRedirects bool `yaml:"followRedirects"`
	// AlwaysHandle delivers OnRecv/OnRequestDone for non-success responses
	// and suppressed redirect legs, instead of silently dropping them.
	AlwaysHandle bool `yaml:"alwaysHandle"`
	// NonBlocking toggles non-blocking I/O on the underlying Transport.
	NonBlocking bool `yaml:"nonBlocking"`
	// Debug gates verbose trace logging of header parsing, chunk framing,
	// and redirect-follow decisions.
	Debug bool `yaml:"debug"`
}

// Default returns a well-balanced Config: 4KiB InBuffer, no keep-alive,
// User-Agent "minihttp", redirects followed, non-success bodies not
// delivered, blocking I/O, tracing off.
func Default() *Config {
	return &Config{
		InBufferSize:    4096,
		KeepAliveSecs:   0,
		UserAgent:       "minihttp",
		AcceptEncoding:  "",
		FollowRedirects: true,
		AlwaysHandle:    false,
		NonBlocking:     false,
		Debug:           false,
	}
}

// LoadYAML reads a YAML document at path and overrides Default()'s fields
// with whatever keys it sets, leaving the rest at their defaults.
func LoadYAML(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
