// config_validation.go - Startup configuration validation for Ephemeral Drop.
//
// Collects every problem in one pass so the operator sees all of them at
// once instead of fixing one failure per restart.
package server

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ConfigValidationError represents a configuration validation error.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ConfigValidator accumulates validation errors.
type ConfigValidator struct {
	errors []ConfigValidationError
}

// NewConfigValidator creates a new configuration validator.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		errors: make([]ConfigValidationError, 0),
	}
}

// AddError adds a validation error.
func (v *ConfigValidator) AddError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors.
func (v *ConfigValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *ConfigValidator) Errors() []ConfigValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *ConfigValidator) ErrorString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Configuration validation failed with %d error(s):\n", len(v.errors))
	for i, err := range v.errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidateAddr checks a host:port bind address. The host may be empty.
func (v *ConfigValidator) ValidateAddr(key, value string) {
	if value == "" {
		v.AddError(key, "bind address must not be empty")
		return
	}
	_, port, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(key, "must be host:port")
		return
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}
	if n < 0 || n > 65535 {
		v.AddError(key, "port must be between 0 and 65535")
	}
}

// ValidateURL validates that a value is an http(s) URL.
func (v *ConfigValidator) ValidateURL(key, value string) {
	if value == "" {
		return
	}

	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(key, "URL must use http or https scheme")
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *ConfigValidator) ValidateEnum(key, value string, allowed []string) {
	if value == "" {
		return
	}

	for _, opt := range allowed {
		if value == opt {
			return
		}
	}

	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidatePositiveInt parses value and reports whether it is a positive
// integer, recording an error otherwise.
func (v *ConfigValidator) ValidatePositiveInt(key, value string) (int64, bool) {
	num, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return 0, false
	}

	if num <= 0 {
		v.AddError(key, "must be a positive integer")
		return 0, false
	}
	return num, true
}

// Validate records every problem with c into v.
func (c Config) Validate(v *ConfigValidator) {
	v.ValidateAddr("addr", c.Addr)

	if strings.TrimSpace(c.SessionsDir) == "" {
		v.AddError("sessions_dir", "must not be empty")
	}
	if strings.TrimSpace(c.ScratchDir) == "" {
		v.AddError("scratch_dir", "must not be empty")
	}
	if c.MaxFileBytes <= 0 {
		v.AddError("max_file_bytes", "must be positive")
	}
	if c.MaxFiles <= 0 {
		v.AddError("max_files", "must be positive")
	}
	if c.SweepInterval <= 0 {
		v.AddError("sweep_interval", "must be positive")
	}
	if c.RetryBackoff <= 0 {
		v.AddError("retry_backoff", "must be positive")
	}
	if c.MirrorEnabled() && c.MirrorSweepInterval <= 0 {
		v.AddError("s3.sweep_interval", "must be positive")
	}

	// The mirror is all-or-nothing.
	set := 0
	for _, s := range []string{c.S3Endpoint, c.S3AccessKey, c.S3SecretKey, c.Bucket} {
		if s != "" {
			set++
		}
	}
	if set > 0 && set < 4 {
		v.AddError("SFD_S3_*", "endpoint, access key, secret key and bucket must be set together")
	}
	if strings.Contains(c.S3Endpoint, "://") {
		v.ValidateURL("SFD_S3_ENDPOINT", c.S3Endpoint)
	}
	if c.WebhookURL != "" {
		v.ValidateURL("SFD_WEBHOOK_URL", c.WebhookURL)
	} else if c.WebhookSecret != "" {
		v.AddError("SFD_WEBHOOK_SECRET", "set without SFD_WEBHOOK_URL")
	}

	if c.DatabaseURL != "" &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		v.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
	}
}

// WarnOnOptionalMissingConfig logs which optional integrations are off.
func WarnOnOptionalMissingConfig(c Config) {
	warnings := make([]string, 0)

	if !c.MirrorEnabled() {
		warnings = append(warnings, "SFD_S3_* not set - object storage mirror disabled")
	}
	if c.DatabaseURL == "" {
		warnings = append(warnings, "DATABASE_URL not set - audit log disabled")
	}
	if c.CookieDomain == "" {
		warnings = append(warnings, "cookie domain empty - owner cookies are host-only")
	}

	if len(warnings) > 0 {
		Info("configuration warnings", map[string]any{
			"count":    len(warnings),
			"warnings": warnings,
		})
	}
}
