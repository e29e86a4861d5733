package config

import (
	"fmt"
	"path"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Exports) == 0 {
		return fmt.Errorf("exports: at least one export must be configured")
	}

	// Paths are compared in clean form so "/data/" and "/data" collide
	paths := make(map[string]bool)
	for i, export := range cfg.Exports {
		p := path.Clean(export.Path)
		if paths[p] {
			return fmt.Errorf("exports[%d]: duplicate export path %q", i, export.Path)
		}
		paths[p] = true
	}

	if cfg.Backend.Type == "s3" {
		if bucket, _ := cfg.Backend.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("backend.s3: bucket is required")
		}
	}

	srv := cfg.Server
	if srv.Portmap.Enabled {
		if srv.Portmap.Port == srv.NFSPort && srv.NFSPort != 0 {
			return fmt.Errorf("server: portmap port %d collides with nfs_port", srv.Portmap.Port)
		}
		if srv.Portmap.Port == srv.MountPort && srv.MountPort != 0 {
			return fmt.Errorf("server: portmap port %d collides with mount_port", srv.Portmap.Port)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 &&
		(cfg.Metrics.Port == srv.NFSPort || cfg.Metrics.Port == srv.MountPort) {
		return fmt.Errorf("metrics: port %d collides with an RPC listener", cfg.Metrics.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
