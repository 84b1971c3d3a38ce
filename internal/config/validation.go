package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first, then cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Token.Secret == "" && cfg.Token.SecretParam == "" {
		return fmt.Errorf("token: either secret or secret_param must be set")
	}
	if cfg.Token.SecretSource == "kms" && cfg.Token.Secret == "" && cfg.Token.KMSKeyID == "" {
		return fmt.Errorf("token: kms_key_id is required when secret_source is kms")
	}
	if cfg.Locks.Type == "dynamodb" && cfg.Locks.Table == "" {
		return fmt.Errorf("locks: table is required for the dynamodb backend")
	}
	if cfg.Database.Driver != "memory" && cfg.Database.DSN == "" {
		return fmt.Errorf("database: dsn is required for driver %q", cfg.Database.Driver)
	}
	return nil
}

func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
