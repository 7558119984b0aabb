package config

import (
	"fmt"

	"velo/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}
	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}
	if err := validateVelocity(&cfg.Velocity); err != nil {
		errs = append(errs, err)
	}
	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}
	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "postgres host is required",
		}
	}
	if cfg.MongoDB.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "mongodb uri is required",
		}
	}
	if cfg.RunMigrations && cfg.MigrationsDir == "" {
		return &ValidationError{
			Field:   "database.migrations_dir",
			Message: "migrations_dir is required when run_migrations is set",
		}
	}
	return nil
}

func validateVelocity(cfg *VelocityConfig) error {
	if cfg.Workers == 0 {
		cfg.Workers = constants.DefaultCalcWorkers
	}
	if cfg.Workers < 0 || cfg.Workers > constants.MaxCalcWorkers {
		return &ValidationError{
			Field:   "velocity.workers",
			Message: fmt.Sprintf("workers must be between 1 and %d", constants.MaxCalcWorkers),
		}
	}
	if cfg.DefaultPageSize == 0 {
		cfg.DefaultPageSize = constants.DefaultPageSize
	}
	if cfg.DefaultPageSize < 0 || cfg.DefaultPageSize > constants.MaxPageSize {
		return &ValidationError{
			Field:   "velocity.default_page_size",
			Message: fmt.Sprintf("default_page_size must be between 1 and %d", constants.MaxPageSize),
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return nil // broker is optional, config events are best-effort
	}
	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type %q", cfg.Type),
		}
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one kafka broker is required",
		}
	}
	return nil
}
