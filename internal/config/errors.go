package config

import "errors"

// Returned by Config.Validate so callers can test with errors.Is.
var (
	ErrNoTiers             = errors.New("invalid llm.tiers: at least one tier with a model is required")
	ErrUnknownProvider     = errors.New("invalid llm.provider")
	ErrInvalidAnalysisTier = errors.New("invalid llm.analysis_tier: must name a configured tier")
	ErrInvalidLength       = errors.New("invalid pipeline length limit: must be positive")
	ErrInvalidRetries      = errors.New("invalid retry count: must be non-negative")
	ErrInvalidTimeout      = errors.New("invalid timeout: must be positive")
	ErrInvalidTTL          = errors.New("invalid cache.ttl: must be positive when the cache is enabled")
	ErrInvalidLogLevel     = errors.New("invalid log.level")
	ErrNoAddr              = errors.New("invalid server.addr: must not be empty")
)
