package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateStore(cfg, ve)
	validateGateway(cfg, ve)
	validateGenesis(cfg, ve)
	validateHost(cfg, ve)
	validateScheduler(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLogLevels[cfg.Logger.Level] {
		ve.Add("logger.level %q is invalid (valid: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (valid: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (valid: stdout, noop)", cfg.Tracer.Exporter)
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			ve.Add("store.path is required for the sqlite driver")
		}
	default:
		ve.Add("store.driver %q is invalid (valid: sqlite, memory)", cfg.Store.Driver)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}

	seenTokens := make(map[string]bool)
	for i, tok := range cfg.Gateway.Auth.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.auth.tokens[%d].token is required", i)
		} else if seenTokens[tok.Token] {
			ve.Add("gateway.auth.tokens[%d]: duplicate token", i)
		}
		seenTokens[tok.Token] = true
		if tok.Account == "" {
			ve.Add("gateway.auth.tokens[%d].account is required", i)
		}
	}

	if cfg.Gateway.RateLimit.RequestsPerSecond < 0 {
		ve.Add("gateway.rate_limit.requests_per_second must be >= 0")
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond > 0 && cfg.Gateway.RateLimit.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	if cfg.Gateway.HistorySize < 0 {
		ve.Add("gateway.history_size must be >= 0")
	}
}

func validateGenesis(cfg *Config, ve *ValidationError) {
	g := cfg.Genesis
	if g.NativeDenom == "" {
		ve.Add("genesis.native_denom is required")
	}
	if g.MinTasksPerAgent == 0 {
		ve.Add("genesis.min_tasks_per_agent must be > 0")
	}
	if g.AgentNominationDuration == 0 {
		ve.Add("genesis.agent_nomination_duration must be > 0")
	}
	validateFunds("genesis.available", g.Available, ve)
	validateFunds("genesis.staked", g.Staked, ve)
	for i, tok := range g.TokenWhitelist {
		if tok == "" {
			ve.Add("genesis.token_whitelist[%d] must not be empty", i)
		}
	}
}

func validateFunds(path string, f FundsConfig, ve *ValidationError) {
	denoms := make(map[string]bool)
	for i, c := range f.Native {
		if c.Denom == "" {
			ve.Add("%s.native[%d].denom is required", path, i)
		} else if denoms[c.Denom] {
			ve.Add("%s.native[%d]: duplicate denom %q", path, i, c.Denom)
		}
		denoms[c.Denom] = true
	}
	tokens := make(map[string]bool)
	for i, t := range f.Tokens {
		if t.Address == "" {
			ve.Add("%s.tokens[%d].address is required", path, i)
		} else if tokens[t.Address] {
			ve.Add("%s.tokens[%d]: duplicate token %q", path, i, t.Address)
		}
		tokens[t.Address] = true
	}
}

func validateHost(cfg *Config, ve *ValidationError) {
	if cfg.Host.ContractAddress == "" {
		ve.Add("host.contract_address is required")
	}
	for i, acct := range cfg.Host.Accounts {
		if acct.Address == "" {
			ve.Add("host.accounts[%d].address is required", i)
		}
		validateFunds(fmt.Sprintf("host.accounts[%d]", i), acct.FundsConfig, ve)
	}
	if cfg.Host.Breaker.Timeout < 0 || cfg.Host.Breaker.Interval < 0 {
		ve.Add("host.breaker durations must be >= 0")
	}
}

var validJobActions = map[string]bool{"ledger_reconcile": true, "status_report": true}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if cfg.Reconcile.Enabled && cfg.Reconcile.Schedule == "" {
		ve.Add("reconcile.schedule is required when reconcile is enabled")
	}
	if !cfg.Scheduler.Enabled {
		return
	}
	names := make(map[string]bool)
	for i, j := range cfg.Scheduler.Jobs {
		if j.Name == "" {
			ve.Add("scheduler.jobs[%d].name is required", i)
		} else if names[j.Name] {
			ve.Add("scheduler.jobs[%d]: duplicate name %q", i, j.Name)
		}
		names[j.Name] = true
		if j.Schedule == "" {
			ve.Add("scheduler.jobs[%d].schedule is required", i)
		}
		if !validJobActions[j.Action] {
			ve.Add("scheduler.jobs[%d].action %q is invalid (valid: ledger_reconcile, status_report)", i, j.Action)
		}
	}
}
