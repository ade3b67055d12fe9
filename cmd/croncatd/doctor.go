package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"croncat/internal/infra/config"
	"croncat/internal/usecase/scheduling"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "State store", Fn: checkStore},
		{Name: "Gateway auth", Fn: checkGatewayAuth},
		{Name: "Gateway address", Fn: checkGatewayAddr},
		{Name: "Genesis funding", Fn: checkGenesisFunding},
		{Name: "Schedules", Fn: checkSchedules},
	}

	fmt.Println("croncatd doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
	}

	pass, warn, fail := summarize(results)
	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func summarize(results []CheckResult) (pass, warn, fail int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile returns a check that verifies the config file exists and parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file not found at %s", cfgPath),
				Fix:     "Create croncat.yaml or pass --config",
			}
		}
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file error: %v", cfgErr),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkStore verifies the SQLite data directory exists and is writable.
func checkStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Store.Driver == "memory" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "store driver is memory; registry state is lost on restart",
		}
	}

	absDir, _ := filepath.Abs(filepath.Dir(cfg.Store.Path))
	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absDir, 0700); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("data directory %s does not exist and cannot be created: %v", absDir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("data directory created at %s", absDir),
		}
	}
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot stat data directory: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s exists but is not a directory", absDir)}
	}

	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("data directory %s writable", absDir),
	}
}

// checkGatewayAuth warns when the gateway is reachable by nobody or
// its tokens are stored in plain text.
func checkGatewayAuth(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "gateway disabled"}
	}
	tokens := cfg.Gateway.Auth.Tokens
	if len(tokens) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "gateway enabled without tokens; every connection will be rejected",
			Fix:     "Add gateway.auth.tokens entries",
		}
	}
	owner := false
	for _, t := range tokens {
		if t.Account == cfg.Genesis.Owner {
			owner = true
		}
	}
	if !owner {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d token(s), none bound to owner %q", len(tokens), cfg.Genesis.Owner),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d token(s) configured", len(tokens))}
}

// checkGatewayAddr verifies the gateway listen address is free.
func checkGatewayAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "gateway disabled"}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the process holding the port or change gateway.addr",
		}
	}
	ln.Close()

	host, _, _ := net.SplitHostPort(cfg.Gateway.Addr)
	if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s is reachable from other hosts", cfg.Gateway.Addr),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s available", cfg.Gateway.Addr)}
}

// checkGenesisFunding verifies the host account seeded for the registry
// covers the genesis ledger, so the first reconcile run finds no drift.
func checkGenesisFunding(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	need := make(map[string]uint64)
	for _, funds := range []config.FundsConfig{cfg.Genesis.Available, cfg.Genesis.Staked} {
		for _, c := range funds.Native {
			need[c.Denom] += c.Amount
		}
	}
	if len(need) == 0 {
		return CheckResult{Status: StatusPass, Message: "genesis ledger is empty"}
	}

	have := make(map[string]uint64)
	for _, acct := range cfg.Host.Accounts {
		if acct.Address != cfg.Host.ContractAddress {
			continue
		}
		for _, c := range acct.Native {
			have[c.Denom] += c.Amount
		}
	}

	var short []string
	for denom, amount := range need {
		if have[denom] < amount {
			short = append(short, fmt.Sprintf("%s %d < %d", denom, have[denom], amount))
		}
	}
	if len(short) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "host balance below genesis ledger: " + strings.Join(short, ", "),
			Fix:     fmt.Sprintf("Fund %s under host.accounts", cfg.Host.ContractAddress),
		}
	}
	return CheckResult{Status: StatusPass, Message: "host balance covers genesis ledger"}
}

// checkSchedules verifies every configured schedule parses.
func checkSchedules(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	var bad []string
	if cfg.Reconcile.Enabled {
		if err := scheduling.ValidateSchedule(cfg.Reconcile.Schedule); err != nil {
			bad = append(bad, "reconcile: "+err.Error())
		}
	}
	if cfg.Scheduler.Enabled {
		for _, j := range cfg.Scheduler.Jobs {
			if err := scheduling.ValidateSchedule(j.Schedule); err != nil {
				bad = append(bad, j.Name+": "+err.Error())
			}
		}
	}
	if len(bad) > 0 {
		return CheckResult{Status: StatusFail, Message: strings.Join(bad, "; ")}
	}
	return CheckResult{Status: StatusPass, Message: "all schedules valid"}
}
