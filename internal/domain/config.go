package domain

import "fmt"

// Config holds the process-wide parameters of the scheduler core. It is
// created at genesis and changed only through SettingsPatch by the owner.
type Config struct {
	Paused                  bool     `json:"paused"`
	OwnerID                 string   `json:"owner_id"`
	TreasuryID              string   `json:"treasury_id,omitempty"`
	MinTasksPerAgent        uint64   `json:"min_tasks_per_agent"`
	AgentActiveIndex        uint64   `json:"agent_active_index"`
	AgentsEjectThreshold    uint64   `json:"agents_eject_threshold"`
	AgentNominationDuration uint64   `json:"agent_nomination_duration"` // seconds
	NativeDenom             string   `json:"native_denom"`
	AgentFee                Coin     `json:"agent_fee"`
	GasPrice                uint32   `json:"gas_price"`
	ProxyCallbackGas        uint32   `json:"proxy_callback_gas"`
	SlotGranularity         uint64   `json:"slot_granularity"`
	TokenWhitelist          []string `json:"token_whitelist,omitempty"`
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	c.TokenWhitelist = append([]string(nil), c.TokenWhitelist...)
	return c
}

// Validate rejects parameters the admission controller cannot work with.
func (c Config) Validate() error {
	if c.OwnerID == "" {
		return NewDomainError("Config.Validate", ErrInvalidConfiguration, "owner_id is required")
	}
	if c.MinTasksPerAgent == 0 {
		return NewDomainError("Config.Validate", ErrInvalidConfiguration, "min_tasks_per_agent must be > 0")
	}
	if c.AgentNominationDuration == 0 {
		return NewDomainError("Config.Validate", ErrInvalidConfiguration, "agent_nomination_duration must be > 0")
	}
	if c.NativeDenom == "" {
		return NewDomainError("Config.Validate", ErrInvalidConfiguration, "native_denom is required")
	}
	return nil
}

// IsMover reports whether account may move registry funds.
func (c Config) IsMover(account string) bool {
	return account == c.OwnerID || (c.TreasuryID != "" && account == c.TreasuryID)
}

// SettingsPatch contains optional fields for updating the config. A nil field
// leaves the current value untouched.
type SettingsPatch struct {
	OwnerID                 *string `json:"owner_id,omitempty"`
	TreasuryID              *string `json:"treasury_id,omitempty"`
	SlotGranularity         *uint64 `json:"slot_granularity,omitempty"`
	Paused                  *bool   `json:"paused,omitempty"`
	AgentFee                *Coin   `json:"agent_fee,omitempty"`
	GasPrice                *uint32 `json:"gas_price,omitempty"`
	ProxyCallbackGas        *uint32 `json:"proxy_callback_gas,omitempty"`
	MinTasksPerAgent        *uint64 `json:"min_tasks_per_agent,omitempty"`
	AgentsEjectThreshold    *uint64 `json:"agents_eject_threshold,omitempty"`
	AgentNominationDuration *uint64 `json:"agent_nomination_duration,omitempty"`
}

// Apply merges the patch onto c field by field and validates the result.
// c itself is never modified.
func (p SettingsPatch) Apply(c Config) (Config, error) {
	next := c.Clone()
	if p.OwnerID != nil {
		next.OwnerID = *p.OwnerID
	}
	if p.TreasuryID != nil {
		next.TreasuryID = *p.TreasuryID
	}
	if p.SlotGranularity != nil {
		next.SlotGranularity = *p.SlotGranularity
	}
	if p.Paused != nil {
		next.Paused = *p.Paused
	}
	if p.AgentFee != nil {
		next.AgentFee = *p.AgentFee
	}
	if p.GasPrice != nil {
		next.GasPrice = *p.GasPrice
	}
	if p.ProxyCallbackGas != nil {
		next.ProxyCallbackGas = *p.ProxyCallbackGas
	}
	if p.MinTasksPerAgent != nil {
		next.MinTasksPerAgent = *p.MinTasksPerAgent
	}
	if p.AgentsEjectThreshold != nil {
		next.AgentsEjectThreshold = *p.AgentsEjectThreshold
	}
	if p.AgentNominationDuration != nil {
		next.AgentNominationDuration = *p.AgentNominationDuration
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

// Attributes renders the config as response attributes.
func (c Config) Attributes() []Attribute {
	return []Attribute{
		{"paused", fmt.Sprint(c.Paused)},
		{"owner_id", c.OwnerID},
		{"treasury_id", c.TreasuryID},
		{"min_tasks_per_agent", fmt.Sprint(c.MinTasksPerAgent)},
		{"agent_active_index", fmt.Sprint(c.AgentActiveIndex)},
		{"agents_eject_threshold", fmt.Sprint(c.AgentsEjectThreshold)},
		{"agent_nomination_duration", fmt.Sprint(c.AgentNominationDuration)},
		{"native_denom", c.NativeDenom},
		{"agent_fee", c.AgentFee.String()},
		{"gas_price", fmt.Sprint(c.GasPrice)},
		{"proxy_callback_gas", fmt.Sprint(c.ProxyCallbackGas)},
		{"slot_granularity", fmt.Sprint(c.SlotGranularity)},
	}
}
