package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offpay/internal/policy"
)

// Scenario is a payment flow plus the state expected after it runs.
type Scenario struct {
	Name         string      `yaml:"name"`
	Description  string      `yaml:"description"`
	Devices      []string    `yaml:"devices"`
	DeviceLimits *Limits     `yaml:"device_limits,omitempty"`
	ServerLimits *Limits     `yaml:"server_limits,omitempty"`
	SyncDeadline string      `yaml:"sync_deadline,omitempty"`
	Flow         []Step      `yaml:"flow"`
	Assertions   []Assertion `yaml:"assertions"`
}

// Limits mirrors policy.Limits in scenario files.
type Limits struct {
	PerTx     int64 `yaml:"per_tx"`
	Daily     int64 `yaml:"daily"`
	WalletMax int64 `yaml:"wallet_max"`
}

func (l *Limits) policy() policy.Limits {
	if l == nil {
		return policy.DefaultLimits()
	}
	return policy.Limits{PerTx: l.PerTx, Daily: l.Daily, WalletMax: l.WalletMax}
}

// Step actions.
const (
	ActionLoad    = "load"
	ActionPay     = "pay"
	ActionAccept  = "accept"
	ActionSync    = "sync"
	ActionReverse = "reverse"
	ActionAdvance = "advance"
	ActionPrune   = "prune"
)

// Step is one action in the flow.
//
//	load:    device, amount
//	pay:     from, to, amount, payment; payer_only skips the payee commit
//	accept:  device, payment (re-presents a receipt already seen)
//	sync:    device
//	reverse: device, payment
//	advance: duration
//	prune:   device
type Step struct {
	Action    string  `yaml:"action"`
	Device    string  `yaml:"device,omitempty"`
	From      string  `yaml:"from,omitempty"`
	To        string  `yaml:"to,omitempty"`
	Amount    int64   `yaml:"amount,omitempty"`
	Label     string  `yaml:"label,omitempty"`
	Payment   string  `yaml:"payment,omitempty"`
	PayerOnly bool    `yaml:"payer_only,omitempty"`
	Duration  string  `yaml:"duration,omitempty"`
	Expect    *Expect `yaml:"expect,omitempty"`
}

// Expect constrains a step's outcome. A step without Expect must succeed.
type Expect struct {
	// Error is the payment error kind, e.g. policy_violation.
	Error string `yaml:"error,omitempty"`
	// Reason is the policy reason, e.g. per_tx_limit.
	Reason string `yaml:"reason,omitempty"`

	Settled  *int `yaml:"settled,omitempty"`
	Rejected *int `yaml:"rejected,omitempty"`
	Expired  *int `yaml:"expired,omitempty"`
	Failed   *int `yaml:"failed,omitempty"`
}

// Assertion types.
const (
	AssertBalance = "balance"
	AssertState   = "state"
	AssertQueued  = "queued"
	AssertLedger  = "ledger"
)

// Assertion checks final state.
//
//	balance: device, value
//	state:   device, payment, state
//	queued:  device, value
//	ledger:  value (record count); optional payment and status
type Assertion struct {
	Type    string `yaml:"type"`
	Device  string `yaml:"device,omitempty"`
	Payment string `yaml:"payment,omitempty"`
	State   string `yaml:"state,omitempty"`
	Status  string `yaml:"status,omitempty"`
	Value   *int64 `yaml:"value,omitempty"`
}

// LoadScenario reads a scenario file. Unknown fields are an error.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}
	devices := make(map[string]bool, len(s.Devices))
	for _, d := range s.Devices {
		if devices[d] {
			return fmt.Errorf("device %q declared twice", d)
		}
		devices[d] = true
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	if s.SyncDeadline != "" {
		if _, err := time.ParseDuration(s.SyncDeadline); err != nil {
			return fmt.Errorf("sync_deadline: %w", err)
		}
	}
	for _, l := range []*Limits{s.DeviceLimits, s.ServerLimits} {
		if err := l.policy().Validate(); err != nil {
			return err
		}
	}

	named := make(map[string]bool)
	known := func(i int, d string) error {
		if !devices[d] {
			return fmt.Errorf("flow[%d]: unknown device %q", i, d)
		}
		return nil
	}
	for i, step := range s.Flow {
		switch step.Action {
		case ActionLoad:
			if err := known(i, step.Device); err != nil {
				return err
			}
		case ActionPay:
			if err := known(i, step.From); err != nil {
				return err
			}
			if err := known(i, step.To); err != nil {
				return err
			}
			if step.From == step.To {
				return fmt.Errorf("flow[%d]: payer and payee must differ", i)
			}
			if step.Payment != "" {
				if named[step.Payment] {
					return fmt.Errorf("flow[%d]: payment %q named twice", i, step.Payment)
				}
				named[step.Payment] = true
			}
		case ActionAccept, ActionReverse:
			if err := known(i, step.Device); err != nil {
				return err
			}
			if !named[step.Payment] {
				return fmt.Errorf("flow[%d]: unknown payment %q", i, step.Payment)
			}
		case ActionSync, ActionPrune:
			if err := known(i, step.Device); err != nil {
				return err
			}
		case ActionAdvance:
			if _, err := time.ParseDuration(step.Duration); err != nil {
				return fmt.Errorf("flow[%d]: duration: %w", i, err)
			}
		default:
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Action)
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertBalance, AssertQueued:
			if !devices[a.Device] || a.Value == nil {
				return fmt.Errorf("assertions[%d]: %s needs a known device and a value", i, a.Type)
			}
		case AssertState:
			if !devices[a.Device] || !named[a.Payment] || a.State == "" {
				return fmt.Errorf("assertions[%d]: state needs device, payment and state", i)
			}
		case AssertLedger:
			if a.Value == nil {
				return fmt.Errorf("assertions[%d]: ledger needs a value", i)
			}
			if a.Payment != "" && !named[a.Payment] {
				return fmt.Errorf("assertions[%d]: unknown payment %q", i, a.Payment)
			}
		default:
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}
