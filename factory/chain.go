/*
Package factory provides JSON to Go tenant-rule conversion.

PURPOSE:
  Converts JSON tenant rule definitions into sales.TenantConfig and approval
  chains. This enables business-rule configuration without code changes -
  operations teams define lock durations, discount ceilings, tax rates, and
  approval bands in JSON, and the factory serves them to the engine.

JSON SCHEMA:
  {
    "tenants": [
      {
        "tenant_id": "acme-homes",
        "default_lock_minutes": 30,
        "max_discount_percent": "5",
        "materiality_amount": "100000",
        "materiality_percent": "5",
        "tax_rates": {
          "proj-skyline": {"gst": "5", "stamp_duty": "6", "registration": "1"}
        },
        "approval_chains": {
          "discount": [
            {"role": "sales_manager", "min_amount": "0"},
            {"role": "finance_head", "min_amount": "500000"},
            {"role": "director", "min_amount": "2000000"}
          ]
        }
      }
    ]
  }

CHAIN ASSEMBLY:
  A chain for amount X contains every configured level whose min_amount is
  <= X (and, when max_amount is set, only applies below it). Levels keep
  their configured order, so larger amounts climb through more sign-offs.

USAGE:
  f := factory.New()
  if err := f.LoadFile("tenants.json"); err != nil { ... }
  // f satisfies sales.ConfigProvider and sales.ChainBuilder

SEE ALSO:
  - sales/types.go: TenantConfig definition
  - sales/approval.go: ChainLevel and ChainBuilder
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type RulesJSON struct {
	Tenants []TenantJSON `json:"tenants"`
}

type TenantJSON struct {
	TenantID           string                     `json:"tenant_id"`
	DefaultLockMinutes int                        `json:"default_lock_minutes,omitempty"`
	MaxDiscountPercent string                     `json:"max_discount_percent,omitempty"`
	MaterialityAmount  string                     `json:"materiality_amount,omitempty"`
	MaterialityPercent string                     `json:"materiality_percent,omitempty"`
	TaxRates           map[string]TaxJSON         `json:"tax_rates,omitempty"`
	ApprovalChains     map[string][]ChainStepJSON `json:"approval_chains,omitempty"`
}

type TaxJSON struct {
	GST          string `json:"gst,omitempty"`
	StampDuty    string `json:"stamp_duty,omitempty"`
	Registration string `json:"registration,omitempty"`
	Other        string `json:"other,omitempty"`
}

type ChainStepJSON struct {
	Role       string `json:"role"`
	MinAmount  string `json:"min_amount,omitempty"`
	MaxAmount  string `json:"max_amount,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Factory serves tenant configuration and builds approval chains. It
// implements sales.ConfigProvider and sales.ChainBuilder.
type Factory struct {
	mu      sync.RWMutex
	configs map[sales.TenantID]*sales.TenantConfig
	chains  map[sales.TenantID]map[sales.ApprovalType][]sales.ChainLevel
}

func New() *Factory {
	return &Factory{
		configs: make(map[sales.TenantID]*sales.TenantConfig),
		chains:  make(map[sales.TenantID]map[sales.ApprovalType][]sales.ChainLevel),
	}
}

// LoadFile reads and applies a JSON rules file.
func (f *Factory) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading rules file: %w", err)
	}
	return f.Load(data)
}

// Load parses JSON rules and replaces the configuration for every tenant
// the document names.
func (f *Factory) Load(data []byte) error {
	var rules RulesJSON
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parsing rules: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tj := range rules.Tenants {
		if tj.TenantID == "" {
			return fmt.Errorf("tenant entry missing tenant_id")
		}
		cfg, chains, err := buildTenant(tj)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tj.TenantID, err)
		}
		f.configs[cfg.TenantID] = cfg
		f.chains[cfg.TenantID] = chains
	}
	return nil
}

// Register installs a tenant configuration built in code. Chains default to
// a single-level sign-off per approval type unless SetChain is called.
func (f *Factory) Register(cfg *sales.TenantConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[cfg.TenantID] = cfg
}

// SetChain installs the chain level definitions for one approval type.
func (f *Factory) SetChain(tenant sales.TenantID, typ sales.ApprovalType, levels []sales.ChainLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chains[tenant] == nil {
		f.chains[tenant] = make(map[sales.ApprovalType][]sales.ChainLevel)
	}
	f.chains[tenant][typ] = levels
}

func buildTenant(tj TenantJSON) (*sales.TenantConfig, map[sales.ApprovalType][]sales.ChainLevel, error) {
	cfg := &sales.TenantConfig{
		TenantID:           sales.TenantID(tj.TenantID),
		DefaultLockMinutes: tj.DefaultLockMinutes,
		TaxRates:           make(map[sales.ProjectID]sales.TaxRates),
	}
	if cfg.DefaultLockMinutes <= 0 {
		cfg.DefaultLockMinutes = 30
	}

	var err error
	if cfg.MaxDiscountPercent, err = parseDecimal(tj.MaxDiscountPercent); err != nil {
		return nil, nil, fmt.Errorf("max_discount_percent: %w", err)
	}
	if cfg.MaterialityAmount, err = parseDecimal(tj.MaterialityAmount); err != nil {
		return nil, nil, fmt.Errorf("materiality_amount: %w", err)
	}
	if cfg.MaterialityPercent, err = parseDecimal(tj.MaterialityPercent); err != nil {
		return nil, nil, fmt.Errorf("materiality_percent: %w", err)
	}

	for project, tx := range tj.TaxRates {
		rates := sales.TaxRates{}
		if rates.GSTPercent, err = parseDecimal(tx.GST); err != nil {
			return nil, nil, fmt.Errorf("tax_rates[%s].gst: %w", project, err)
		}
		if rates.StampDutyPercent, err = parseDecimal(tx.StampDuty); err != nil {
			return nil, nil, fmt.Errorf("tax_rates[%s].stamp_duty: %w", project, err)
		}
		if rates.RegistrationPercent, err = parseDecimal(tx.Registration); err != nil {
			return nil, nil, fmt.Errorf("tax_rates[%s].registration: %w", project, err)
		}
		if rates.OtherPercent, err = parseDecimal(tx.Other); err != nil {
			return nil, nil, fmt.Errorf("tax_rates[%s].other: %w", project, err)
		}
		cfg.TaxRates[sales.ProjectID(project)] = rates
	}

	chains := make(map[sales.ApprovalType][]sales.ChainLevel)
	for typ, steps := range tj.ApprovalChains {
		var levels []sales.ChainLevel
		for _, step := range steps {
			lvl := sales.ChainLevel{Role: sales.Role(step.Role)}
			if lvl.MinAmount, err = parseDecimal(step.MinAmount); err != nil {
				return nil, nil, fmt.Errorf("approval_chains[%s].min_amount: %w", typ, err)
			}
			if step.MaxAmount != "" {
				max, err := parseDecimal(step.MaxAmount)
				if err != nil {
					return nil, nil, fmt.Errorf("approval_chains[%s].max_amount: %w", typ, err)
				}
				lvl.MaxAmount = &max
			}
			if step.AssignedTo != "" {
				id := sales.ActorID(step.AssignedTo)
				lvl.AssignedTo = &id
			}
			levels = append(levels, lvl)
		}
		chains[sales.ApprovalType(typ)] = levels
	}
	return cfg, chains, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// =============================================================================
// INTERFACE IMPLEMENTATIONS
// =============================================================================

// TenantConfig implements sales.ConfigProvider.
func (f *Factory) TenantConfig(tenant sales.TenantID) (*sales.TenantConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cfg, ok := f.configs[tenant]
	if !ok {
		return nil, &sales.NotFoundError{Kind: "tenant config", ID: string(tenant)}
	}
	return cfg, nil
}

// BuildChain implements sales.ChainBuilder. Levels whose band covers the
// amount are included in configured order; with no configuration for the
// type, a single unassigned sales-manager sign-off is returned so gated
// actions never slip through unapproved.
func (f *Factory) BuildChain(tenant sales.TenantID, typ sales.ApprovalType, amount decimal.Decimal) ([]sales.ChainLevel, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	defs := f.chains[tenant][typ]
	if len(defs) == 0 {
		return []sales.ChainLevel{{Role: sales.RoleSalesManager}}, nil
	}

	var chain []sales.ChainLevel
	for _, lvl := range defs {
		if amount.LessThan(lvl.MinAmount) {
			continue
		}
		if lvl.MaxAmount != nil && amount.GreaterThan(*lvl.MaxAmount) {
			continue
		}
		chain = append(chain, lvl)
	}
	if len(chain) == 0 {
		// Amount below every band: the first configured level signs off.
		chain = []sales.ChainLevel{defs[0]}
	}
	return chain, nil
}
