/*
template.go - Reusable payment-schedule templates

PURPOSE:
  A template is a named, tenant-scoped installment plan (percentages and/or
  fixed amounts plus due-date rules) that schedules are stamped out from.
  Templates are validated at write time with the same rules schedule
  creation applies, so a stored template can always produce a schedule.
*/
package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TemplateInstallment is one planned installment inside a template.
type TemplateInstallment struct {
	Name        string
	Percent     decimal.Decimal
	FixedAmount *decimal.Decimal
	DueRule     DueRule
	Editable    bool
}

// Template is a reusable installment plan.
type Template struct {
	ID          TemplateID
	TenantID    TenantID
	Name        string
	Description string

	Installments []TemplateInstallment

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	c := *t
	c.Installments = make([]TemplateInstallment, len(t.Installments))
	for i, ti := range t.Installments {
		c.Installments[i] = ti
		if ti.FixedAmount != nil {
			v := *ti.FixedAmount
			c.Installments[i].FixedAmount = &v
		}
		if ti.DueRule.FixedDate != nil {
			v := *ti.DueRule.FixedDate
			c.Installments[i].DueRule.FixedDate = &v
		}
	}
	return &c
}

func (t *Template) validate() error {
	if t.Name == "" {
		return &ValidationError{Field: "name", Reason: "template needs a name"}
	}
	if len(t.Installments) == 0 {
		return &ValidationError{Field: "installments", Reason: "template needs at least one installment"}
	}
	specs := make([]InstallmentSpec, len(t.Installments))
	for i, ti := range t.Installments {
		specs[i] = InstallmentSpec{Name: ti.Name, Percent: ti.Percent, FixedAmount: ti.FixedAmount}
	}
	return validateSpecs(specs)
}

// =============================================================================
// TEMPLATE SERVICE
// =============================================================================

type TemplateService struct {
	Templates TemplateStore
	Clock     Clock
}

func NewTemplateService(templates TemplateStore, clock Clock) *TemplateService {
	return &TemplateService{Templates: templates, Clock: clock}
}

func (s *TemplateService) Create(ctx context.Context, t *Template) (*Template, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = TemplateID(NewID())
	}
	now := s.Clock.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := s.Templates.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TemplateService) Get(ctx context.Context, tenant TenantID, id TemplateID) (*Template, error) {
	t, err := s.Templates.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(t.TenantID, tenant, "template"); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TemplateService) List(ctx context.Context, tenant TenantID) ([]*Template, error) {
	return s.Templates.ListTemplates(ctx, tenant)
}

// Update replaces a template's name, description, and installments.
func (s *TemplateService) Update(ctx context.Context, tenant TenantID, t *Template) (*Template, error) {
	existing, err := s.Get(ctx, tenant, t.ID)
	if err != nil {
		return nil, err
	}
	existing.Name = t.Name
	existing.Description = t.Description
	existing.Installments = t.Installments
	if err := existing.validate(); err != nil {
		return nil, err
	}
	existing.UpdatedAt = s.Clock.Now()
	if err := s.Templates.PutTemplate(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *TemplateService) Delete(ctx context.Context, tenant TenantID, id TemplateID) error {
	if _, err := s.Get(ctx, tenant, id); err != nil {
		return err
	}
	return s.Templates.DeleteTemplate(ctx, id)
}
