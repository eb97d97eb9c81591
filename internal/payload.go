package gateway

import (
	"fmt"
	"strings"
)

const (
	minYear = 2000
	maxYear = 2100
)

// ValidateFor checks the payload against the inputs the given capability's model needs.
// The predicted field itself is not required (e.g. ram for CapRAM).
func (p *DevicePayload) ValidateFor(capability string) error {
	if p == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	var missing []string
	need := func(field string, ok bool) {
		if !ok {
			missing = append(missing, field)
		}
	}

	if capability != CapRAM {
		need("ram", p.RAM > 0)
	}
	if capability != CapBattery {
		need("battery", p.Battery > 0)
	}
	need("screen", p.Screen > 0)
	need("weight", p.Weight > 0)
	if capability != CapBrand {
		need("company", strings.TrimSpace(p.Company) != "")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing or non-positive %s", ErrValidation, strings.Join(missing, ", "))
	}

	if p.Year != 0 && (p.Year < minYear || p.Year > maxYear) {
		return fmt.Errorf("%w: year %d out of range [%d, %d]", ErrValidation, p.Year, minYear, maxYear)
	}
	if p.RAM < 0 || p.Battery < 0 || p.Storage < 0 || p.Camera < 0 {
		return fmt.Errorf("%w: negative device attribute", ErrValidation)
	}
	return nil
}

// Validate checks an advanced prediction request.
func (p *AdvancedPayload) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if err := p.DevicePayload.ValidateFor(CapAdvanced); err != nil {
		return err
	}
	if p.Currency != "" && len(p.Currency) != 3 {
		return fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrValidation, p.Currency)
	}
	for _, m := range p.Models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: empty model identifier", ErrValidation)
		}
	}
	return nil
}

// Validate checks a search query.
func (q *SearchQuery) Validate() error {
	if q == nil || strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrValidation)
	}
	return nil
}
