package billing

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/coachkit/pkg/validator"
)

// Pricing holds provider price references and redirect targets for checkout
// and onboarding.
type Pricing struct {
	Coach struct {
		SetupFeePriceID string `yaml:"setup_fee_price_id"`
		MonthlyPriceID  string `yaml:"monthly_price_id"`
	} `yaml:"coach"`
	User struct {
		DefaultPriceID string `yaml:"default_price_id"`
	} `yaml:"user"`
	// PlatformFeePercent is the platform's cut of user revenue.
	PlatformFeePercent float64 `yaml:"platform_fee_percent"`
	SuccessURL         string  `yaml:"success_url"`
	CancelURL          string  `yaml:"cancel_url"`
	Onboarding         struct {
		RefreshURL string `yaml:"refresh_url"`
		ReturnURL  string `yaml:"return_url"`
	} `yaml:"onboarding"`
}

// LoadPricing reads and validates a YAML pricing file.
func LoadPricing(path string) (Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pricing{}, fmt.Errorf("read pricing file: %w", err)
	}
	return ParsePricing(data)
}

func ParsePricing(data []byte) (Pricing, error) {
	var p Pricing
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pricing{}, errors.Join(ErrInvalidPricing, err)
	}
	if err := p.Validate(); err != nil {
		return Pricing{}, err
	}
	return p, nil
}

func (p Pricing) Validate() error {
	err := validator.Apply(
		validator.RequiredString("coach.setup_fee_price_id", p.Coach.SetupFeePriceID),
		validator.RequiredString("coach.monthly_price_id", p.Coach.MonthlyPriceID),
		validator.RequiredString("user.default_price_id", p.User.DefaultPriceID),
		validator.PercentBetween("platform_fee_percent", p.PlatformFeePercent, 0, 100),
		validator.ValidURL("success_url", p.SuccessURL),
		validator.ValidURL("cancel_url", p.CancelURL),
		validator.ValidURL("onboarding.refresh_url", p.Onboarding.RefreshURL),
		validator.ValidURL("onboarding.return_url", p.Onboarding.ReturnURL),
	)
	if err != nil {
		return errors.Join(ErrInvalidPricing, err)
	}
	return nil
}
