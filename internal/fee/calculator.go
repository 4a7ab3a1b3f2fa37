// Package fee owns every piece of money arithmetic in the engine. Other
// packages must not add, scale or round amounts themselves.
package fee

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrAmountTooSmall = errors.New("amount below minimum transactable unit")
	ErrInvalidAmount  = errors.New("amount must be a positive integer of minor units")
	ErrInvalidRate    = errors.New("invalid fee rate")
	ErrOverflow       = errors.New("amount overflow")
)

// Basis says what the caller's amount represents.
type Basis string

const (
	// BasisClient: the amount is what the client pays, surcharge included.
	BasisClient Basis = "client"
	// BasisOriginal: the amount is the pre-surcharge price of the service.
	BasisOriginal Basis = "original"
)

var hundred = decimal.NewFromInt(100)

// Split is the deterministic breakdown of one payment.
//
//	ProviderAmount + PlatformFee == GrossAmount
//	GrossAmount + ClientSurcharge == ClientAmount
type Split struct {
	ClientAmount    int64 `json:"client_amount"`
	GrossAmount     int64 `json:"gross_amount"`
	ProviderAmount  int64 `json:"provider_amount"`
	PlatformFee     int64 `json:"platform_fee"`
	ClientSurcharge int64 `json:"client_surcharge"`
}

type Calculator struct {
	surchargeRate decimal.Decimal
	platformRate  decimal.Decimal
	minAmount     int64
}

// NewCalculator takes both rates as percentages (10 means 10%).
func NewCalculator(surchargePercent, platformFeePercent decimal.Decimal, minAmount int64) (*Calculator, error) {
	if surchargePercent.IsNegative() {
		return nil, fmt.Errorf("%w: surcharge %s%%", ErrInvalidRate, surchargePercent)
	}
	if platformFeePercent.IsNegative() || platformFeePercent.GreaterThanOrEqual(hundred) {
		return nil, fmt.Errorf("%w: platform fee %s%%", ErrInvalidRate, platformFeePercent)
	}
	if minAmount < 0 {
		return nil, fmt.Errorf("%w: minimum %d", ErrInvalidAmount, minAmount)
	}
	return &Calculator{
		surchargeRate: surchargePercent.Div(hundred),
		platformRate:  platformFeePercent.Div(hundred),
		minAmount:     minAmount,
	}, nil
}

// Calculate dispatches on the amount basis.
func (c *Calculator) Calculate(amount int64, basis Basis) (Split, error) {
	switch basis {
	case BasisOriginal:
		return c.FromOriginal(amount)
	case BasisClient, "":
		return c.FromClientAmount(amount)
	default:
		return Split{}, fmt.Errorf("unknown amount basis %q", basis)
	}
}

// FromOriginal splits a pre-surcharge amount.
func (c *Calculator) FromOriginal(original int64) (Split, error) {
	if original <= 0 {
		return Split{}, ErrInvalidAmount
	}
	client := roundHalfUp(decimal.NewFromInt(original).Mul(decimal.NewFromInt(1).Add(c.surchargeRate)))
	if client < c.minAmount {
		return Split{}, fmt.Errorf("%w: %d < %d", ErrAmountTooSmall, client, c.minAmount)
	}
	return c.split(client, original), nil
}

// FromClientAmount splits an amount that already includes the client surcharge.
func (c *Calculator) FromClientAmount(client int64) (Split, error) {
	if client <= 0 {
		return Split{}, ErrInvalidAmount
	}
	if client < c.minAmount {
		return Split{}, fmt.Errorf("%w: %d < %d", ErrAmountTooSmall, client, c.minAmount)
	}
	original := roundHalfUp(decimal.NewFromInt(client).Div(decimal.NewFromInt(1).Add(c.surchargeRate)))
	if original <= 0 {
		return Split{}, ErrInvalidAmount
	}
	return c.split(client, original), nil
}

// split rounds only the platform fee; the provider share is the remainder, so
// the gross amount reconciles with no residual.
func (c *Calculator) split(client, original int64) Split {
	platformFee := roundHalfUp(decimal.NewFromInt(original).Mul(c.platformRate))
	return Split{
		ClientAmount:    client,
		GrossAmount:     original,
		ProviderAmount:  original - platformFee,
		PlatformFee:     platformFee,
		ClientSurcharge: client - original,
	}
}

// Total sums amounts for a payout group.
func Total(amounts []int64) (int64, error) {
	var total int64
	for _, a := range amounts {
		if a < 0 {
			return 0, fmt.Errorf("%w: negative amount %d", ErrInvalidAmount, a)
		}
		if total > math.MaxInt64-a {
			return 0, ErrOverflow
		}
		total += a
	}
	return total, nil
}

// roundHalfUp rounds to whole minor units; decimal.Round rounds half away from
// zero, which is half-up for the non-negative values used here.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
