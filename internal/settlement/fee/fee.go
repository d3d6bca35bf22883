// Package fee splits gross order amounts into platform fee and merchant net.
package fee

import (
	"errors"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	// ModePerOrder applies the policy to every order on its own.
	ModePerOrder Mode = "per_order"
	// ModePerBatch applies the policy once to the batch total and spreads
	// the result over the orders by gross weight.
	ModePerBatch Mode = "per_batch"
)

var (
	ErrInvalidMode   = errors.New("invalid_fee_mode")
	ErrInvalidPolicy = errors.New("invalid_fee_policy")
	ErrNegativeGross = errors.New("negative_gross_amount")
)

var hundred = decimal.NewFromInt(100)

// Policy is a flat amount plus a percentage (2.5 means 2.5%).
type Policy struct {
	Mode    Mode
	Percent decimal.Decimal
	Flat    decimal.Decimal
}

func (p Policy) Validate() error {
	switch p.Mode {
	case ModePerOrder, ModePerBatch:
	default:
		return ErrInvalidMode
	}
	if p.Percent.IsNegative() || p.Percent.GreaterThan(hundred) || p.Flat.IsNegative() {
		return ErrInvalidPolicy
	}
	return nil
}

// Charge is the fee for a single gross amount, rounded to cents and clamped
// to [0, gross].
func (p Policy) Charge(gross decimal.Decimal) decimal.Decimal {
	fee := gross.Mul(p.Percent).Div(hundred).Add(p.Flat).Round(2)
	return clamp(fee, gross)
}

type Split struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

type Result struct {
	Items []Split
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// Allocate returns one split per gross amount, in input order. Every split
// satisfies Fee+Net == Gross, and the totals satisfy Fee+Net == Gross with
// Fee equal to the policy's fee for the batch. Rounding residue is absorbed
// by the last item, moving backwards only when the last item cannot take it.
func Allocate(policy Policy, grosses []decimal.Decimal) (Result, error) {
	if err := policy.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{Items: make([]Split, len(grosses)), Gross: decimal.Zero, Fee: decimal.Zero, Net: decimal.Zero}
	for i, g := range grosses {
		if g.IsNegative() {
			return Result{}, ErrNegativeGross
		}
		g = g.Round(2)
		res.Items[i].Gross = g
		res.Gross = res.Gross.Add(g)
	}
	if len(grosses) == 0 {
		return res, nil
	}

	fees := make([]decimal.Decimal, len(grosses))
	var batchFee decimal.Decimal
	switch policy.Mode {
	case ModePerOrder:
		batchFee = decimal.Zero
		for i, item := range res.Items {
			fees[i] = policy.Charge(item.Gross)
			batchFee = batchFee.Add(fees[i])
		}
	case ModePerBatch:
		batchFee = policy.Charge(res.Gross)
		assigned := decimal.Zero
		for i, item := range res.Items {
			if res.Gross.IsZero() {
				fees[i] = decimal.Zero
				continue
			}
			fees[i] = clamp(batchFee.Mul(item.Gross).Div(res.Gross).Round(2), item.Gross)
			assigned = assigned.Add(fees[i])
		}
		absorb(fees, res.Items, batchFee.Sub(assigned))
	}

	for i := range res.Items {
		res.Items[i].Fee = fees[i]
		res.Items[i].Net = res.Items[i].Gross.Sub(fees[i])
		res.Fee = res.Fee.Add(fees[i])
		res.Net = res.Net.Add(res.Items[i].Net)
	}
	return res, nil
}

// absorb pushes residual onto fees starting at the last item, keeping each
// fee within [0, gross].
func absorb(fees []decimal.Decimal, items []Split, residual decimal.Decimal) {
	for i := len(fees) - 1; i >= 0 && !residual.IsZero(); i-- {
		next := clamp(fees[i].Add(residual), items[i].Gross)
		residual = residual.Sub(next.Sub(fees[i]))
		fees[i] = next
	}
}

func clamp(fee, gross decimal.Decimal) decimal.Decimal {
	if fee.IsNegative() {
		return decimal.Zero
	}
	if fee.GreaterThan(gross) {
		return gross
	}
	return fee
}
