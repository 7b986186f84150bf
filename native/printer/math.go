package printer

import (
	"github.com/holiman/uint256"
)

// Precision is the fixed-point scale of prices and fees.
const Precision uint64 = 1_000_000

// Converter maps between collateral and stable amounts for a certificate.
type Converter interface {
	// Printable returns the stable amount issued for staked collateral.
	Printable(staked uint64) (uint64, error)
	// Burnable returns the collateral released for burned stable units, split
	// into the amount paid to the redeemer and the fee.
	Burnable(unstaked uint64) (net uint64, fee uint64, err error)
}

// PriceFee is the canonical conversion: printable = staked*price/Precision,
// gross = unstaked*Precision/price, fee = gross*fee/Precision.
type PriceFee struct {
	Price uint64
	Fee   uint64
}

func (p PriceFee) Printable(staked uint64) (uint64, error) {
	return PrintableAmount(staked, p.Price)
}

func (p PriceFee) Burnable(unstaked uint64) (uint64, uint64, error) {
	return BurnableAmount(unstaked, p.Price, p.Fee)
}

// RatePair is the legacy conversion: printable = staked*numerator/denominator
// and burnable = unstaked*denominator/numerator, without a fee.
type RatePair struct {
	Numerator   uint64
	Denominator uint64
}

func (r RatePair) Printable(staked uint64) (uint64, error) {
	return mulDiv(staked, r.Numerator, r.Denominator)
}

func (r RatePair) Burnable(unstaked uint64) (uint64, uint64, error) {
	amount, err := mulDiv(unstaked, r.Denominator, r.Numerator)
	if err != nil {
		return 0, 0, err
	}
	return amount, 0, nil
}

// PrintableAmount computes floor(staked * price / Precision).
func PrintableAmount(staked, price uint64) (uint64, error) {
	if price == 0 {
		return 0, ErrOverflow
	}
	return mulDiv(staked, price, Precision)
}

// BurnableAmount computes the collateral released for unstaked stable units
// and the fee withheld from it.
func BurnableAmount(unstaked, price, fee uint64) (uint64, uint64, error) {
	gross, err := mulDiv(unstaked, Precision, price)
	if err != nil {
		return 0, 0, err
	}
	charge, err := mulDiv(gross, fee, Precision)
	if err != nil {
		return 0, 0, err
	}
	if charge > gross {
		return 0, 0, ErrOverflow
	}
	return gross - charge, charge, nil
}

// mulDiv computes floor(a*b/d) with a 256-bit intermediate and fails when d is
// zero or the quotient does not fit in 64 bits.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrOverflow
	}
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, ErrOverflow
	}
	quotient := new(uint256.Int).Div(product, uint256.NewInt(d))
	if !quotient.IsUint64() {
		return 0, ErrOverflow
	}
	return quotient.Uint64(), nil
}

// checkedAdd returns a+b or ErrOverflow when the sum leaves the 64-bit range.
func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, ErrOverflow
	}
	return sum.Uint64(), nil
}
