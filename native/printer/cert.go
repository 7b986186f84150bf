package printer

// IsPrintable reports whether the certificate currently allows issuance.
func (c *Cert) IsPrintable() bool {
	return c != nil && (c.State == CertStateActive || c.State == CertStatePrintOnly)
}

// IsBurnable reports whether the certificate currently allows redemption.
func (c *Cert) IsBurnable() bool {
	return c != nil && (c.State == CertStateActive || c.State == CertStateBurnOnly)
}

// SetState moves the certificate to next. Any known state other than
// Uninitialized is reachable from any other.
func (c *Cert) SetState(next CertState) error {
	if next == CertStateUninitialized {
		return ErrUninitializedCert
	}
	if !next.Valid() {
		return ErrInvalidState
	}
	c.State = next
	return nil
}

// SetFee replaces the redemption fee of a price/fee certificate.
func (c *Cert) SetFee(fee uint64) error {
	if c.Model != ModelPriceFee {
		return ErrFeeUnsupported
	}
	if fee > Precision {
		return ErrInvalidFee
	}
	c.Fee = fee
	return nil
}

// Converter returns the conversion formula selected by the certificate model.
func (c *Cert) Converter() Converter {
	if c.Model == ModelRatePair {
		return RatePair{Numerator: c.NumeratorRate, Denominator: c.DenominatorRate}
	}
	return PriceFee{Price: c.Price, Fee: c.Fee}
}

// PrintableAmount converts staked collateral into stable units.
func (c *Cert) PrintableAmount(staked uint64) (uint64, error) {
	return c.Converter().Printable(staked)
}

// BurnableAmount converts burned stable units into (collateral, fee).
func (c *Cert) BurnableAmount(unstaked uint64) (uint64, uint64, error) {
	return c.Converter().Burnable(unstaked)
}
