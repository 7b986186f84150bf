package printer

// Add credits amount to the cheque and returns the new total. The cheque is
// left untouched on overflow.
func (c *Cheque) Add(amount uint64) (uint64, error) {
	total, err := checkedAdd(c.Amount, amount)
	if err != nil {
		return c.Amount, err
	}
	c.Amount = total
	return total, nil
}

// Sub debits amount from the cheque and returns the new total. Redeeming more
// than the outstanding balance fails and leaves the balance unchanged.
func (c *Cheque) Sub(amount uint64) (uint64, error) {
	if amount > c.Amount {
		return c.Amount, ErrInsufficientLedger
	}
	c.Amount -= amount
	return c.Amount, nil
}
