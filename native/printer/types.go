package printer

import (
	"fmt"
	"strings"

	"kylan/crypto"
)

// CertState gates issuance and redemption for a certificate.
type CertState uint8

const (
	CertStateUninitialized CertState = iota
	CertStateActive
	CertStatePrintOnly
	CertStateBurnOnly
	CertStatePaused
)

var certStateNames = map[CertState]string{
	CertStateUninitialized: "uninitialized",
	CertStateActive:        "active",
	CertStatePrintOnly:     "print_only",
	CertStateBurnOnly:      "burn_only",
	CertStatePaused:        "paused",
}

func (s CertState) String() string {
	if name, ok := certStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("cert_state(%d)", uint8(s))
}

// Valid reports whether s is one of the known states.
func (s CertState) Valid() bool {
	_, ok := certStateNames[s]
	return ok
}

// ParseCertState accepts snake_case or camelCase state names.
func ParseCertState(raw string) (CertState, error) {
	normalised := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""))
	for state, name := range certStateNames {
		if strings.ReplaceAll(name, "_", "") == normalised {
			return state, nil
		}
	}
	return CertStateUninitialized, fmt.Errorf("%w: %q", ErrInvalidState, raw)
}

func (s CertState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidState, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *CertState) UnmarshalText(text []byte) error {
	parsed, err := ParseCertState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CertModel selects the conversion formula a certificate uses.
type CertModel uint8

const (
	// ModelPriceFee is the canonical model: a fixed price and a redemption fee
	// routed to the taxman.
	ModelPriceFee CertModel = iota
	// ModelRatePair is the legacy numerator/denominator model without fees.
	ModelRatePair
)

func (m CertModel) String() string {
	switch m {
	case ModelPriceFee:
		return "price_fee"
	case ModelRatePair:
		return "rate_pair"
	default:
		return fmt.Sprintf("cert_model(%d)", uint8(m))
	}
}

// ParseCertModel parses the configuration spelling of a model.
func ParseCertModel(raw string) (CertModel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "price_fee", "pricefee":
		return ModelPriceFee, nil
	case "rate_pair", "ratepair":
		return ModelRatePair, nil
	default:
		return ModelPriceFee, fmt.Errorf("printer: unknown cert model %q", raw)
	}
}

func (m CertModel) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *CertModel) UnmarshalText(text []byte) error {
	parsed, err := ParseCertModel(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Printer binds one stable asset to its administrative authority.
type Printer struct {
	Address     crypto.Address `json:"address"`
	StableAsset crypto.Address `json:"stableAsset"`
	Authority   crypto.Address `json:"authority"`
	Treasurer   crypto.Address `json:"treasurer"`
}

// Cert holds the exchange configuration for one collateral asset.
//
// Under ModelPriceFee one stable unit is worth Price/Precision collateral
// units. Under ModelRatePair the legacy NumeratorRate/DenominatorRate pair is
// used and Fee is always zero.
type Cert struct {
	Address         crypto.Address `json:"address"`
	Printer         crypto.Address `json:"printer"`
	CollateralAsset crypto.Address `json:"collateralAsset"`
	Model           CertModel      `json:"model"`
	Price           uint64         `json:"price"`
	Fee             uint64         `json:"fee"`
	NumeratorRate   uint64         `json:"numeratorRate,omitempty"`
	DenominatorRate uint64         `json:"denominatorRate,omitempty"`
	Taxman          crypto.Address `json:"taxman"`
	State           CertState      `json:"state"`
}

// Cheque tracks the stable amount an owner has printed and not yet burned
// through one certificate.
type Cheque struct {
	Address         crypto.Address `json:"address"`
	Printer         crypto.Address `json:"printer"`
	CollateralAsset crypto.Address `json:"collateralAsset"`
	Owner           crypto.Address `json:"owner"`
	Amount          uint64         `json:"amount"`
}

// PrintResult summarises a completed print.
type PrintResult struct {
	Staked  uint64 `json:"staked"`
	Printed uint64 `json:"printed"`
	Cheque  uint64 `json:"cheque"`
}

// BurnResult summarises a completed burn.
type BurnResult struct {
	Burned   uint64 `json:"burned"`
	Unstaked uint64 `json:"unstaked"`
	Fee      uint64 `json:"fee"`
	Cheque   uint64 `json:"cheque"`
}
