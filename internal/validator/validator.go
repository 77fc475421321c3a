package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"casinopay/internal/model"

	"github.com/shopspring/decimal"
)

// ErrInvalid is wrapped by every validation failure so callers can classify
// them with a single errors.Is.
var ErrInvalid = errors.New("validation failed")

var (
	ErrAmountOutOfRange       = fmt.Errorf("%w: amount out of range", ErrInvalid)
	ErrWithdrawalNotSupported = fmt.Errorf("%w: payment method does not support withdrawal", ErrAmountOutOfRange)
	ErrDepositNotSupported    = fmt.Errorf("%w: payment method does not support deposit", ErrAmountOutOfRange)
	ErrInvalidAddressFormat   = fmt.Errorf("%w: invalid address format", ErrInvalid)
	ErrUnknownChain           = fmt.Errorf("%w: unknown chain", ErrInvalidAddressFormat)
	ErrUnknownPaymentMethod   = fmt.Errorf("%w: unknown payment method", ErrInvalid)
	ErrUnsupportedCurrency    = fmt.Errorf("%w: unsupported currency", ErrInvalid)
	ErrMissingField           = fmt.Errorf("%w: missing required field", ErrInvalid)
	ErrInvalidIBAN            = fmt.Errorf("%w: invalid iban", ErrInvalid)
)

var (
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	tronAddressPattern = regexp.MustCompile(`^T[A-Za-z0-9]{33}$`)
)

// ValidateAmount checks amount against the method's limits for the direction.
// A zero maximum means the direction is not offered by the method.
func ValidateAmount(method model.PaymentMethod, direction string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrAmountOutOfRange)
	}

	var min, max decimal.Decimal
	switch direction {
	case model.TransactionTypeDeposit:
		if !method.SupportsDeposit() {
			return ErrDepositNotSupported
		}
		min, max = method.MinDeposit, method.MaxDeposit
	case model.TransactionTypeWithdrawal:
		if !method.SupportsWithdrawal() {
			return ErrWithdrawalNotSupported
		}
		min, max = method.MinWithdraw, method.MaxWithdraw
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalid, direction)
	}

	if amount.LessThan(min) || amount.GreaterThan(max) {
		return fmt.Errorf("%w: %s must be between %s and %s for %s",
			ErrAmountOutOfRange, amount, min, max, method.ID)
	}
	return nil
}

// ValidateCryptoAddress checks the address shape for the given chain.
// Unknown chains are always invalid.
func ValidateCryptoAddress(address, chain string) error {
	var pattern *regexp.Regexp
	switch strings.ToLower(strings.TrimSpace(chain)) {
	case "bsc", "eth", "ethereum", "erc20":
		pattern = evmAddressPattern
	case "tron", "trc20":
		pattern = tronAddressPattern
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChain, chain)
	}
	if !pattern.MatchString(address) {
		return fmt.Errorf("%w: %q is not a %s address", ErrInvalidAddressFormat, address, chain)
	}
	return nil
}

var chainAliases = map[string]string{
	"eth":      "erc20",
	"ethereum": "erc20",
	"erc20":    "erc20",
	"tron":     "trc20",
	"trc20":    "trc20",
	"bsc":      "bsc",
}

// DefaultChain is what NormalizeChainAlias returns for input it does not know.
const DefaultChain = "trc20"

// NormalizeChainAlias maps user-facing chain names to the gateway vocabulary.
// Unmapped input falls back to DefaultChain; use ParseChainAlias to reject it instead.
func NormalizeChainAlias(input string) string {
	if canonical, ok := ParseChainAlias(input); ok {
		return canonical
	}
	return DefaultChain
}

// ParseChainAlias is the strict form of NormalizeChainAlias.
func ParseChainAlias(input string) (string, bool) {
	canonical, ok := chainAliases[strings.ToLower(strings.TrimSpace(input))]
	return canonical, ok
}
