package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

type PaymentMethodKind string

const (
	KindBankTransfer PaymentMethodKind = "bank_transfer"
	KindEWallet      PaymentMethodKind = "ewallet"
	KindCrypto       PaymentMethodKind = "crypto"
	KindCard         PaymentMethodKind = "card"
)

// PaymentMethod is static configuration describing limits per direction.
// MaxWithdraw of zero means the method cannot be used for withdrawals.
type PaymentMethod struct {
	ID          string
	Kind        PaymentMethodKind
	MinDeposit  decimal.Decimal
	MaxDeposit  decimal.Decimal
	MinWithdraw decimal.Decimal
	MaxWithdraw decimal.Decimal
	Currencies  []string
}

func (m PaymentMethod) SupportsWithdrawal() bool {
	return m.MaxWithdraw.IsPositive()
}

func (m PaymentMethod) SupportsDeposit() bool {
	return m.MaxDeposit.IsPositive()
}

func (m PaymentMethod) IsCrypto() bool {
	return m.Kind == KindCrypto
}

func (m PaymentMethod) SupportsCurrency(currency string) bool {
	for _, c := range m.Currencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// DefaultCurrency is the first configured currency, used when a request omits one.
func (m PaymentMethod) DefaultCurrency() string {
	if len(m.Currencies) == 0 {
		return ""
	}
	return strings.ToUpper(m.Currencies[0])
}
