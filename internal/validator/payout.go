package validator

import (
	"fmt"
	"sort"
	"strings"

	"casinopay/internal/model"
)

// PayoutDetails is the method-specific part of a withdrawal. The concrete type
// is chosen by the payment method kind.
type PayoutDetails interface {
	Kind() model.PaymentMethodKind
	// Fields renders the details in the gateway's flat key/value form.
	Fields() map[string]string
}

type BankPayout struct {
	IBAN          string
	AccountHolder string
	BankName      string
}

func (BankPayout) Kind() model.PaymentMethodKind { return model.KindBankTransfer }

func (p BankPayout) Fields() map[string]string {
	f := map[string]string{"iban": p.IBAN, "account_holder": p.AccountHolder}
	if p.BankName != "" {
		f["bank_name"] = p.BankName
	}
	return f
}

type WalletPayout struct {
	WalletID      string
	AccountHolder string
}

func (WalletPayout) Kind() model.PaymentMethodKind { return model.KindEWallet }

func (p WalletPayout) Fields() map[string]string {
	f := map[string]string{"wallet_id": p.WalletID}
	if p.AccountHolder != "" {
		f["account_holder"] = p.AccountHolder
	}
	return f
}

type CryptoPayout struct {
	Address string
	Chain   string // canonical
}

func (CryptoPayout) Kind() model.PaymentMethodKind { return model.KindCrypto }

func (p CryptoPayout) Fields() map[string]string {
	return map[string]string{"wallet_address": p.Address, "network": p.Chain}
}

// ParsePayoutDetails builds the payout variant for method from raw request fields
// and validates it completely. Nothing invalid ever reaches the gateway.
func ParsePayoutDetails(method model.PaymentMethod, raw map[string]string) (PayoutDetails, error) {
	get := func(key string) string { return strings.TrimSpace(raw[key]) }

	switch method.Kind {
	case model.KindBankTransfer:
		p := BankPayout{
			IBAN:          strings.ToUpper(strings.ReplaceAll(get("iban"), " ", "")),
			AccountHolder: get("account_holder"),
			BankName:      get("bank_name"),
		}
		if err := require(map[string]string{"iban": p.IBAN, "account_holder": p.AccountHolder}); err != nil {
			return nil, err
		}
		if err := ValidateIBAN(p.IBAN); err != nil {
			return nil, err
		}
		return p, nil

	case model.KindEWallet:
		p := WalletPayout{WalletID: get("wallet_id"), AccountHolder: get("account_holder")}
		if err := require(map[string]string{"wallet_id": p.WalletID}); err != nil {
			return nil, err
		}
		return p, nil

	case model.KindCrypto:
		address, chain := get("wallet_address"), get("network")
		if err := require(map[string]string{"wallet_address": address, "network": chain}); err != nil {
			return nil, err
		}
		if err := ValidateCryptoAddress(address, chain); err != nil {
			return nil, err
		}
		return CryptoPayout{Address: address, Chain: NormalizeChainAlias(chain)}, nil

	case model.KindCard:
		return nil, ErrWithdrawalNotSupported

	default:
		return nil, fmt.Errorf("%w: no payout form for kind %q", ErrInvalid, method.Kind)
	}
}

func require(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
}

// ValidateIBAN checks length, charset and the ISO 13616 mod-97 checksum.
func ValidateIBAN(iban string) error {
	if len(iban) < 15 || len(iban) > 34 {
		return fmt.Errorf("%w: length %d", ErrInvalidIBAN, len(iban))
	}
	if iban[0] < 'A' || iban[0] > 'Z' || iban[1] < 'A' || iban[1] > 'Z' {
		return fmt.Errorf("%w: country code", ErrInvalidIBAN)
	}

	rearranged := iban[4:] + iban[:4]
	remainder := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			remainder = (remainder*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			remainder = (remainder*100 + v) % 97
		default:
			return fmt.Errorf("%w: character %q", ErrInvalidIBAN, r)
		}
	}
	if remainder != 1 {
		return fmt.Errorf("%w: checksum", ErrInvalidIBAN)
	}
	return nil
}
