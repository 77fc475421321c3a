package config

// DefaultPaymentMethods is used when the config file lists none.
func DefaultPaymentMethods() []PaymentMethodConfig {
	return []PaymentMethodConfig{
		{ID: "havale", Kind: "bank_transfer", MinDeposit: "100", MaxDeposit: "50000", MinWithdraw: "100", MaxWithdraw: "50000", Currencies: []string{"TRY"}},
		{ID: "papara", Kind: "ewallet", MinDeposit: "50", MaxDeposit: "20000", MinWithdraw: "50", MaxWithdraw: "20000", Currencies: []string{"TRY"}},
		{ID: "crypto", Kind: "crypto", MinDeposit: "10", MaxDeposit: "100000", MinWithdraw: "20", MaxWithdraw: "100000", Currencies: []string{"USDT", "TRY"}},
		// card is deposit only
		{ID: "credit_card", Kind: "card", MinDeposit: "50", MaxDeposit: "10000", MinWithdraw: "0", MaxWithdraw: "0", Currencies: []string{"TRY"}},
	}
}
