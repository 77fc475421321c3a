package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"casinopay/internal/model"
	"casinopay/internal/validator"
)

func paparaWithdrawal(userID int64, amount string) *WithdrawalRequest {
	return &WithdrawalRequest{
		UserID:        userID,
		Amount:        dec(amount),
		PaymentMethod: "papara",
		PayoutDetails: map[string]string{"wallet_id": "1234567890", "account_holder": "Ali Veli"},
	}
}

func TestCreateWithdrawalReservesBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBalance(t, 1, "100")

	resp, err := env.svc.CreateWithdrawal(context.Background(), paparaWithdrawal(1, "60"))
	if err != nil {
		t.Fatalf("CreateWithdrawal: %v", err)
	}
	if resp.Status != model.StatusPending || resp.ExternalRef != "WREF1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !resp.Amount.Equal(dec("60")) {
		t.Errorf("amount = %s, want 60", resp.Amount)
	}
	assertBalance(t, env.balance(t, 1), "40")

	row := env.transaction(t, resp.TransactionID)
	if !row.Amount.Equal(dec("-60")) {
		t.Errorf("stored amount = %s, want -60", row.Amount)
	}
	if !row.BalanceBefore.Decimal.Equal(dec("100")) || !row.BalanceAfter.Decimal.Equal(dec("40")) {
		t.Errorf("snapshot = %s/%s, want 100/40", row.BalanceBefore.Decimal, row.BalanceAfter.Decimal)
	}
	if got := env.gw.withdrawals[0].PayoutDetails["wallet_id"]; got != "1234567890" {
		t.Errorf("payout wallet_id = %q", got)
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBalance(t, 1, "100")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.CreateWithdrawal(context.Background(), paparaWithdrawal(1, "60"))
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("succeeded=%d insufficient=%d, want 1/1", succeeded, insufficient)
	}
	assertBalance(t, env.balance(t, 1), "40")
	if len(env.gw.withdrawals) != 1 {
		t.Fatalf("gateway called %d times", len(env.gw.withdrawals))
	}
}

func TestWithdrawalGatewayFailureRefunds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"rejected", rejected("create withdrawal", "ACCOUNT_BLOCKED"), ErrGatewayRejected},
		{"unreachable", unreachable("create withdrawal"), ErrGatewayUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.seedBalance(t, 1, "100")
			env.gw.withdrawErr = tc.err

			_, err := env.svc.CreateWithdrawal(context.Background(), paparaWithdrawal(1, "60"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			assertBalance(t, env.balance(t, 1), "100")

			var rows []*model.Transaction
			if err := env.db.Find(&rows).Error; err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(rows) != 1 || rows[0].Status != model.StatusFailed {
				t.Fatalf("want one failed row, got %+v", rows)
			}

			journal, err := env.svc.Journal(context.Background(), 1)
			if err != nil {
				t.Fatalf("journal: %v", err)
			}
			if len(journal) != 2 {
				t.Fatalf("journal entries = %d, want reserve + refund", len(journal))
			}
		})
	}
}

func TestWithdrawalValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBalance(t, 1, "1000")
	ctx := context.Background()

	card := &WithdrawalRequest{UserID: 1, Amount: dec("100"), PaymentMethod: "credit_card"}
	if _, err := env.svc.CreateWithdrawal(ctx, card); !errors.Is(err, validator.ErrWithdrawalNotSupported) {
		t.Fatalf("card err = %v", err)
	}

	badIBAN := &WithdrawalRequest{
		UserID:        1,
		Amount:        dec("150"),
		PaymentMethod: "havale",
		PayoutDetails: map[string]string{"iban": "TR330006100519786457841327", "account_holder": "Ali Veli"},
	}
	if _, err := env.svc.CreateWithdrawal(ctx, badIBAN); !errors.Is(err, validator.ErrInvalidIBAN) {
		t.Fatalf("iban err = %v", err)
	}

	missing := &WithdrawalRequest{UserID: 1, Amount: dec("150"), PaymentMethod: "papara"}
	if _, err := env.svc.CreateWithdrawal(ctx, missing); !errors.Is(err, validator.ErrMissingField) {
		t.Fatalf("missing field err = %v", err)
	}

	if len(env.gw.withdrawals) != 0 {
		t.Fatal("gateway called for invalid withdrawals")
	}
	assertBalance(t, env.balance(t, 1), "1000")
}

func TestInsufficientBalanceSkipsGateway(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBalance(t, 1, "30")

	_, err := env.svc.CreateWithdrawal(context.Background(), paparaWithdrawal(1, "60"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if len(env.gw.withdrawals) != 0 {
		t.Fatal("gateway called without funds")
	}
	assertBalance(t, env.balance(t, 1), "30")
}

func TestWithdrawalCallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("failure refunds", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedBalance(t, 1, "100")
		if _, err := env.svc.CreateWithdrawal(ctx, paparaWithdrawal(1, "60")); err != nil {
			t.Fatalf("CreateWithdrawal: %v", err)
		}
		res, err := env.svc.HandleCallback(ctx, &CallbackRequest{TransactionID: "WREF1", Status: "failed"})
		if err != nil {
			t.Fatalf("HandleCallback: %v", err)
		}
		if res.Status != model.StatusFailed {
			t.Fatalf("status = %s", res.Status)
		}
		assertBalance(t, env.balance(t, 1), "100")
	})

	t.Run("success keeps reservation", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedBalance(t, 1, "100")
		if _, err := env.svc.CreateWithdrawal(ctx, paparaWithdrawal(1, "60")); err != nil {
			t.Fatalf("CreateWithdrawal: %v", err)
		}
		if _, err := env.svc.HandleCallback(ctx, &CallbackRequest{TransactionID: "WREF1", Status: "completed"}); err != nil {
			t.Fatalf("HandleCallback: %v", err)
		}
		assertBalance(t, env.balance(t, 1), "40")
	})

	t.Run("unknown status keeps reservation", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedBalance(t, 1, "100")
		resp, err := env.svc.CreateWithdrawal(ctx, paparaWithdrawal(1, "60"))
		if err != nil {
			t.Fatalf("CreateWithdrawal: %v", err)
		}
		res, err := env.svc.HandleCallback(ctx, &CallbackRequest{TransactionID: "WREF1", Status: "in_progress"})
		if err != nil {
			t.Fatalf("HandleCallback: %v", err)
		}
		if res.Status != model.StatusPending {
			t.Fatalf("status = %s, want pending", res.Status)
		}
		if row := env.transaction(t, resp.TransactionID); row.Status != model.StatusPending {
			t.Fatalf("row status = %s", row.Status)
		}
		assertBalance(t, env.balance(t, 1), "40")
	})
}

func TestResolveWithdrawal(t *testing.T) {
	ctx := context.Background()

	t.Run("reject refunds", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedBalance(t, 1, "100")
		resp, err := env.svc.CreateWithdrawal(ctx, paparaWithdrawal(1, "60"))
		if err != nil {
			t.Fatalf("CreateWithdrawal: %v", err)
		}

		row, err := env.svc.ResolveWithdrawal(ctx, resp.TransactionID, model.StatusRejected, "admin", "kyc mismatch")
		if err != nil {
			t.Fatalf("ResolveWithdrawal: %v", err)
		}
		if row.Status != model.StatusRejected || row.ReviewedBy != "admin" || row.Note != "kyc mismatch" {
			t.Fatalf("unexpected row %+v", row)
		}
		assertBalance(t, env.balance(t, 1), "100")

		_, err = env.svc.ResolveWithdrawal(ctx, resp.TransactionID, model.StatusRejected, "admin", "")
		if !errors.Is(err, ErrAlreadyTerminal) {
			t.Fatalf("second resolve err = %v, want ErrAlreadyTerminal", err)
		}
		assertBalance(t, env.balance(t, 1), "100")
	})

	t.Run("complete leaves balance", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedBalance(t, 1, "100")
		resp, err := env.svc.CreateWithdrawal(ctx, paparaWithdrawal(1, "60"))
		if err != nil {
			t.Fatalf("CreateWithdrawal: %v", err)
		}
		if _, err := env.svc.ResolveWithdrawal(ctx, resp.TransactionID, model.StatusCompleted, "admin", ""); err != nil {
			t.Fatalf("ResolveWithdrawal: %v", err)
		}
		assertBalance(t, env.balance(t, 1), "40")
	})

	t.Run("rejects bad input", func(t *testing.T) {
		env := newTestEnv(t, nil)
		if _, err := env.svc.ResolveWithdrawal(ctx, "WTH_1", model.StatusFailed, "admin", ""); !errors.Is(err, ErrValidation) {
			t.Fatalf("status err = %v", err)
		}
		if _, err := env.svc.ResolveWithdrawal(ctx, "WTH_missing", model.StatusCompleted, "admin", ""); !errors.Is(err, ErrTransactionNotFound) {
			t.Fatalf("missing err = %v", err)
		}
		dep, err := env.svc.CreateDeposit(ctx, havaleDeposit(1, "500"))
		if err != nil {
			t.Fatalf("CreateDeposit: %v", err)
		}
		if _, err := env.svc.ResolveWithdrawal(ctx, dep.TransactionID, model.StatusCompleted, "admin", ""); !errors.Is(err, ErrNotWithdrawal) {
			t.Fatalf("deposit err = %v", err)
		}
	})
}

func TestResolveFallbackDeposit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.gw.depositErr = unreachable("create deposit")

	resp, err := env.svc.CreateDeposit(ctx, havaleDeposit(1, "500"))
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
	row, err := env.svc.ResolveDeposit(ctx, resp.TransactionID, model.StatusCompleted, "ops", "confirmed by bank statement")
	if err != nil {
		t.Fatalf("ResolveDeposit: %v", err)
	}
	if row.Status != model.StatusCompleted {
		t.Fatalf("status = %s", row.Status)
	}
	assertBalance(t, env.balance(t, 1), "500")

	// the provider callback arriving afterwards is a no-op
	res, err := env.svc.HandleCallback(ctx, &CallbackRequest{Reference: resp.TransactionID, Status: "completed"})
	if err != nil || !res.AlreadyProcessed {
		t.Fatalf("late callback = %+v, %v", res, err)
	}
	assertBalance(t, env.balance(t, 1), "500")
}

func TestBulkResolveWithdrawals(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedBalance(t, 1, "300")

	first, err := env.svc.CreateWithdrawal(ctx, paparaWithdrawal(1, "100"))
	if err != nil {
		t.Fatalf("first withdrawal: %v", err)
	}
	second, err := env.svc.CreateWithdrawal(ctx, paparaWithdrawal(1, "100"))
	if err != nil {
		t.Fatalf("second withdrawal: %v", err)
	}
	assertBalance(t, env.balance(t, 1), "100")

	if _, err := env.svc.ResolveWithdrawal(ctx, first.TransactionID, model.StatusCompleted, "admin", ""); err != nil {
		t.Fatalf("resolve first: %v", err)
	}

	ids := []string{first.TransactionID, second.TransactionID, second.TransactionID, "WTH_missing"}
	results, err := env.svc.BulkResolveWithdrawals(ctx, ids, model.StatusRejected, "admin", "batch")
	if err != nil {
		t.Fatalf("BulkResolveWithdrawals: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3 distinct ids", len(results))
	}

	if results[0].Success || results[0].Status != model.StatusCompleted || results[0].Error == "" {
		t.Errorf("already completed id: %+v", results[0])
	}
	if !results[1].Success || results[1].Status != model.StatusRejected {
		t.Errorf("pending id: %+v", results[1])
	}
	if results[2].Success || results[2].Error == "" {
		t.Errorf("missing id: %+v", results[2])
	}

	assertBalance(t, env.balance(t, 1), "200")

	if _, err := env.svc.BulkResolveWithdrawals(ctx, ids, "approved", "admin", ""); !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("bad status err = %v", err)
	}
}

func TestListWithdrawals(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedBalance(t, 1, "1000")

	for i := 0; i < 3; i++ {
		if _, err := env.svc.CreateWithdrawal(ctx, paparaWithdrawal(1, "100")); err != nil {
			t.Fatalf("withdrawal %d: %v", i, err)
		}
	}
	rows, total, err := env.svc.ListWithdrawals(ctx, model.StatusPending, 1, 2)
	if err != nil {
		t.Fatalf("ListWithdrawals: %v", err)
	}
	if total != 3 || len(rows) != 2 {
		t.Fatalf("total=%d page=%d, want 3/2", total, len(rows))
	}
}
