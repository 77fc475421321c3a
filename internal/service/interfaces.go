package service

import (
	"context"

	"casinopay/internal/gateway"
	"casinopay/internal/infrastructure/audit"
)

// Gateway is the outbound finance provider. *gateway.Client implements it.
type Gateway interface {
	CreateDeposit(ctx context.Context, req *gateway.DepositRequest) (*gateway.DepositResult, error)
	CreateCryptoDeposit(ctx context.Context, req *gateway.CryptoDepositRequest) (*gateway.DepositResult, error)
	CreateWithdrawal(ctx context.Context, req *gateway.WithdrawalRequest) (*gateway.WithdrawalResult, error)
	QueryStatus(ctx context.Context, externalRef string) (*gateway.StatusResult, error)
}

// Locker serialises work per key. The returned func releases the lock.
type Locker interface {
	Acquire(ctx context.Context, key, owner string) (func(), error)
}

type AuditSink interface {
	Record(ctx context.Context, e audit.Entry) error
}
