package service

import (
	"errors"
	"fmt"

	"casinopay/internal/repository"
	"casinopay/internal/validator"
)

var (
	ErrGatewayRejected    = errors.New("payment could not be processed, please try again")
	ErrGatewayUnreachable = errors.New("payment provider unavailable, please try again")
	ErrNotWithdrawal      = errors.New("transaction is not a withdrawal")
	ErrNotDeposit         = errors.New("transaction is not a deposit")
	ErrNothingToReconcile = errors.New("transaction has no gateway reference to reconcile")
	ErrInvalidResolution  = fmt.Errorf("%w: unsupported resolution status", validator.ErrInvalid)
)

// Re-exported so handlers only depend on this package.
var (
	ErrValidation           = validator.ErrInvalid
	ErrTransactionNotFound  = repository.ErrTransactionNotFound
	ErrDuplicateTransaction = repository.ErrDuplicateTransaction
	ErrAlreadyTerminal      = repository.ErrAlreadyTerminal
	ErrInvalidTransition    = repository.ErrInvalidTransition
	ErrInsufficientBalance  = repository.ErrInsufficientBalance
)
