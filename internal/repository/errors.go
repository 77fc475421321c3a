package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrAlreadyTerminal      = errors.New("transaction already in terminal state")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrOptimisticLock       = errors.New("optimistic lock conflict, retry")
)

const (
	mysqlDuplicateEntry      = 1062
	postgresUniqueViolation  = "23505"
	sqliteUniqueViolationMsg = "UNIQUE constraint failed"
)

// isDuplicateKey reports whether err is a unique-constraint violation from any
// of the supported drivers.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
		return true
	}
	return strings.Contains(err.Error(), sqliteUniqueViolationMsg)
}
