package accounts

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Side is the balance side an account type normally carries.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Valid reports whether the type is known.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide returns the side on which the type's balance grows. The ledger
// itself never applies it; reporting does.
func (t AccountType) NormalSide() Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// Account models a chart of accounts node.
type Account struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	IsActive       bool            `json:"is_active"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateInput captures a new account. Type may be omitted and is then derived
// from the code.
type CreateInput struct {
	Code           string          `json:"code" validate:"required,numeric,min=4,max=12"`
	Name           string          `json:"name" validate:"required,max=128"`
	Type           AccountType     `json:"type" validate:"omitempty,oneof=ASSET LIABILITY EQUITY INCOME EXPENSE"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// UpdateInput patches an account. Nil fields are left untouched.
type UpdateInput struct {
	Code     *string      `json:"code" validate:"omitempty,numeric,min=4,max=12"`
	Name     *string      `json:"name" validate:"omitempty,max=128"`
	Type     *AccountType `json:"type" validate:"omitempty,oneof=ASSET LIABILITY EQUITY INCOME EXPENSE"`
	IsActive *bool        `json:"is_active"`
}

// ListFilter narrows account listings.
type ListFilter struct {
	Type       AccountType
	ActiveOnly bool
}

var (
	// ErrAccountInUse indicates code or type changes on an account with postings.
	ErrAccountInUse = errors.New("accounts: account has journal lines")
	// ErrDuplicateCode indicates the code is already taken.
	ErrDuplicateCode = errors.New("accounts: code already exists")
)
