package accounts

import (
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var typeByLeadingDigit = map[byte]AccountType{
	'1': AccountTypeAsset,
	'2': AccountTypeLiability,
	'3': AccountTypeEquity,
	'4': AccountTypeIncome,
	'5': AccountTypeExpense,
}

// TypeForCode derives the account type from the leading digit of code.
func TypeForCode(code string) (AccountType, error) {
	code = strings.TrimSpace(code)
	if len(code) < 4 {
		return "", shared.Validation("code", "must have at least 4 digits")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", shared.Validation("code", "must be numeric")
		}
	}
	t, ok := typeByLeadingDigit[code[0]]
	if !ok {
		return "", shared.Validation("code", "leading digit must be 1-5")
	}
	return t, nil
}

// checkCodeType ensures an explicit type agrees with the code range.
func checkCodeType(code string, t AccountType) (AccountType, error) {
	derived, err := TypeForCode(code)
	if err != nil {
		return "", err
	}
	if t == "" {
		return derived, nil
	}
	if !t.Valid() {
		return "", shared.Validation("type", "unknown account type")
	}
	if t != derived {
		return "", shared.Validation("type", "does not match code range "+code[:1]+"xxx ("+string(derived)+")")
	}
	return t, nil
}
