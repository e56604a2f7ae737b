// Package cashflow derives income, expense and cashflow figures from a player sheet.
//
// Every figure is computed with decimal arithmetic. Missing or malformed numeric
// fields count as zero because sheets are often partially filled during play.
package cashflow

import (
	"strings"

	"github.com/cashflow-tracker/backend/internal/sheet"
	"github.com/shopspring/decimal"
)

const (
	fieldValue           = "value"
	fieldIncome          = "income"
	fieldSalary          = "salary"
	fieldInterest        = "interest"
	fieldInterestSecond  = "interest2"
	fieldRealEstate      = "realEstate"
	fieldBusinesses      = "businesses"
	fieldChildren        = "children"
	fieldNumberOfKids    = "numberOfChildren"
	fieldPerChildExpense = "perChildExpense"
	fieldBankLoan        = "bankLoan"
	fieldSavings         = "savings"
)

// expenseFields are the wrapped {value} lines summed into total expenses.
var expenseFields = []string{
	"taxes",
	"mortgage",
	"schoolLoan",
	"carLoan",
	"creditCard",
	"retail",
	"other",
	"miscellaneousExpense",
}

var (
	bankLoanDivisor     = decimal.NewFromInt(10)
	fastTrackUnit       = decimal.NewFromInt(1000)
	fastTrackMultiplier = decimal.NewFromInt(100)
)

// Summary groups every derived figure for one sheet.
type Summary struct {
	Cash               decimal.Decimal
	Salary             decimal.Decimal
	PassiveIncome      decimal.Decimal
	TotalIncome        decimal.Decimal
	ChildExpenses      decimal.Decimal
	BankLoanExpense    decimal.Decimal
	TotalExpenses      decimal.Decimal
	Cashflow           decimal.Decimal
	Children           decimal.Decimal
	PerChildExpense    decimal.Decimal
	FastTrackDayIncome decimal.Decimal
}

// Summarize computes all figures for a sheet.
func Summarize(s sheet.Sheet) Summary {
	totalIncome := TotalIncome(s)
	totalExpenses := TotalExpenses(s)
	children := s.Expenses().Get(fieldChildren)
	return Summary{
		Cash:               Coerce(s.Assets().Get(fieldSavings)),
		Salary:             Salary(s),
		PassiveIncome:      PassiveIncome(s),
		TotalIncome:        totalIncome,
		ChildExpenses:      ChildExpenses(s),
		BankLoanExpense:    BankLoanExpense(s),
		TotalExpenses:      totalExpenses,
		Cashflow:           totalIncome.Sub(totalExpenses),
		Children:           Coerce(children.Get(fieldNumberOfKids)),
		PerChildExpense:    Coerce(children.Get(fieldPerChildExpense)),
		FastTrackDayIncome: FastTrackDayIncome(s),
	}
}

// PassiveIncome is interest + interest2 plus the income of every real estate and business investment.
func PassiveIncome(s sheet.Sheet) decimal.Decimal {
	income := s.Income()
	investments := s.Investments()
	return Coerce(income.Lookup(fieldInterest, fieldValue)).
		Add(Coerce(income.Lookup(fieldInterestSecond, fieldValue))).
		Add(sumField(investments.Get(fieldRealEstate), fieldIncome)).
		Add(sumField(investments.Get(fieldBusinesses), fieldIncome))
}

// Salary accepts either a plain number or a {value} wrapper.
func Salary(s sheet.Sheet) decimal.Decimal {
	salary := s.Income().Get(fieldSalary)
	if salary.IsObject() {
		return Coerce(salary.Get(fieldValue))
	}
	return Coerce(salary)
}

// TotalIncome is salary plus passive income.
func TotalIncome(s sheet.Sheet) decimal.Decimal {
	return Salary(s).Add(PassiveIncome(s))
}

// ChildExpenses is numberOfChildren multiplied by perChildExpense.
func ChildExpenses(s sheet.Sheet) decimal.Decimal {
	children := s.Expenses().Get(fieldChildren)
	return Coerce(children.Get(fieldNumberOfKids)).Mul(Coerce(children.Get(fieldPerChildExpense)))
}

// BankLoanExpense prefers a non-zero explicit expenses.bankLoan.value and otherwise
// charges a tenth of liabilities.bankLoan, rounded half away from zero.
func BankLoanExpense(s sheet.Sheet) decimal.Decimal {
	explicit := Coerce(s.Expenses().Lookup(fieldBankLoan, fieldValue))
	if !explicit.IsZero() {
		return explicit
	}
	return Coerce(s.Liabilities().Get(fieldBankLoan)).Div(bankLoanDivisor).Round(0)
}

// TotalExpenses sums the fixed expense lines, the bank loan payment and child expenses.
func TotalExpenses(s sheet.Sheet) decimal.Decimal {
	expenses := s.Expenses()
	total := decimal.Zero
	for _, field := range expenseFields {
		total = total.Add(Coerce(expenses.Lookup(field, fieldValue)))
	}
	return total.Add(BankLoanExpense(s)).Add(ChildExpenses(s))
}

// Cashflow is total income minus total expenses.
func Cashflow(s sheet.Sheet) decimal.Decimal {
	return TotalIncome(s).Sub(TotalExpenses(s))
}

// FastTrackDayIncome is the fast-track starting income: passive income rounded to the
// nearest thousand, times 100.
func FastTrackDayIncome(s sheet.Sheet) decimal.Decimal {
	return PassiveIncome(s).Div(fastTrackUnit).Round(0).Mul(fastTrackUnit).Mul(fastTrackMultiplier)
}

// Coerce converts a leaf to a number. Numbers pass through, non-blank numeric
// strings are parsed and everything else is zero.
func Coerce(node sheet.Node) decimal.Decimal {
	switch node.Kind() {
	case sheet.KindNumber:
		literal, _ := node.NumberLiteral()
		return parseDecimal(literal)
	case sheet.KindString:
		text, _ := node.StringValue()
		return parseDecimal(strings.TrimSpace(text))
	default:
		return decimal.Zero
	}
}

func parseDecimal(literal string) decimal.Decimal {
	if literal == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(literal)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func sumField(items sheet.Node, field string) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items.Items() {
		total = total.Add(Coerce(item.Get(field)))
	}
	return total
}
