package enums

// PortfolioEntryType maps to the portfolio_entry_type enum in Postgres.
type PortfolioEntryType string

const (
	EntryReserve PortfolioEntryType = "reserve"
	EntryRelease PortfolioEntryType = "release"
	EntrySettle  PortfolioEntryType = "settle"
	EntryCredit  PortfolioEntryType = "credit"
	EntryDebit   PortfolioEntryType = "debit"
)

var validPortfolioEntryTypes = []PortfolioEntryType{
	EntryReserve,
	EntryRelease,
	EntrySettle,
	EntryCredit,
	EntryDebit,
}

func (t PortfolioEntryType) IsValid() bool {
	for _, candidate := range validPortfolioEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
