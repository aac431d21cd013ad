package domain

// Address is a postal address as required by AEAT declarations.
type Address struct {
	Street      string `json:"street"`
	City        string `json:"city"`
	PostalCode  string `json:"postalCode"`
	Province    string `json:"province,omitempty"`
	CountryCode string `json:"countryCode"`
}

// Company is the declarant: the legal entity whose books are kept.
type Company struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	TaxID   string  `json:"taxId"`
	Address Address `json:"address"`
	// Accounts is the chart-of-accounts mapping used for postings; zero value means defaults.
	Accounts *AccountMapping `json:"accounts,omitempty"`
}

// AccountMapping returns the company mapping or the default PGC mapping.
func (c Company) AccountMapping() AccountMapping {
	if c.Accounts != nil {
		return *c.Accounts
	}
	return DefaultAccountMapping()
}

// CustodianKind distinguishes exchanges from self-custody wallets.
type CustodianKind string

const (
	CustodianExchange CustodianKind = "exchange"
	CustodianWallet   CustodianKind = "wallet"
)

// Custodian is the wallet or exchange that holds lots on behalf of a company.
type Custodian struct {
	ID          string        `json:"id"`
	CompanyID   string        `json:"companyId"`
	Name        string        `json:"name"`
	Kind        CustodianKind `json:"kind"`
	TaxID       string        `json:"taxId,omitempty"`
	CountryCode string        `json:"countryCode"`
	Address     Address       `json:"address"`
}

// IsForeign reports whether the custodian sits outside Spain and so is declarable.
func (c Custodian) IsForeign() bool {
	return c.CountryCode != "" && c.CountryCode != "ES"
}
