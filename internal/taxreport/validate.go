package taxreport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/store"
)

var (
	spanishTaxID  = regexp.MustCompile(`^[0-9A-Z][0-9]{7}[0-9A-Z]$`)
	spanishPostal = regexp.MustCompile(`^[0-9]{5}$`)
	countryCode   = regexp.MustCompile(`^[A-Z]{2}$`)
)

// ValidateForSubmission checks everything a filing needs and returns every problem at once
// as a *domain.ValidationError. It returns nil only when the year may be submitted.
func (a *Aggregator) ValidateForSubmission(ctx context.Context, companyID string, year int) error {
	company, custodians, summary, err := a.filing(ctx, companyID, year)
	if err != nil {
		return err
	}
	return Validate(company, custodians, summary).OrNil()
}

// FilingXML renders the declaration only when the year passes ValidateForSubmission, so
// a filing with a missing NIF or address is never produced. An unknown company yields
// store.ErrNotFound.
func (a *Aggregator) FilingXML(ctx context.Context, companyID string, year int) ([]byte, error) {
	company, custodians, summary, err := a.filing(ctx, companyID, year)
	if err != nil {
		return nil, err
	}
	if company.ID == "" {
		return nil, fmt.Errorf("company %s: %w", companyID, store.ErrNotFound)
	}
	if err := Validate(company, custodians, summary).OrNil(); err != nil {
		return nil, err
	}
	return ExportXML(company, summary)
}

// filing loads the declarant, its custodians and the year summary. A missing company is
// returned as the zero value so validation can report it.
func (a *Aggregator) filing(ctx context.Context, companyID string, year int) (domain.Company, []domain.Custodian, domain.TaxYearSummary, error) {
	company, err := a.store.GetCompany(ctx, companyID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.Company{}, nil, domain.TaxYearSummary{}, fmt.Errorf("loading company: %w", err)
	}
	custodians, err := a.store.ListCustodians(ctx, companyID)
	if err != nil {
		return domain.Company{}, nil, domain.TaxYearSummary{}, fmt.Errorf("loading custodians: %w", err)
	}
	summary, err := a.Summarize(ctx, companyID, year)
	if err != nil {
		return domain.Company{}, nil, domain.TaxYearSummary{}, fmt.Errorf("summarizing %d: %w", year, err)
	}
	return company, custodians, summary, nil
}

// Validate inspects declarant, custodian and summary data without stopping at the first issue.
func Validate(company domain.Company, custodians []domain.Custodian, summary domain.TaxYearSummary) *domain.ValidationError {
	issues := &domain.ValidationError{}

	if company.ID == "" {
		issues.Add("company", "declarant "+summary.CompanyID+" is not registered")
	} else {
		validateDeclarant(issues, company)
	}

	if summary.Incomplete {
		issues.Add("summary", "summary is incomplete: "+summary.IncompleteReason)
	}
	for _, asset := range summary.MissingPrices {
		issues.Add("holdings."+asset+".yearEndPrice", "no year-end price available")
	}

	byID := make(map[string]domain.Custodian, len(custodians))
	for _, c := range custodians {
		byID[c.ID] = c
	}
	seen := map[string]bool{}
	for i, line := range summary.Modelo720Lines {
		field := fmt.Sprintf("modelo720Lines[%d]", i)
		if line.CustodianID == "" {
			issues.Add(field+".custodianId", "holding of "+line.AssetID+" has no custodian")
			continue
		}
		if seen[line.CustodianID] {
			continue
		}
		seen[line.CustodianID] = true

		c, ok := byID[line.CustodianID]
		if !ok {
			issues.Add(field+".custodianId", "custodian "+line.CustodianID+" is not registered")
			continue
		}
		prefix := "custodians." + c.ID
		if strings.TrimSpace(c.Name) == "" {
			issues.Add(prefix+".name", "is required")
		}
		if !countryCode.MatchString(c.CountryCode) {
			issues.Add(prefix+".countryCode", "must be an ISO 3166 alpha-2 code")
		}
		if c.IsForeign() && c.Kind == domain.CustodianExchange {
			if strings.TrimSpace(c.Address.Street) == "" || strings.TrimSpace(c.Address.City) == "" {
				issues.Add(prefix+".address", "foreign custodians need street and city")
			}
		}
	}
	return issues
}

func validateDeclarant(issues *domain.ValidationError, c domain.Company) {
	if strings.TrimSpace(c.Name) == "" {
		issues.Add("company.name", "is required")
	}
	switch {
	case c.TaxID == "":
		issues.Add("company.taxId", "is required")
	case !spanishTaxID.MatchString(strings.ToUpper(c.TaxID)):
		issues.Add("company.taxId", "must be a 9-character Spanish NIF")
	}
	if strings.TrimSpace(c.Address.Street) == "" {
		issues.Add("company.address.street", "is required")
	}
	if strings.TrimSpace(c.Address.City) == "" {
		issues.Add("company.address.city", "is required")
	}
	if !spanishPostal.MatchString(c.Address.PostalCode) {
		issues.Add("company.address.postalCode", "must be 5 digits")
	}
	if c.Address.CountryCode != "ES" {
		issues.Add("company.address.countryCode", "declarant must be resident in ES")
	}
}
