package taxreport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/ledger"
	"github.com/mtlprog/taxledger/internal/price"
	"github.com/mtlprog/taxledger/internal/store"
)

func validSummary() domain.TaxYearSummary {
	return domain.TaxYearSummary{
		CompanyID: "acme",
		Year:      2024,
		Modelo720Lines: []domain.Modelo720Line{
			{CustodianID: "kraken", CustodianName: "Payward Ltd", CountryCode: "IE", AssetID: "BTC", Quantity: dec("1.5"),
				AcquisitionValue: dec("45000"), YearEndValue: dec("60000")},
		},
	}
}

func TestValidateAcceptsCompleteFiling(t *testing.T) {
	if err := Validate(testCompany(), testCustodians(), validSummary()).OrNil(); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}

func TestValidateCollectsEveryIssue(t *testing.T) {
	company := domain.Company{
		ID:      "acme",
		TaxID:   "12345",
		Address: domain.Address{City: "Lisboa", PostalCode: "1000-001", CountryCode: "PT"},
	}
	custodians := []domain.Custodian{
		{ID: "kraken", CompanyID: "acme", Name: "", Kind: domain.CustodianExchange, CountryCode: "Ireland"},
	}
	summary := validSummary()
	summary.Incomplete = true
	summary.IncompleteReason = "no year-end price for [ETH]"
	summary.MissingPrices = []string{"ETH"}
	summary.Modelo720Lines = append(summary.Modelo720Lines,
		domain.Modelo720Line{CustodianID: "binance", AssetID: "ETH"},
		domain.Modelo720Line{CustodianID: "", AssetID: "SOL"},
	)

	verr := Validate(company, custodians, summary)
	err := verr.OrNil()
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	fields := map[string]bool{}
	for _, is := range verr.Issues {
		fields[is.Field] = true
	}
	for _, want := range []string{
		"company.name",
		"company.taxId",
		"company.address.street",
		"company.address.postalCode",
		"company.address.countryCode",
		"summary",
		"holdings.ETH.yearEndPrice",
		"custodians.kraken.name",
		"custodians.kraken.countryCode",
		"custodians.kraken.address",
		"modelo720Lines[1].custodianId",
		"modelo720Lines[2].custodianId",
	} {
		if !fields[want] {
			t.Errorf("missing issue for %s; got %v", want, verr.Issues)
		}
	}
	if fields["company.address.city"] {
		t.Error("unexpected issue for company.address.city")
	}
}

func TestValidateUnregisteredCompany(t *testing.T) {
	verr := Validate(domain.Company{}, nil, domain.TaxYearSummary{CompanyID: "ghost", Year: 2024})
	if len(verr.Issues) != 1 || verr.Issues[0].Field != "company" {
		t.Errorf("issues = %v, want a single company issue", verr.Issues)
	}
}

func TestValidateForSubmission(t *testing.T) {
	ctx := context.Background()

	t.Run("ready", func(t *testing.T) {
		st := newTestStore(t)
		createLot(t, ledger.NewLedger(st), "BTC", "1", "30000", "kraken", day(2024, 1, 10))
		agg := NewAggregator(st, price.StaticFeed{"BTC": dec("40000")}, nil, time.Second)
		if err := agg.ValidateForSubmission(ctx, "acme", 2024); err != nil {
			t.Errorf("ValidateForSubmission = %v, want nil", err)
		}
	})

	t.Run("missing price and company", func(t *testing.T) {
		st := store.NewMemoryStore()
		createLot(t, ledger.NewLedger(st), "BTC", "1", "30000", "", day(2024, 1, 10))
		agg := NewAggregator(st, price.StaticFeed{}, nil, time.Second)

		err := agg.ValidateForSubmission(ctx, "acme", 2024)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("err = %v, want *ValidationError", err)
		}
		if len(verr.Issues) < 3 {
			t.Errorf("got %d issues, want company, incomplete, price and custodian issues: %v", len(verr.Issues), verr.Issues)
		}
	})
}

func TestFilingXMLRequiresValidDeclarant(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		st := newTestStore(t)
		createLot(t, ledger.NewLedger(st), "BTC", "1", "30000", "kraken", day(2024, 1, 10))
		agg := NewAggregator(st, price.StaticFeed{"BTC": dec("40000")}, nil, time.Second)

		data, err := agg.FilingXML(ctx, "acme", 2024)
		if err != nil {
			t.Fatalf("FilingXML: %v", err)
		}
		if !strings.Contains(string(data), "<NIF>B12345678</NIF>") {
			t.Errorf("declarant NIF missing from filing:\n%s", data)
		}
	})

	t.Run("empty tax id and address", func(t *testing.T) {
		st := newTestStore(t)
		c := testCompany()
		c.TaxID = ""
		c.Address = domain.Address{CountryCode: "ES"}
		if err := st.SaveCompany(ctx, c); err != nil {
			t.Fatal(err)
		}
		createLot(t, ledger.NewLedger(st), "BTC", "1", "30000", "kraken", day(2024, 1, 10))
		agg := NewAggregator(st, price.StaticFeed{"BTC": dec("40000")}, nil, time.Second)

		data, err := agg.FilingXML(ctx, "acme", 2024)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("err = %v, want *ValidationError", err)
		}
		if data != nil {
			t.Error("declaration rendered for a declarant that fails validation")
		}
		fields := map[string]bool{}
		for _, issue := range verr.Issues {
			fields[issue.Field] = true
		}
		for _, f := range []string{"company.taxId", "company.address.street", "company.address.city", "company.address.postalCode"} {
			if !fields[f] {
				t.Errorf("no issue for %s: %v", f, verr.Issues)
			}
		}
	})

	t.Run("unknown company", func(t *testing.T) {
		agg := NewAggregator(store.NewMemoryStore(), price.StaticFeed{}, nil, time.Second)
		if _, err := agg.FilingXML(ctx, "ghost", 2024); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("err = %v, want store.ErrNotFound", err)
		}
	})
}
