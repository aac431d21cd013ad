package taxreport

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/mtlprog/taxledger/internal/domain"
)

const (
	summarySheet   = "Summary"
	holdingsSheet  = "Holdings"
	modelo720Sheet = "Modelo720"
)

// ExportXLSX renders the summary as a workbook with Summary, Holdings and Modelo720 sheets.
func ExportXLSX(s domain.TaxYearSummary) ([]byte, error) {
	if s.Incomplete {
		return nil, fmt.Errorf("exporting %s/%d: %w", s.CompanyID, s.Year, ErrIncompleteSummary)
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("renaming sheet: %w", err)
	}
	for _, name := range []string{holdingsSheet, modelo720Sheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating style: %w", err)
	}

	sheets := map[string][][]any{
		summarySheet:   summaryRows(s),
		holdingsSheet:  holdingRows(s.Holdings),
		modelo720Sheet: modelo720Rows(s),
	}
	for name, rows := range sheets {
		if err := writeRows(f, name, rows); err != nil {
			return nil, err
		}
		if err := f.SetRowStyle(name, 1, 1, bold); err != nil {
			return nil, fmt.Errorf("styling %s: %w", name, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("addressing %s row %d: %w", sheet, i+1, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// summaryRows lays the headline figures out as label/value pairs.
func summaryRows(s domain.TaxYearSummary) [][]any {
	return [][]any{
		{"Field", "Value"},
		{"Company", s.CompanyID},
		{"Year", s.Year},
		{"Disposals", s.DisposalCount},
		{"Total proceeds EUR", toFloat(s.TotalProceeds)},
		{"Total cost basis EUR", toFloat(s.TotalCostBasis)},
		{"Realized gain/loss EUR", toFloat(s.RealizedGainLoss)},
		{"Realized gains EUR", toFloat(s.RealizedGains)},
		{"Realized losses EUR", toFloat(s.RealizedLosses)},
		{"Income EUR", toFloat(s.IncomeEUR)},
		{"Acquisition value EUR", toFloat(s.TotalAcquisitionValue)},
		{"Year-end value EUR", toFloat(s.TotalYearEndValue)},
		{"Modelo 721 required", yesNo(s.Modelo721Required)},
		{"Modelo 720 required", yesNo(s.Modelo720Required)},
	}
}

// holdingRows: Asset | Quantity | Acquisition value | Year-end price | Year-end value
func holdingRows(holdings []domain.Holding) [][]any {
	rows := make([][]any, 0, len(holdings)+1)
	rows = append(rows, []any{"Asset", "Quantity", "Acquisition value EUR", "Year-end price EUR", "Year-end value EUR"})
	for _, h := range holdings {
		rows = append(rows, []any{
			h.AssetID,
			domain.FormatQuantity(h.Quantity),
			toFloat(h.AcquisitionValue),
			toFloat(h.YearEndPrice),
			toFloat(h.YearEndValue),
		})
	}
	return rows
}

// modelo720Rows: Custodian | Name | Tax ID | Country | Asset | Quantity | Acquisition | Year-end
func modelo720Rows(s domain.TaxYearSummary) [][]any {
	rows := make([][]any, 0, len(s.Modelo720Lines)+2)
	rows = append(rows, []any{"Custodian", "Name", "Tax ID", "Country", "Asset", "Quantity", "Acquisition value EUR", "Year-end value EUR"})
	for _, l := range s.Modelo720Lines {
		rows = append(rows, []any{
			l.CustodianID, l.CustodianName, l.CustodianTaxID, l.CountryCode, l.AssetID,
			domain.FormatQuantity(l.Quantity),
			toFloat(l.AcquisitionValue),
			toFloat(l.YearEndValue),
		})
	}
	rows = append(rows, []any{"TOTAL", "", "", "", "", "", toFloat(s.TotalAcquisitionValue), toFloat(s.TotalYearEndValue)})
	return rows
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
