package taxreport

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"

	"github.com/mtlprog/taxledger/internal/domain"
)

// ErrIncompleteSummary is returned when exporting a summary that must not be filed.
var ErrIncompleteSummary = errors.New("summary is incomplete")

// utf8BOM lets spreadsheet applications detect the CSV encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type xmlDeclaration struct {
	XMLName    xml.Name       `xml:"Modelo721"`
	Ejercicio  int            `xml:"ejercicio,attr"`
	Declarante xmlDeclarant   `xml:"Declarante"`
	Resumen    xmlTotals      `xml:"Resumen"`
	Registros  []xmlAssetLine `xml:"Registros>Registro"`
}

type xmlDeclarant struct {
	NIF          string `xml:"NIF"`
	RazonSocial  string `xml:"RazonSocial"`
	Domicilio    string `xml:"Domicilio>Via"`
	Municipio    string `xml:"Domicilio>Municipio"`
	CodigoPostal string `xml:"Domicilio>CodigoPostal"`
	Provincia    string `xml:"Domicilio>Provincia,omitempty"`
	Pais         string `xml:"Domicilio>Pais"`
}

type xmlTotals struct {
	NumeroRegistros     int    `xml:"NumeroRegistros"`
	ValorAdquisicion    string `xml:"ValorAdquisicionTotal"`
	ValorFinalEjercicio string `xml:"ValorFinalEjercicioTotal"`
	ObligacionModelo721 string `xml:"ObligacionModelo721"`
	ObligacionModelo720 string `xml:"ObligacionModelo720"`
}

type xmlAssetLine struct {
	ClaveTipoBien       string `xml:"ClaveTipoBien"`
	Subclave            string `xml:"Subclave"`
	Moneda              string `xml:"MonedaVirtual"`
	Custodio            string `xml:"Custodio>Nombre"`
	CustodioNIF         string `xml:"Custodio>NIF,omitempty"`
	Pais                string `xml:"Custodio>Pais"`
	Saldo               string `xml:"Saldo"`
	ValorAdquisicion    string `xml:"ValorAdquisicion"`
	ValorFinalEjercicio string `xml:"ValorFinalEjercicio"`
}

func yesNo(b bool) string {
	if b {
		return "S"
	}
	return "N"
}

// ExportXML renders the declaration. The output depends only on its arguments.
func ExportXML(company domain.Company, s domain.TaxYearSummary) ([]byte, error) {
	if s.Incomplete {
		return nil, fmt.Errorf("exporting %s/%d: %w", s.CompanyID, s.Year, ErrIncompleteSummary)
	}
	doc := xmlDeclaration{
		Ejercicio: s.Year,
		Declarante: xmlDeclarant{
			NIF:          company.TaxID,
			RazonSocial:  company.Name,
			Domicilio:    company.Address.Street,
			Municipio:    company.Address.City,
			CodigoPostal: company.Address.PostalCode,
			Provincia:    company.Address.Province,
			Pais:         company.Address.CountryCode,
		},
		Resumen: xmlTotals{
			NumeroRegistros:     len(s.Modelo720Lines),
			ValorAdquisicion:    domain.FormatEUR(s.TotalAcquisitionValue),
			ValorFinalEjercicio: domain.FormatEUR(s.TotalYearEndValue),
			ObligacionModelo721: yesNo(s.Modelo721Required),
			ObligacionModelo720: yesNo(s.Modelo720Required),
		},
	}
	for _, l := range s.Modelo720Lines {
		doc.Registros = append(doc.Registros, xmlAssetLine{
			ClaveTipoBien:       "V",
			Subclave:            "8",
			Moneda:              l.AssetID,
			Custodio:            l.CustodianName,
			CustodioNIF:         l.CustodianTaxID,
			Pais:                l.CountryCode,
			Saldo:               domain.FormatQuantity(l.Quantity),
			ValorAdquisicion:    domain.FormatEUR(l.AcquisitionValue),
			ValorFinalEjercicio: domain.FormatEUR(l.YearEndValue),
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding declaration: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

var csvHeader = []string{
	"year", "custodian_id", "custodian_name", "custodian_tax_id", "country",
	"asset", "quantity", "acquisition_value_eur", "year_end_value_eur",
}

// ExportCSV renders one row per Modelo 720 line followed by a totals row, prefixed with a
// UTF-8 byte-order mark.
func ExportCSV(s domain.TaxYearSummary) ([]byte, error) {
	if s.Incomplete {
		return nil, fmt.Errorf("exporting %s/%d: %w", s.CompanyID, s.Year, ErrIncompleteSummary)
	}
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)

	year := strconv.Itoa(s.Year)
	records := [][]string{csvHeader}
	for _, l := range s.Modelo720Lines {
		records = append(records, []string{
			year, l.CustodianID, l.CustodianName, l.CustodianTaxID, l.CountryCode,
			l.AssetID, domain.FormatQuantity(l.Quantity),
			domain.FormatEUR(l.AcquisitionValue), domain.FormatEUR(l.YearEndValue),
		})
	}
	records = append(records, []string{
		year, "TOTAL", "", "", "", "", "",
		domain.FormatEUR(s.TotalAcquisitionValue), domain.FormatEUR(s.TotalYearEndValue),
	})

	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("writing csv: %w", err)
	}
	return buf.Bytes(), nil
}
