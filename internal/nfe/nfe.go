// Package nfe reads Brazilian electronic invoices (NF-e XML) into the
// extract used by the ingestion wizard. It performs no network calls.
package nfe

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
)

// Parse reads an NF-e document. Absent fields default to "" or 0; only a
// malformed document is an error. Both bare NFe and nfeProc envelopes are
// accepted.
func Parse(r io.Reader) (*domain.NfeExtract, error) {
	doc, err := readTree(r)
	if err != nil {
		return nil, err
	}

	ide := doc.first("ide")
	emit := doc.first("emit")
	dest := doc.first("dest")
	vol := doc.first("vol")
	inf := doc.first("infNFe")

	issued := ide.textOf("dhEmi")
	if issued == "" {
		// Layout 3.10 invoices carry dEmi instead.
		issued = ide.textOf("dEmi")
	}

	out := &domain.NfeExtract{
		Number:       ide.textOf("nNF"),
		NfeKey:       strings.TrimPrefix(inf.attr("Id"), "NFe"),
		ClientCNPJ:   dest.textOf("CNPJ"),
		ClientName:   dest.textOf("xNome"),
		SupplierCNPJ: emit.textOf("CNPJ"),
		SupplierName: emit.textOf("xNome"),
		CaseCount:    parseLeadingInt(vol.textOf("qVol")),
		Date:         firstN(issued, 10),
		Products:     []domain.LineItem{},
	}

	for _, det := range doc.all("det") {
		prod := det.first("prod")
		if prod == nil {
			continue
		}
		code := prod.textOf("cProd")
		desc := prod.textOf("xProd")

		item := det.attr("nItem")
		if item == "" {
			item = det.textOf("nItem")
		}

		out.Products = append(out.Products, domain.LineItem{
			ItemIndex:           item,
			SupplierCode:        code,
			SupplierDescription: desc,
			ClientCode:          code,
			ClientDescription:   desc,
			NCM:                 prod.textOf("NCM"),
			Quantity:            parseFloat(prod.textOf("qCom")),
			Unit:                prod.textOf("uCom"),
			UnitValue:           parseFloat(prod.textOf("vUnCom")),
			TotalValue:          parseFloat(prod.textOf("vProd")),
		})
	}
	out.QtProd = len(out.Products)

	return out, nil
}

// parseFloat reads the longest numeric prefix, like JavaScript parseFloat.
func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	seenDot, seenDigit := false, false
scan:
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
			end = i + 1
		case r == '.' && !seenDot:
			seenDot = true
		case (r == '-' || r == '+') && i == 0:
		default:
			break scan
		}
	}
	if !seenDigit {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseLeadingInt reads the leading integer, like JavaScript parseInt.
func parseLeadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if r >= '0' && r <= '9' {
			end = i + 1
			continue
		}
		if (r == '-' || r == '+') && i == 0 {
			continue
		}
		break
	}
	if end == 0 {
		return 0
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return v
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// OnlyDigits strips every non-digit character.
func OnlyDigits(s string) string {
	return domain.OnlyDigits(s)
}

// FormatCNPJ renders a 14-digit tax id as 00.000.000/0000-00. Other inputs
// are returned unchanged.
func FormatCNPJ(s string) string {
	d := OnlyDigits(s)
	if len(d) != 14 {
		return s
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", d[0:2], d[2:5], d[5:8], d[8:12], d[12:14])
}
