package domain

import "encoding/json"

// ============================================================
// NFe extract (transient, lives only while the wizard is open)
// ============================================================

// NfeExtract is the header and line items read from an NFe XML document.
type NfeExtract struct {
	Number       string     `json:"number"`
	NfeKey       string     `json:"nfe_key"`
	ClientCNPJ   string     `json:"client_cnpj"`
	ClientName   string     `json:"client_name"`
	SupplierCNPJ string     `json:"supplier_cnpj"`
	SupplierName string     `json:"supplier_name"`
	CaseCount    int        `json:"case_count"`
	Date         string     `json:"date"`
	QtProd       int        `json:"qt_prod"`
	Products     []LineItem `json:"products"`
}

// TotalValue sums the line totals as declared by the XML.
func (n *NfeExtract) TotalValue() float64 {
	var total float64
	for _, p := range n.Products {
		total += p.TotalValue
	}
	return total
}

// TotalQuantity sums the line quantities.
func (n *NfeExtract) TotalQuantity() float64 {
	var total float64
	for _, p := range n.Products {
		total += p.Quantity
	}
	return total
}

// LineItem is one det block of the invoice. ClientCode, ClientDescription
// and ConversionFactor are editable by the user before submission.
type LineItem struct {
	ItemIndex           string          `json:"item"`
	SupplierCode        string          `json:"supplier_code"`
	SupplierDescription string          `json:"supplier_description"`
	ClientCode          string          `json:"client_code"`
	ClientDescription   string          `json:"client_description"`
	NCM                 string          `json:"ncm"`
	Quantity            float64         `json:"quantity"`
	Unit                string          `json:"unit"`
	UnitValue           float64         `json:"unit_value"`
	TotalValue          float64         `json:"total_value"`
	Exists              bool            `json:"exists"`
	CatalogData         json.RawMessage `json:"data,omitempty"`
	ConversionFactor    float64         `json:"factor,omitempty"`
}

// ItemEdit carries the user-editable fields of a line item. Nil fields are
// left unchanged.
type ItemEdit struct {
	ClientCode        *string  `json:"client_code,omitempty"`
	ClientDescription *string  `json:"client_description,omitempty"`
	ConversionFactor  *float64 `json:"factor,omitempty"`
}

// ============================================================
// Catalog reconciliation - POST /products/check-existing
// ============================================================

// ProductCheck is one key of the batched existence lookup.
type ProductCheck struct {
	SuppCode string `json:"supp_code"`
	SuppCNPJ string `json:"supp_cnpj"`
	CliCNPJ  string `json:"cli_cnpj"`
}

// ProductCheckRequest is the body for POST /products/check-existing.
type ProductCheckRequest struct {
	Products []ProductCheck `json:"products"`
}

// ProductCheckResult is one entry of the existence lookup answer.
type ProductCheckResult struct {
	SuppCode string          `json:"supp_code"`
	Exists   bool            `json:"exists"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ProductCheckResponse is the body returned by POST /products/check-existing.
type ProductCheckResponse struct {
	Results []ProductCheckResult `json:"results"`
}
