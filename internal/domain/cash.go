package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ============================================================
// Terminal cash counting
// ============================================================

// Denomination is one physical note or coin of a currency, as listed
// by the ledger's denomination catalog.
type Denomination struct {
	ID       string          `json:"id"`
	Currency string          `json:"divisa"`
	Value    decimal.Decimal `json:"denominacion"`
	Active   bool            `json:"activo"`
}

// CashDetail is one line of a cash count as sent to the ledger.
type CashDetail struct {
	DenominationID string `json:"denominacion"`
	Quantity       int    `json:"cantidad"`
}

// CashCount accumulates entered quantities per denomination for a
// terminal session. Quantities of zero drop the line.
type CashCount struct {
	catalog    map[string]Denomination
	quantities map[string]int
}

// NewCashCount builds an empty count over the given catalog.
func NewCashCount(catalog []Denomination) *CashCount {
	byID := make(map[string]Denomination, len(catalog))
	for _, d := range catalog {
		byID[d.ID] = d
	}
	return &CashCount{
		catalog:    byID,
		quantities: make(map[string]int),
	}
}

// Set records the quantity for one denomination. Unknown denominations
// and negative quantities are rejected.
func (c *CashCount) Set(denominationID string, quantity int) error {
	if _, ok := c.catalog[denominationID]; !ok {
		return &ErrValidation{Field: "denominacion", Message: "denominación desconocida: " + denominationID}
	}
	if quantity < 0 {
		return &ErrValidation{Field: "cantidad", Message: "no puede ser negativa"}
	}
	if quantity == 0 {
		delete(c.quantities, denominationID)
		return nil
	}
	c.quantities[denominationID] = quantity
	return nil
}

// Total returns Σ denomination × quantity over the current count.
func (c *CashCount) Total() decimal.Decimal {
	total := decimal.Zero
	for id, qty := range c.quantities {
		d := c.catalog[id]
		total = total.Add(d.Value.Mul(decimal.NewFromInt(int64(qty))))
	}
	return total
}

// Matches reports whether the counted total equals the expected amount
// exactly. There is no over- or underpayment tolerance.
func (c *CashCount) Matches(expected decimal.Decimal) bool {
	return c.Total().Equal(expected)
}

// Details renders the count as ledger wire lines, ordered by
// denomination value descending for stable payloads.
func (c *CashCount) Details() []CashDetail {
	details := make([]CashDetail, 0, len(c.quantities))
	for id, qty := range c.quantities {
		details = append(details, CashDetail{DenominationID: id, Quantity: qty})
	}
	// Map iteration order is random; sort by value so the ledger
	// payload and receipts are reproducible.
	sort.Slice(details, func(i, j int) bool {
		return c.catalog[details[i].DenominationID].Value.GreaterThan(c.catalog[details[j].DenominationID].Value)
	})
	return details
}
