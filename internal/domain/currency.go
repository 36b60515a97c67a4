package domain

// Currency is a catalog entry mirrored from the ledger for display and
// draft validation. The catalog itself is owned remotely.
type Currency struct {
	ID       string `json:"id"`
	Code     string `json:"codigo"`
	Name     string `json:"nombre"`
	Symbol   string `json:"simbolo"`
	Decimals int    `json:"decimales"`
	Active   bool   `json:"activo"`
}
