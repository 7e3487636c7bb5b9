// Package fiscalnote defines the note payload handed to the print core
package fiscalnote

import "time"

// Note is the printable view of a fiscal note. The print queue carries it as an
// opaque payload; only the encoder looks inside.
type Note struct {
	Number   string    `json:"number,omitempty"`
	Company  Company   `json:"company"`
	Customer *Customer `json:"customer,omitempty"`
	IssuedAt time.Time `json:"issued_at,omitempty"`
	Items    []Item    `json:"items"`
	Total    float64   `json:"total"`
	Footer   string    `json:"footer,omitempty"`

	// Optional graphics, printed only on raster-capable profiles
	Logo    string `json:"logo,omitempty"` // base64 PNG or JPEG
	QRCode  string `json:"qr_code,omitempty"`
	Barcode string `json:"barcode,omitempty"`
}

// Company is the issuer printed in the receipt header
type Company struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

// Customer is the optional buyer identification
type Customer struct {
	Name  string `json:"name,omitempty"`
	TaxID string `json:"tax_id,omitempty"`
}

// Item is a single note line
type Item struct {
	Qty   float64 `json:"qty"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}
