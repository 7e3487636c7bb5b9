package printer

import (
	"strconv"

	"github.com/thereceipt/print-station/internal/registry"
	"github.com/thereceipt/print-station/pkg/fiscalnote"
)

// IssuedAtLayout is how the note issue time is printed in the header
const IssuedAtLayout = "02/01/2006 15:04"

// FormatMoney renders a currency value with two decimals and a period separator
func FormatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatQty renders a quantity in its shortest form ("2", "0.5")
func FormatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EncodeReceipt assembles a complete receipt for a note. Directives the
// profile does not define are left out.
func EncodeReceipt(p registry.Profile, note *fiscalnote.Note) ([]byte, error) {
	doc := NewDocument(p)
	if err := doc.Err(); err != nil {
		return nil, err
	}

	doc.Directive(registry.DirectiveInit)
	doc.Directive(registry.DirectiveSelectCodepage)

	// Header
	doc.Directive(registry.DirectiveAlignCenter)
	if logo, err := note.LogoImage(); err != nil {
		doc.fail(configErr("decode logo", err))
	} else if logo != nil {
		doc.Image(logo)
	}

	doc.Directive(registry.DirectiveFontBold)
	doc.Line(note.Company.Name)
	doc.Directive(registry.DirectiveFontNormal)
	if note.Company.Address != "" {
		doc.Line(note.Company.Address)
	}
	if note.Company.TaxID != "" {
		doc.Line(note.Company.TaxID)
	}
	if !note.IssuedAt.IsZero() {
		doc.Line(note.IssuedAt.Format(IssuedAtLayout))
	}
	if c := note.Customer; c != nil {
		if c.Name != "" {
			doc.Line(c.Name)
		}
		if c.TaxID != "" {
			doc.Line(c.TaxID)
		}
	}
	doc.Directive(registry.DirectiveAlignLeft)
	doc.Separator()

	// Items
	for _, item := range note.Items {
		doc.Line(FormatQty(item.Qty) + "x " + item.Name + " " + FormatMoney(item.Price))
	}
	doc.Separator()

	// Total
	doc.Directive(registry.DirectiveFontBold)
	doc.Line("TOTAL " + FormatMoney(note.Total))
	doc.Directive(registry.DirectiveFontNormal)
	doc.Separator()

	// Footer
	doc.Directive(registry.DirectiveAlignCenter)
	if note.Footer != "" {
		doc.Line(note.Footer)
	}
	doc.QRCode(note.QRCode)
	doc.Barcode(note.Barcode)
	doc.Directive(registry.DirectiveAlignLeft)

	doc.Feed(3)
	doc.Directive(registry.DirectiveCut)

	return doc.Bytes()
}
