package fiscalnote

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNote() *Note {
	return &Note{
		Company: Company{Name: "Padaria Central", TaxID: "12.345.678/0001-90"},
		Items:   []Item{{Qty: 2, Name: "X", Price: 10.00}},
		Total:   20.00,
	}
}

func TestValidate_ValidNote(t *testing.T) {
	assert.NoError(t, Validate(validNote()))
}

func TestValidate_MissingCompany(t *testing.T) {
	n := validNote()
	n.Company.Name = "  "
	assert.Error(t, Validate(n))
}

func TestValidate_NoItems(t *testing.T) {
	n := validNote()
	n.Items = nil
	assert.Error(t, Validate(n))
}

func TestValidate_BadItems(t *testing.T) {
	cases := map[string]Item{
		"no name":        {Qty: 1, Price: 1},
		"zero qty":       {Name: "A", Price: 1},
		"negative price": {Name: "A", Qty: 1, Price: -1},
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			n := validNote()
			n.Items = []Item{item}
			assert.Error(t, Validate(n))
		})
	}
}

func TestValidate_Barcode(t *testing.T) {
	n := validNote()
	n.Barcode = "NF-42"
	assert.NoError(t, Validate(n))

	n.Barcode = "NF\x01"
	assert.Error(t, Validate(n))
}

func TestParse(t *testing.T) {
	data := []byte(`{"company":{"name":"Shop"},"items":[{"qty":2,"name":"X","price":10.00}],"total":20.00}`)

	note, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Shop", note.Company.Name)
	require.Len(t, note.Items, 1)
	assert.Equal(t, 2.0, note.Items[0].Qty)
	assert.Equal(t, 20.0, note.Total)

	_, err = Parse([]byte(`{"company":{"name":"Shop"},"items":[]}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	payload, err := validNote().ToPayload()
	require.NoError(t, err)
	assert.Equal(t, 20.0, payload["total"])

	note, err := FromPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "X", note.Items[0].Name)
}

func TestFromPayload_Loose(t *testing.T) {
	// the scenario payload carries no company block; decoding must still work
	note, err := FromPayload(map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"qty": 2, "name": "X", "price": 10.00}},
		"total": 20.00,
	})
	require.NoError(t, err)
	assert.Len(t, note.Items, 1)

	_, err = FromPayload(map[string]interface{}{"items": "nope"})
	assert.Error(t, err)
}

func TestLogoImage(t *testing.T) {
	n := validNote()
	img, err := n.LogoImage()
	require.NoError(t, err)
	assert.Nil(t, img)

	src := image.NewGray(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	n.Logo = base64.StdEncoding.EncodeToString(buf.Bytes())

	img, err = n.LogoImage()
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	n.Logo = "%%%"
	_, err = n.LogoImage()
	assert.Error(t, err)
}
