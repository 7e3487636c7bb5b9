package printer

import (
	"bytes"
	"fmt"
	"image"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"
)

const barcodeHeight = 80

// QRCode prints content as a QR code on raster-capable profiles
func (d *Document) QRCode(content string) {
	if content == "" || !d.profile.Raster {
		return
	}

	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		d.fail(fmt.Errorf("failed to encode QR code: %w", err))
		return
	}

	size := d.profile.PrintableDots() / 2
	d.Image(code.Image(size))
}

// Barcode prints content as a Code 128 barcode on raster-capable profiles
func (d *Document) Barcode(content string) {
	if content == "" || !d.profile.Raster {
		return
	}

	code, err := code128.Encode(content)
	if err != nil {
		d.fail(fmt.Errorf("failed to encode barcode: %w", err))
		return
	}

	width := code.Bounds().Dx()
	scale := d.profile.PrintableDots() / width
	if scale < 1 {
		scale = 1
	}
	if scale > 3 {
		scale = 3
	}

	scaled, err := barcode.Scale(code, width*scale, barcodeHeight)
	if err != nil {
		d.fail(fmt.Errorf("failed to scale barcode: %w", err))
		return
	}
	d.Image(scaled)
}

// rasterize converts an image to a GS v 0 raster command, scaling it down to
// maxDots when it is wider than the printable area
func rasterize(img image.Image, maxDots int) []byte {
	if maxDots > 0 && img.Bounds().Dx() > maxDots {
		img = imaging.Resize(img, maxDots, 0, imaging.NearestNeighbor)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	bytesPerLine := (width + 7) / 8

	buf := new(bytes.Buffer)
	// GS v 0 m xL xH yL yH d1...dk
	buf.WriteByte(GS)
	buf.WriteByte('v')
	buf.WriteByte('0')
	buf.WriteByte(0) // normal density
	buf.WriteByte(byte(bytesPerLine & 0xFF))
	buf.WriteByte(byte((bytesPerLine >> 8) & 0xFF))
	buf.WriteByte(byte(height & 0xFF))
	buf.WriteByte(byte((height >> 8) & 0xFF))
	buf.Write(imageToBitmap(img))

	return buf.Bytes()
}

// imageToBitmap converts an image to a 1-bit bitmap, one bit per dot, MSB first
func imageToBitmap(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bytesPerLine := (width + 7) / 8
	bitmap := make([]byte, bytesPerLine*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			// Transparent pixels stay white
			if a < 0x8000 {
				continue
			}

			gray := (r + g + b) / 3

			// Threshold at 50% (32768 out of 65535)
			if gray < 32768 {
				byteIndex := y*bytesPerLine + x/8
				bitIndex := 7 - (x % 8)
				bitmap[byteIndex] |= 1 << bitIndex
			}
		}
	}

	return bitmap
}
