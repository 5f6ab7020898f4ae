package logo

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const placeholderSize = 64

var (
	placeholderOnce sync.Once
	placeholderPNG  []byte
)

// Fallback returns the placeholder shown when a station has no usable logo.
func Fallback() Image {
	placeholderOnce.Do(func() {
		placeholderPNG = renderPlaceholder()
	})
	return Image{Data: bytes.Clone(placeholderPNG), ContentType: "image/png", Source: SourceFallback}
}

// renderPlaceholder draws a grey tile with a darker screen outline.
func renderPlaceholder() []byte {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	bg := color.RGBA{R: 0xd0, G: 0xd0, B: 0xd0, A: 0xff}
	fg := color.RGBA{R: 0x70, G: 0x70, B: 0x70, A: 0xff}
	const inset = 12
	for y := 0; y < placeholderSize; y++ {
		for x := 0; x < placeholderSize; x++ {
			c := bg
			onX := x == inset || x == placeholderSize-inset-1
			onY := y == inset+4 || y == placeholderSize-inset-5
			inX := x >= inset && x <= placeholderSize-inset-1
			inY := y >= inset+4 && y <= placeholderSize-inset-5
			if (onX && inY) || (onY && inX) {
				c = fg
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic("logo: encode placeholder: " + err.Error())
	}
	return buf.Bytes()
}
