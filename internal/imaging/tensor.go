package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ClipSize is the square input edge of the vision encoder.
const ClipSize = 224

// TensorLen is the element count of one [3, ClipSize, ClipSize] image.
const TensorLen = 3 * ClipSize * ClipSize

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ClipTensor resizes img to exactly 224x224 with bilinear filtering and
// returns it as channel-major float32 normalized with the CLIP statistics.
// Alpha is dropped first, keeping the stored colour of transparent pixels.
func ClipTensor(img image.Image) []float32 {
	rgba := image.NewRGBA(image.Rect(0, 0, ClipSize, ClipSize))
	draw.BiLinear.Scale(rgba, rgba.Bounds(), Opaque(img), img.Bounds(), draw.Src, nil)

	out := make([]float32, TensorLen)
	plane := ClipSize * ClipSize
	for y := 0; y < ClipSize; y++ {
		for x := 0; x < ClipSize; x++ {
			px := rgba.RGBAAt(x, y)
			i := y*ClipSize + x
			out[i] = (float32(px.R)/255 - clipMean[0]) / clipStd[0]
			out[plane+i] = (float32(px.G)/255 - clipMean[1]) / clipStd[1]
			out[2*plane+i] = (float32(px.B)/255 - clipMean[2]) / clipStd[2]
		}
	}
	return out
}

// Opaque returns img with its alpha channel dropped. Colour channels keep
// their straight (non-premultiplied) values, so a fully transparent white
// pixel becomes opaque white rather than black. Opaque images are returned
// as is.
func Opaque(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}

	b := img.Bounds()
	dst := image.NewNRGBA(b)
	if src, ok := img.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := src.PixOffset(b.Min.X, y)
			di := dst.PixOffset(b.Min.X, y)
			row := dst.Pix[di : di+4*b.Dx()]
			copy(row, src.Pix[si:si+4*b.Dx()])
			for i := 3; i < len(row); i += 4 {
				row[i] = 0xff
			}
		}
		return dst
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			dst.SetNRGBA(x, y, c)
		}
	}
	return dst
}
