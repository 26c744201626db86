package imageio

import (
	"fmt"
	"image"
	"image/color"
)

// TGA image type constants.
const (
	TGATypeUncompressed = 2  // Uncompressed true-color
	TGATypeRLE          = 10 // RLE compressed true-color
)

// tgaWriter stores BGR(A) pixels into an image in file order.
type tgaWriter struct {
	img         *image.NRGBA
	width       int
	height      int
	topToBottom bool
	index       int
}

func (w *tgaWriter) done() bool {
	return w.index >= w.width*w.height
}

func (w *tgaWriter) put(c color.NRGBA) {
	x := w.index % w.width
	y := w.index / w.width
	if !w.topToBottom {
		y = w.height - 1 - y
	}
	w.img.SetNRGBA(x, y, c)
	w.index++
}

func tgaPixel(data []byte, bytesPerPixel int) color.NRGBA {
	c := color.NRGBA{R: data[2], G: data[1], B: data[0], A: 255}
	if bytesPerPixel == 4 {
		c.A = data[3]
	}
	return c
}

// DecodeTGA decodes a TGA image. Uncompressed (type 2) and RLE (type 10)
// true-color images with 24 or 32 bits per pixel are supported.
func DecodeTGA(data []byte) (image.Image, error) {
	if len(data) < 18 {
		return nil, fmt.Errorf("TGA data too short")
	}

	idLength := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	width := int(data[12]) | int(data[13])<<8
	height := int(data[14]) | int(data[15])<<8
	bpp := int(data[16])
	descriptor := data[17]

	if colorMapType != 0 {
		return nil, fmt.Errorf("color-mapped TGA not supported")
	}
	if imageType != TGATypeUncompressed && imageType != TGATypeRLE {
		return nil, fmt.Errorf("unsupported TGA type %d", imageType)
	}
	if bpp != 24 && bpp != 32 {
		return nil, fmt.Errorf("unsupported TGA bit depth %d", bpp)
	}

	offset := 18 + idLength
	if offset > len(data) {
		return nil, fmt.Errorf("TGA data truncated")
	}
	pixelData := data[offset:]
	bytesPerPixel := bpp / 8

	w := &tgaWriter{
		img:         image.NewNRGBA(image.Rect(0, 0, width, height)),
		width:       width,
		height:      height,
		topToBottom: descriptor&0x20 != 0, // bit 5: origin at top
	}

	if imageType == TGATypeUncompressed {
		if len(pixelData) < width*height*bytesPerPixel {
			return nil, fmt.Errorf("TGA pixel data truncated")
		}
		for i := 0; !w.done(); i += bytesPerPixel {
			w.put(tgaPixel(pixelData[i:], bytesPerPixel))
		}
		return w.img, nil
	}

	i := 0
	for !w.done() && i < len(pixelData) {
		packet := pixelData[i]
		i++
		count := int(packet&0x7F) + 1
		if packet&0x80 != 0 {
			if i+bytesPerPixel > len(pixelData) {
				return nil, fmt.Errorf("TGA RLE packet truncated")
			}
			c := tgaPixel(pixelData[i:], bytesPerPixel)
			i += bytesPerPixel
			for k := 0; k < count && !w.done(); k++ {
				w.put(c)
			}
			continue
		}
		for k := 0; k < count && !w.done(); k++ {
			if i+bytesPerPixel > len(pixelData) {
				return nil, fmt.Errorf("TGA raw packet truncated")
			}
			w.put(tgaPixel(pixelData[i:], bytesPerPixel))
			i += bytesPerPixel
		}
	}
	return w.img, nil
}
