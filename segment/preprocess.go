package segment

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

// ToPixelBuffer 把任意输入图片重采样成 targetSize×targetSize 的 RGBA 像素缓冲
//
//	非正方形输入直接拉伸到目标尺寸（模型自己对形变不敏感）
//	输出缓冲每次新分配，调用方用完即弃
func ToPixelBuffer(img image.Image, targetSize int) (*PixelBuffer, error) {
	if img == nil {
		return nil, fmt.Errorf("to pixel buffer: %w", ErrMissingImageData)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("to pixel buffer: bounds %v: %w", b, ErrMissingImageData)
	}
	if targetSize <= 0 {
		return nil, fmt.Errorf("to pixel buffer: target size %d: %w", targetSize, ErrBufferAllocationFailed)
	}

	scaled := img
	if b.Dx() != targetSize || b.Dy() != targetSize {
		scaled = resize.Resize(uint(targetSize), uint(targetSize), img, resize.Lanczos3)
	}

	nrgba := toNRGBA(scaled)
	buf := &PixelBuffer{
		Pix:    make([]uint8, targetSize*targetSize*4),
		Width:  targetSize,
		Height: targetSize,
	}

	// NRGBA 的 Stride 可能大于 Width*4，按行拷贝
	for y := 0; y < targetSize; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+targetSize*4]
		copy(buf.Pix[y*targetSize*4:], src)
	}

	return buf, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
