package segment

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// ApplyMask 用灰度掩码给图片挖出前景：掩码亮度直接变成 alpha 通道
//
//	白色 = 不透明（前景保留），黑色 = 全透明（背景去除）
//	掩码尺寸和图片不一致时先缩放到图片尺寸
func ApplyMask(img image.Image, mask *image.Gray) (*image.NRGBA, error) {
	if img == nil || mask == nil {
		return nil, fmt.Errorf("apply mask: %w", ErrMissingImageData)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || mask.Bounds().Dx() <= 0 || mask.Bounds().Dy() <= 0 {
		return nil, fmt.Errorf("apply mask: %w", ErrMissingImageData)
	}

	w, h := b.Dx(), b.Dy()
	if mask.Bounds().Dx() != w || mask.Bounds().Dy() != h {
		scaled := resize.Resize(uint(w), uint(h), mask, resize.Lanczos3)
		mask = toGray(scaled)
	}

	out := toNRGBA(img)
	if out == img {
		// toNRGBA 可能原样返回输入，别改调用方的图
		clone := image.NewNRGBA(out.Bounds())
		copy(clone.Pix, out.Pix)
		out = clone
	}

	for y := 0; y < h; y++ {
		row := y * out.Stride
		mrow := y * mask.Stride
		for x := 0; x < w; x++ {
			out.Pix[row+x*4+3] = mask.Pix[mrow+x]
		}
	}
	return out, nil
}

// CompositeOver 把（已经抠好、带透明度的）前景叠到任意背景上，标准 source-over 混合
// 背景先缩放到前景尺寸
func CompositeOver(fg image.Image, bg image.Image) (*image.NRGBA, error) {
	if fg == nil || bg == nil {
		return nil, fmt.Errorf("composite over: %w", ErrMissingImageData)
	}
	fb, bb := fg.Bounds(), bg.Bounds()
	if fb.Dx() <= 0 || fb.Dy() <= 0 || bb.Dx() <= 0 || bb.Dy() <= 0 {
		return nil, fmt.Errorf("composite over: %w", ErrMissingImageData)
	}

	out := image.NewNRGBA(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	draw.CatmullRom.Scale(out, out.Bounds(), bg, bb, draw.Src, nil)
	draw.Draw(out, out.Bounds(), fg, fb.Min, draw.Over)
	return out, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
