package segment

import (
	"fmt"
	"image"
)

// ToGrayscaleMask 把模型输出张量转换为单通道灰度掩码，亮度代表前景置信度
//
// 形状推断（只接受这几种）：
//
//	rank 2 [H, W]
//	rank 3 [1, H, W]
//	rank 4 [1, 1, H, W]
//
// normalized 为 true 时按 [0,1] 线性映射到 [0,255]（截断取整）；
// 为 false 时先 clamp 到 [0,255]，然后任何大于 0 的值都置为 255 ——
// 对 DeepLab 这类类别号输出来说就是"非背景即前景"的二值化
func ToGrayscaleMask(t *Tensor, normalized bool) (*image.Gray, error) {
	if t == nil || len(t.Data) == 0 {
		return nil, fmt.Errorf("grayscale mask: empty tensor: %w", ErrUnsupportedShape)
	}

	height, width, err := inferMaskSize(t)
	if err != nil {
		return nil, err
	}
	if len(t.Data) < width*height {
		return nil, fmt.Errorf("grayscale mask: %d elements for %dx%d: %w",
			len(t.Data), width, height, ErrUnsupportedShape)
	}

	mask := image.NewGray(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		mask.Pix[i] = mapMaskValue(t.Data[i], normalized)
	}
	return mask, nil
}

// inferMaskSize 从张量形状推导 (height, width)
func inferMaskSize(t *Tensor) (int, int, error) {
	shape := t.Shape
	switch t.Rank() {
	case 2:
		return int(shape[0]), int(shape[1]), nil
	case 3:
		if shape[0] != 1 {
			return 0, 0, fmt.Errorf("grayscale mask: shape %v: %w", shape, ErrUnsupportedShape)
		}
		return int(shape[1]), int(shape[2]), nil
	case 4:
		if shape[0] != 1 || shape[1] != 1 {
			return 0, 0, fmt.Errorf("grayscale mask: shape %v: %w", shape, ErrUnsupportedShape)
		}
		return int(shape[2]), int(shape[3]), nil
	default:
		return 0, 0, fmt.Errorf("grayscale mask: rank %d: %w", t.Rank(), ErrUnsupportedShape)
	}
}

func mapMaskValue(v float32, normalized bool) uint8 {
	if normalized {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		return uint8(v * 255)
	}

	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	// 二值化：类别号 > 0 一律算前景
	if v > 0 {
		return 255
	}
	return 0
}
