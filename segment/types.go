package segment

import (
	"context"
	"errors"
	"image"
)

// 错误分类：构造期失败 vs 单次调用失败，低层错误在边界处用 %w 包装上去
var (
	// ErrFailedToLoadModel 模型加载失败（缺失/损坏/运行时不兼容），该实例不可用
	ErrFailedToLoadModel = errors.New("failed to load model")

	// ErrFailedToProcessImage 单次推理调用失败，换一张图可以重试
	ErrFailedToProcessImage = errors.New("failed to process image")

	// ErrMissingImageData 输入图片没有可解码的像素数据
	ErrMissingImageData = errors.New("missing image data")

	// ErrBufferAllocationFailed 请求的尺寸/格式无法分配像素缓冲
	ErrBufferAllocationFailed = errors.New("pixel buffer allocation failed")

	// ErrUnsupportedShape 张量 rank 或前导维度不符合 [H,W] / [1,H,W] / [1,1,H,W]
	ErrUnsupportedShape = errors.New("unsupported tensor shape")
)

// PixelBuffer 固定尺寸、32 位 RGBA 交错格式的原始像素缓冲，作为模型输入
// 每次调用新建一个，推理消费后即丢弃，不做池化
type PixelBuffer struct {
	Pix    []uint8 // RGBA 交错，长度 = Width*Height*4
	Width  int
	Height int
}

// Image 把像素缓冲还原为可显示的图片，对合法缓冲总是成功
func (p *PixelBuffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	copy(img.Pix, p.Pix)
	return img
}

// Tensor 模型输出的多维数组，Shape 例如 [1, 1, 320, 320]
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Rank 返回张量的维度数
func (t *Tensor) Rank() int { return len(t.Shape) }

// Invoker 单个网络结构的推理入口：固定输入尺寸的像素缓冲进，输出张量出
// 加载好的模型只读，顺序复用安全；实现自己保证并发调用不会互相污染
type Invoker interface {
	// InputSize 模型要求的正方形输入边长（像素）
	InputSize() int

	// Infer 对像素缓冲执行一次推理，缓冲尺寸必须等于 InputSize
	Infer(ctx context.Context, buf *PixelBuffer) (*Tensor, error)

	// Close 释放模型资源
	Close() error
}
