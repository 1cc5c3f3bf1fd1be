package segment

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/nfnt/resize"
)

// Config 单个网络结构的管线配置
type Config struct {
	// Name 结构名，仅用于日志
	Name string

	// InputSize 模型输入边长，必须和 Invoker.InputSize 一致
	InputSize int

	// NormalizedOutput 模型输出是否为 [0,1] 置信度
	// true: U2Net 这类 sigmoid 概率输出；false: DeepLab 这类类别号输出
	NormalizedOutput bool
}

// Segmenter 把像素转换、模型推理、掩码解码、合成串成一条"分割这张图"的管线
// 模型只读，顺序复用安全；每次调用各自分配像素缓冲，互不干扰
type Segmenter struct {
	invoker Invoker
	cfg     Config
}

// NewSegmenter 用给定的推理器和配置组装分割管线
func NewSegmenter(invoker Invoker, cfg Config) (*Segmenter, error) {
	if invoker == nil {
		return nil, fmt.Errorf("new segmenter: nil invoker: %w", ErrFailedToLoadModel)
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = invoker.InputSize()
	}
	if cfg.InputSize != invoker.InputSize() {
		return nil, fmt.Errorf("new segmenter: input size %d != invoker %d: %w",
			cfg.InputSize, invoker.InputSize(), ErrFailedToLoadModel)
	}
	return &Segmenter{invoker: invoker, cfg: cfg}, nil
}

// Segment 对图片执行一次分割，返回和原图同尺寸的前景掩码
func (s *Segmenter) Segment(ctx context.Context, img image.Image) (*image.Gray, error) {
	mask, err := s.rawMask(ctx, img)
	if err != nil {
		return nil, err
	}

	// 掩码放大回原图尺寸，方便调用方直接使用
	b := img.Bounds()
	if mask.Bounds().Dx() != b.Dx() || mask.Bounds().Dy() != b.Dy() {
		scaled, err := resizeMask(mask, b.Dx(), b.Dy())
		if err != nil {
			return nil, fmt.Errorf("%s: resize mask: %w: %w", s.cfg.Name, err, ErrFailedToProcessImage)
		}
		mask = scaled
	}
	return mask, nil
}

// RemoveBackground 去背景：分割出掩码后直接套在原图上，背景变全透明
func (s *Segmenter) RemoveBackground(ctx context.Context, img image.Image) (image.Image, error) {
	mask, err := s.rawMask(ctx, img)
	if err != nil {
		return nil, err
	}
	out, err := ApplyMask(img, mask)
	if err != nil {
		return nil, fmt.Errorf("%s: apply mask: %w: %w", s.cfg.Name, err, ErrFailedToProcessImage)
	}
	return out, nil
}

// ReplaceBackground 换背景：先抠前景，再 source-over 叠到新背景上
func (s *Segmenter) ReplaceBackground(ctx context.Context, img, background image.Image) (image.Image, error) {
	fg, err := s.RemoveBackground(ctx, img)
	if err != nil {
		return nil, err
	}
	out, err := CompositeOver(fg, background)
	if err != nil {
		return nil, fmt.Errorf("%s: composite: %w: %w", s.cfg.Name, err, ErrFailedToProcessImage)
	}
	return out, nil
}

// Close 释放底层模型
func (s *Segmenter) Close() error {
	return s.invoker.Close()
}

// rawMask 转换 → 推理 → 解码，输出模型分辨率的掩码
// 任何一步失败都中止本次调用，不重试，不返回半成品
func (s *Segmenter) rawMask(ctx context.Context, img image.Image) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", s.cfg.Name, err, ErrFailedToProcessImage)
	}

	buf, err := ToPixelBuffer(img, s.cfg.InputSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", s.cfg.Name, err, ErrFailedToProcessImage)
	}

	tensor, err := s.invoker.Infer(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("%s: infer: %w: %w", s.cfg.Name, err, ErrFailedToProcessImage)
	}

	mask, err := ToGrayscaleMask(tensor, s.cfg.NormalizedOutput)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", s.cfg.Name, err, ErrFailedToProcessImage)
	}

	slog.Debug("segmented image",
		"model", s.cfg.Name,
		"input", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
		"mask", fmt.Sprintf("%dx%d", mask.Bounds().Dx(), mask.Bounds().Dy()))
	return mask, nil
}

func resizeMask(mask *image.Gray, w, h int) (*image.Gray, error) {
	if w <= 0 || h <= 0 {
		return nil, ErrMissingImageData
	}
	return toGray(resize.Resize(uint(w), uint(h), mask, resize.Lanczos3)), nil
}
