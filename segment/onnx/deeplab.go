package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/segmenter/segment"
)

const (
	deeplabInputSize = 513
	deeplabClasses   = 21 // PASCAL VOC：背景 + 20 类
)

var (
	deeplabMean = [3]float32{0.485, 0.456, 0.406}
	deeplabStd  = [3]float32{0.229, 0.224, 0.225}
)

// DeepLabInvoker 持有加载好的 DeepLabV3 模型，输入 [1,3,513,513]，
// 模型输出 [1,21,513,513] 的各类别 logits，这里按通道 argmax 成
// [1,513,513] 的类别号图再返回，类别 0 是背景
type DeepLabInvoker struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewDeepLabInvoker 加载 modelDir 下的 deeplabv3 模型，缺失时先按清单下载（受 ctx 约束）
func NewDeepLabInvoker(ctx context.Context, modelDir string) (*DeepLabInvoker, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("deeplabv3: init onnx runtime: %w: %w", err, segment.ErrFailedToLoadModel)
	}

	modelPath, err := ensureModel(ctx, modelDir, DeepLabV3)
	if err != nil {
		return nil, fmt.Errorf("deeplabv3: %w: %w", err, segment.ErrFailedToLoadModel)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, deeplabInputSize, deeplabInputSize))
	if err != nil {
		return nil, fmt.Errorf("deeplabv3: create input tensor: %w: %w", err, segment.ErrFailedToLoadModel)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, deeplabClasses, deeplabInputSize, deeplabInputSize))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("deeplabv3: create output tensor: %w: %w", err, segment.ErrFailedToLoadModel)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("deeplabv3: create session: %w: %w", err, segment.ErrFailedToLoadModel)
	}

	return &DeepLabInvoker{session: session, input: input, output: output}, nil
}

func (d *DeepLabInvoker) InputSize() int { return deeplabInputSize }

// Infer 对像素缓冲执行一次推理，输出 [1,513,513] 的类别号张量
func (d *DeepLabInvoker) Infer(ctx context.Context, buf *segment.PixelBuffer) (*segment.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf == nil || buf.Width != deeplabInputSize || buf.Height != deeplabInputSize {
		return nil, fmt.Errorf("deeplabv3: pixel buffer must be %dx%d", deeplabInputSize, deeplabInputSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	normalizeCHW(d.input.GetData(), buf, deeplabMean, deeplabStd)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("deeplabv3: inference: %w", err)
	}

	// 逐像素取 logits 最大的类别号
	logits := d.output.GetData()
	plane := deeplabInputSize * deeplabInputSize
	data := make([]float32, plane)
	for i := 0; i < plane; i++ {
		best, bestVal := 0, logits[i]
		for c := 1; c < deeplabClasses; c++ {
			if v := logits[c*plane+i]; v > bestVal {
				best, bestVal = c, v
			}
		}
		data[i] = float32(best)
	}
	return &segment.Tensor{
		Data:  data,
		Shape: []int64{1, deeplabInputSize, deeplabInputSize},
	}, nil
}

// Close 释放会话和张量
func (d *DeepLabInvoker) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	return nil
}
