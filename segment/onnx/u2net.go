package onnx

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/segmenter/segment"
)

const u2netInputSize = 320

// ImageNet 均值/方差，U2Net 训练时的预处理
var (
	u2netMean = [3]float32{0.485, 0.456, 0.406}
	u2netStd  = [3]float32{0.229, 0.224, 0.225}
)

// U2NetInvoker 持有加载好的 U2Net 模型，输入 [1,3,320,320]，
// 取 d0 融合输出 [1,1,320,320]，过 sigmoid 后作为 [0,1] 置信度张量返回
type U2NetInvoker struct {
	mu      sync.Mutex // 输入/输出张量是预分配复用的，串行化并发调用
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewU2NetInvoker 加载 modelDir 下的 u2net 模型，缺失时先按清单下载（受 ctx 约束）
func NewU2NetInvoker(ctx context.Context, modelDir string) (*U2NetInvoker, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("u2net: init onnx runtime: %w: %w", err, segment.ErrFailedToLoadModel)
	}

	modelPath, err := ensureModel(ctx, modelDir, U2Net)
	if err != nil {
		return nil, fmt.Errorf("u2net: %w: %w", err, segment.ErrFailedToLoadModel)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, u2netInputSize, u2netInputSize))
	if err != nil {
		return nil, fmt.Errorf("u2net: create input tensor: %w: %w", err, segment.ErrFailedToLoadModel)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, u2netInputSize, u2netInputSize))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("u2net: create output tensor: %w: %w", err, segment.ErrFailedToLoadModel)
	}

	// d0 是 U2Net 各层侧输出融合后的最终显著图
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"1959"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("u2net: create session: %w: %w", err, segment.ErrFailedToLoadModel)
	}

	return &U2NetInvoker{session: session, input: input, output: output}, nil
}

func (u *U2NetInvoker) InputSize() int { return u2netInputSize }

// Infer 对像素缓冲执行一次推理，输出 [1,1,320,320] 的前景概率张量
func (u *U2NetInvoker) Infer(ctx context.Context, buf *segment.PixelBuffer) (*segment.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf == nil || buf.Width != u2netInputSize || buf.Height != u2netInputSize {
		return nil, fmt.Errorf("u2net: pixel buffer must be %dx%d", u2netInputSize, u2netInputSize)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	normalizeCHW(u.input.GetData(), buf, u2netMean, u2netStd)

	if err := u.session.Run(); err != nil {
		return nil, fmt.Errorf("u2net: inference: %w", err)
	}

	// 输出拷贝出去，张量归本次调用所有，后续调用不会覆盖它
	raw := u.output.GetData()
	data := make([]float32, len(raw))
	for i, v := range raw {
		data[i] = sigmoid(v)
	}
	return &segment.Tensor{
		Data:  data,
		Shape: []int64{1, 1, u2netInputSize, u2netInputSize},
	}, nil
}

// Close 释放会话和张量
func (u *U2NetInvoker) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session != nil {
		u.session.Destroy()
		u.session = nil
	}
	if u.input != nil {
		u.input.Destroy()
		u.input = nil
	}
	if u.output != nil {
		u.output.Destroy()
		u.output = nil
	}
	return nil
}

func sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-v))))
}

// normalizeCHW 把 RGBA 交错像素展开成减均值除方差后的 CHW float32 布局
func normalizeCHW(dst []float32, buf *segment.PixelBuffer, mean, std [3]float32) {
	w, h := buf.Width, buf.Height
	plane := w * h
	for y := 0; y < h; y++ {
		row := y * w * 4
		for x := 0; x < w; x++ {
			base := row + x*4
			i := y*w + x
			dst[i] = (float32(buf.Pix[base])/255.0 - mean[0]) / std[0]
			dst[plane+i] = (float32(buf.Pix[base+1])/255.0 - mean[1]) / std[1]
			dst[2*plane+i] = (float32(buf.Pix[base+2])/255.0 - mean[2]) / std[2]
		}
	}
}
