// Package onnx 基于 ONNX Runtime 实现各网络结构的推理器，并提供按模型
// 枚举组装分割管线的工厂入口。
package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/segmenter/segment"
)

// Model 支持的网络结构，编译期封闭枚举，不存在运行时"未知模型"
type Model int

const (
	// U2Net 显著性分割，320×320 输入，sigmoid 概率输出
	U2Net Model = iota
	// DeepLabV3 语义分割，513×513 输入，类别号输出
	DeepLabV3
)

func (m Model) String() string {
	switch m {
	case U2Net:
		return "u2net"
	case DeepLabV3:
		return "deeplabv3"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime 全局 ONNX 环境只初始化一次，多个推理器共享
func initRuntime() error {
	runtimeOnce.Do(func() {
		if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// NewSegmenter 按模型枚举组装对应的分割管线：
// 输入尺寸、推理器、掩码解码方式三者配套，调用方不用关心差异
//
// modelDir 为模型文件目录，缺失的模型会按清单下载一次，
// ctx 约束清单拉取和下载。构造失败统一归为 segment.ErrFailedToLoadModel。
func NewSegmenter(ctx context.Context, model Model, modelDir string) (*segment.Segmenter, error) {
	switch model {
	case U2Net:
		inv, err := NewU2NetInvoker(ctx, modelDir)
		if err != nil {
			return nil, err
		}
		return segment.NewSegmenter(inv, segment.Config{
			Name:             model.String(),
			InputSize:        inv.InputSize(),
			NormalizedOutput: true,
		})
	case DeepLabV3:
		inv, err := NewDeepLabInvoker(ctx, modelDir)
		if err != nil {
			return nil, err
		}
		return segment.NewSegmenter(inv, segment.Config{
			Name:             model.String(),
			InputSize:        inv.InputSize(),
			NormalizedOutput: false,
		})
	default:
		return nil, fmt.Errorf("new segmenter: %s: %w", model, segment.ErrFailedToLoadModel)
	}
}
