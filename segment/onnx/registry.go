package onnx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	nhttp "github.com/chaos-io/segmenter/util/http"
)

// artifact 单个模型文件的来源描述
type artifact struct {
	File string `json:"file"`
	URL  string `json:"url"`
}

// manifest 模型名 → 文件/下载地址 的清单
type manifest struct {
	Models map[string]artifact `json:"models"`
}

// defaultManifest 内置清单；设置 SEGMENTER_MODEL_MANIFEST 可以换成远端 JSON
var defaultManifest = manifest{
	Models: map[string]artifact{
		"u2net": {
			File: "u2net.onnx",
			URL:  "https://github.com/danielgatis/rembg/releases/download/v0.0.0/u2net.onnx",
		},
		"deeplabv3": {
			File: "deeplabv3.onnx",
			URL:  "https://github.com/danielgatis/rembg/releases/download/v0.0.0/deeplabv3.onnx",
		},
	},
}

// ensureModel 返回模型文件的本地路径，文件不存在时先下载一次
// 同一模型重复构造不会重复下载
func ensureModel(ctx context.Context, modelDir string, model Model) (string, error) {
	m, err := loadManifest(ctx)
	if err != nil {
		return "", fmt.Errorf("load model manifest: %w", err)
	}

	art, ok := m.Models[model.String()]
	if !ok {
		return "", fmt.Errorf("model %s not in manifest", model)
	}

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	modelPath := filepath.Join(modelDir, art.File)
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	}

	slog.Info("downloading model", "model", model.String(), "url", art.URL)
	if err := downloadFile(ctx, art.URL, modelPath); err != nil {
		return "", fmt.Errorf("download model %s: %w", model, err)
	}
	return modelPath, nil
}

// loadManifest 默认用内置清单，环境变量指定了远端清单就去拉 JSON
func loadManifest(ctx context.Context) (*manifest, error) {
	url := os.Getenv("SEGMENTER_MODEL_MANIFEST")
	if url == "" {
		return &defaultManifest, nil
	}

	m := &manifest{}
	err := nhttp.NewHTTPClient().DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     http.MethodGet,
		Response:   m,
	})
	if err != nil {
		return nil, err
	}
	if len(m.Models) == 0 {
		return nil, fmt.Errorf("manifest %s has no models", url)
	}
	return m, nil
}

// downloadFile 先写临时文件，成功后再改名，避免留下半截模型
func downloadFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status code %d", resp.StatusCode)
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err = out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
