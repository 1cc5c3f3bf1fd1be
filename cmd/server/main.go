package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/chaos-io/segmenter/segment"
	"github.com/chaos-io/segmenter/segment/onnx"
)

func main() {
	var (
		modelDir  = flag.String("model-dir", "./models", "模型文件目录")
		outputDir = flag.String("output", "./output", "结果落盘目录")
		models    = flag.String("models", "u2net", "启动时加载的模型，逗号分隔：u2net,deeplabv3")
		retention = flag.Duration("retention", 24*time.Hour, "落盘结果保留时长")
	)
	flag.Parse()

	if err := os.MkdirAll(*outputDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create output dir: %v", err)
	}

	segmenters := map[string]*segment.Segmenter{}
	for _, name := range strings.Split(*models, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		model, ok := map[string]onnx.Model{
			"u2net":     onnx.U2Net,
			"deeplabv3": onnx.DeepLabV3,
		}[name]
		if !ok {
			log.Fatalf("Unknown model %q", name)
		}

		seg, err := onnx.NewSegmenter(context.Background(), model, *modelDir)
		if err != nil {
			log.Fatalf("Failed to load model %s: %v", name, err)
		}
		defer func() {
			_ = seg.Close()
		}()
		segmenters[name] = seg
		slog.Info("model loaded", "model", name)
	}
	if len(segmenters) == 0 {
		log.Fatal("No models loaded")
	}

	// 定时清理过期的落盘结果
	c := cron.New()
	_, err := c.AddFunc("*/30 * * * *", func() {
		cleanupOutput(*outputDir, *retention)
	})
	if err != nil {
		log.Fatalf("Failed to schedule cleanup: %v", err)
	}
	c.Start()
	defer c.Stop()

	srv := &server{segmenters: segmenters, outputDir: *outputDir}

	r := gin.Default()
	r.GET("/health", srv.health)
	v1 := r.Group("/api/v1")
	{
		v1.POST("/segment", srv.segmentImage)
		v1.POST("/rembg", srv.removeBackground)
		v1.POST("/replace", srv.replaceBackground)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	slog.Info("server starting", "port", port, "models", *models)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// cleanupOutput 删除超过保留时长的结果文件
func cleanupOutput(dir string, retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("cleanup: read output dir", "error", err)
		return
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			slog.Warn("cleanup: remove file", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("cleaned up stale results", "removed", removed)
	}
}
