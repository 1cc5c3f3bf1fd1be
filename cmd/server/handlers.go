package main

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/segmenter/segment"
	"github.com/chaos-io/segmenter/util"
)

type server struct {
	segmenters map[string]*segment.Segmenter
	outputDir  string
}

func (s *server) health(c *gin.Context) {
	models := make([]string, 0, len(s.segmenters))
	for name := range s.segmenters {
		models = append(models, name)
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "models": models})
}

// segmentImage 返回前景掩码 PNG
func (s *server) segmentImage(c *gin.Context) {
	seg, img, ok := s.parseRequest(c)
	if !ok {
		return
	}

	mask, err := seg.Segment(c.Request.Context(), img)
	if err != nil {
		s.processError(c, err)
		return
	}
	s.writePNG(c, "mask", mask)
}

// removeBackground 返回背景透明的抠图 PNG
func (s *server) removeBackground(c *gin.Context) {
	seg, img, ok := s.parseRequest(c)
	if !ok {
		return
	}

	out, err := seg.RemoveBackground(c.Request.Context(), img)
	if err != nil {
		s.processError(c, err)
		return
	}
	s.writePNG(c, "cutout", out)
}

// replaceBackground 返回换好背景的合成图 PNG
// 新背景来自 background 文件字段或 background_url 表单字段
func (s *server) replaceBackground(c *gin.Context) {
	seg, img, ok := s.parseRequest(c)
	if !ok {
		return
	}

	var bg image.Image
	if _, err := c.FormFile("background"); err == nil {
		bg = decodeUpload(c, "background")
		if bg == nil {
			return
		}
	} else if url := c.PostForm("background_url"); url != "" {
		var derr error
		bg, derr = util.DownloadImage(url)
		if derr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to fetch background_url"})
			return
		}
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "background file or background_url is required"})
		return
	}

	out, err := seg.ReplaceBackground(c.Request.Context(), img, bg)
	if err != nil {
		s.processError(c, err)
		return
	}
	s.writePNG(c, "composite", out)
}

// parseRequest 取 model 参数对应的分割器和上传的 image 文件
func (s *server) parseRequest(c *gin.Context) (*segment.Segmenter, image.Image, bool) {
	name := c.DefaultQuery("model", "u2net")
	seg, ok := s.segmenters[name]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model not loaded: " + name})
		return nil, nil, false
	}

	img := decodeUpload(c, "image")
	if img == nil {
		return nil, nil, false
	}
	return seg, img, true
}

// decodeUpload 解码上传的图片文件，失败时直接写 400 响应并返回 nil
func decodeUpload(c *gin.Context, field string) image.Image {
	file, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " file is required"})
		return nil
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open upload"})
		return nil
	}
	defer func() {
		_ = f.Close()
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image, supported: JPEG, PNG"})
		return nil
	}
	return img
}

// processError 区分输入问题和推理失败
func (s *server) processError(c *gin.Context, err error) {
	slog.Error("process image", "error", err)
	if errors.Is(err, segment.ErrMissingImageData) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image has no decodable pixel data"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process image"})
}

// writePNG 结果直接响应给调用方，同时落盘一份（由 cron 定期清理）
func (s *server) writePNG(c *gin.Context, kind string, img image.Image) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode result"})
		return
	}

	id := ksuid.New().String()
	path := filepath.Join(s.outputDir, id+"_"+kind+".png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		slog.Warn("persist result", "path", path, "error", err)
	}

	c.Header("X-Request-ID", id)
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
