package onnx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_String(t *testing.T) {
	assert.Equal(t, "u2net", U2Net.String())
	assert.Equal(t, "deeplabv3", DeepLabV3.String())
}

func TestEnsureModel_DownloadsOnce(t *testing.T) {
	downloads := 0
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("fake onnx bytes"))
	}))
	defer fileServer.Close()

	manifestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"models": {"u2net": {"file": "u2net.onnx", "url": "` + fileServer.URL + `"}}}`))
	}))
	defer manifestServer.Close()

	t.Setenv("SEGMENTER_MODEL_MANIFEST", manifestServer.URL)
	modelDir := t.TempDir()

	path, err := ensureModel(context.Background(), modelDir, U2Net)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(modelDir, "u2net.onnx"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fake onnx bytes", string(data))

	// 文件已存在，第二次不再下载
	_, err = ensureModel(context.Background(), modelDir, U2Net)
	require.NoError(t, err)
	assert.Equal(t, 1, downloads)
}

func TestEnsureModel_ModelNotInManifest(t *testing.T) {
	manifestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"models": {"u2net": {"file": "u2net.onnx", "url": "http://localhost/u2net.onnx"}}}`))
	}))
	defer manifestServer.Close()

	t.Setenv("SEGMENTER_MODEL_MANIFEST", manifestServer.URL)

	_, err := ensureModel(context.Background(), t.TempDir(), DeepLabV3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in manifest")
}

func TestEnsureModel_DownloadFailure(t *testing.T) {
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer fileServer.Close()

	manifestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"models": {"u2net": {"file": "u2net.onnx", "url": "` + fileServer.URL + `"}}}`))
	}))
	defer manifestServer.Close()

	t.Setenv("SEGMENTER_MODEL_MANIFEST", manifestServer.URL)
	modelDir := t.TempDir()

	_, err := ensureModel(context.Background(), modelDir, U2Net)
	require.Error(t, err)

	// 失败不能留下半截文件
	_, statErr := os.Stat(filepath.Join(modelDir, "u2net.onnx"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(modelDir, "u2net.onnx.part"))
	assert.True(t, os.IsNotExist(statErr))
}

// 构造方传进来的 ctx 要能掐断首次下载
func TestEnsureModel_ContextCanceled(t *testing.T) {
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("fake onnx bytes"))
	}))
	defer fileServer.Close()

	manifestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"models": {"u2net": {"file": "u2net.onnx", "url": "` + fileServer.URL + `"}}}`))
	}))
	defer manifestServer.Close()

	t.Setenv("SEGMENTER_MODEL_MANIFEST", manifestServer.URL)
	modelDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ensureModel(ctx, modelDir, U2Net)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(filepath.Join(modelDir, "u2net.onnx"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadManifest_Default(t *testing.T) {
	t.Setenv("SEGMENTER_MODEL_MANIFEST", "")

	m, err := loadManifest(context.Background())
	require.NoError(t, err)
	assert.Contains(t, m.Models, "u2net")
	assert.Contains(t, m.Models, "deeplabv3")
}
