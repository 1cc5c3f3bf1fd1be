package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient()
	assert.NotNil(t, client)

	httpClient, ok := client.(*HTTPClient)
	require.True(t, ok)
	assert.NotNil(t, httpClient.client)
	assert.Equal(t, 30*time.Second, httpClient.client.Timeout)
}

func TestHTTPClient_DoHTTPRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		requestParam *RequestParam
		setupServer  func() *httptest.Server
		wantErr      bool
		wantErrMsg   string
	}{
		{
			name: "成功的GET请求",
			requestParam: &RequestParam{
				Method:     "GET",
				RequestURI: "", // 将在测试中设置
			},
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "GET", r.Method)
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte(`{"message": "success"}`))
				}))
			},
			wantErr: false,
		},
		{
			name: "成功的POST请求带JSON body",
			requestParam: &RequestParam{
				Method:     "POST",
				RequestURI: "",
				Body:       map[string]interface{}{"key": "value"},
				Header: map[string]string{
					"Content-Type": "application/json",
				},
			},
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "POST", r.Method)
					assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

					body, err := io.ReadAll(r.Body)
					require.NoError(t, err)

					var data map[string]interface{}
					err = json.Unmarshal(body, &data)
					require.NoError(t, err)
					assert.Equal(t, "value", data["key"])

					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte(`{"received": true}`))
				}))
			},
			wantErr: false,
		},
		{
			name: "成功的POST请求带io.Reader body",
			requestParam: &RequestParam{
				Method:     "POST",
				RequestURI: "",
				Body:       strings.NewReader(`{"reader": "body"}`),
			},
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					body, err := io.ReadAll(r.Body)
					require.NoError(t, err)
					assert.Equal(t, `{"reader": "body"}`, string(body))
					assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))

					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte(`{"received": true}`))
				}))
			},
			wantErr: false,
		},
		{
			name: "服务器返回错误状态码",
			requestParam: &RequestParam{
				Method:     "GET",
				RequestURI: "",
			},
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error": "server error"}`))
				}))
			},
			wantErr:    true,
			wantErrMsg: "HTTP request failed with status 500",
		},
		{
			name: "请求超时",
			requestParam: &RequestParam{
				Method:     "GET",
				RequestURI: "",
				Timeout:    100 * time.Millisecond,
			},
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(200 * time.Millisecond)
					w.WriteHeader(http.StatusOK)
				}))
			},
			wantErr:    true,
			wantErrMsg: "context deadline exceeded",
		},
		{
			name:         "请求参数为nil",
			requestParam: nil,
			setupServer:  nil,
			wantErr:      true,
			wantErrMsg:   "request param is nil",
		},
		{
			name: "无效的URL",
			requestParam: &RequestParam{
				Method:     "GET",
				RequestURI: "://invalid-url",
			},
			setupServer: nil,
			wantErr:     true,
			wantErrMsg:  "missing protocol scheme",
		},
		{
			name: "JSON序列化失败",
			requestParam: &RequestParam{
				Method:     "POST",
				RequestURI: "http://localhost",
				Body:       make(chan int), // 不可序列化的类型
			},
			setupServer: nil,
			wantErr:     true,
			wantErrMsg:  "json: unsupported type: chan int",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.setupServer != nil {
				server := tt.setupServer()
				defer server.Close()
				if tt.requestParam != nil && tt.requestParam.RequestURI == "" {
					tt.requestParam.RequestURI = server.URL
				}
			}

			client := NewHTTPClient()
			err := client.DoHTTPRequest(context.Background(), tt.requestParam)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.wantErrMsg != "" {
					assert.Contains(t, err.Error(), tt.wantErrMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPClient_DoHTTPRequest_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result": "ok"}`))
	}))
	defer server.Close()

	client := NewHTTPClient()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := client.DoHTTPRequest(ctx, &RequestParam{
		Method:     "GET",
		RequestURI: server.URL,
		Response:   &map[string]interface{}{},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
}

func TestHTTPClient_DoHTTPRequest_ResponseUnmarshal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"models": {"u2net": {"file": "u2net.onnx"}}}`))
	}))
	defer server.Close()

	client := NewHTTPClient()

	var response map[string]map[string]map[string]string
	err := client.DoHTTPRequest(context.Background(), &RequestParam{
		Method:     "GET",
		RequestURI: server.URL,
		Response:   &response,
	})
	require.NoError(t, err)
	assert.Equal(t, "u2net.onnx", response["models"]["u2net"]["file"])
}

func TestHTTPClient_DoHTTPRequest_ErrorStatusCodes(t *testing.T) {
	t.Parallel()

	statusCodes := []int{400, 401, 403, 404, 500, 502, 503}

	for _, statusCode := range statusCodes {
		statusCode := statusCode
		t.Run(http.StatusText(statusCode), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(statusCode)
				_, _ = w.Write([]byte("Error message"))
			}))
			defer server.Close()

			client := NewHTTPClient()
			err := client.DoHTTPRequest(context.Background(), &RequestParam{
				Method:     "GET",
				RequestURI: server.URL,
			})
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "HTTP request failed with status")
			assert.Contains(t, err.Error(), "Error message")
		})
	}
}
