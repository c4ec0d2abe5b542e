package classifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var pngInput = biz.ClassifyInput{
	Name: "0b9d3c8e.png",
	MIME: "image/png",
	Data: []byte("\x89PNG\r\n\x1a\nfake"),
}

func writeLabels(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"static", Config{Provider: ProviderStatic, StaticLabel: "cat"}, false},
		{"static without label", Config{Provider: ProviderStatic}, true},
		{"http", Config{Provider: ProviderHTTP, Endpoint: "http://model/predict", LabelPath: "label"}, false},
		{"http without endpoint", Config{Provider: ProviderHTTP, LabelPath: "label"}, true},
		{"http without paths", Config{Provider: ProviderHTTP, Endpoint: "http://model/predict"}, true},
		{"openai", Config{Provider: ProviderOpenAI, APIKey: "sk-test"}, false},
		{"openai without key", Config{Provider: ProviderOpenAI}, true},
		{"unknown provider", Config{Provider: "onnx"}, true},
		{"negative timeout", Config{Provider: ProviderStatic, StaticLabel: "cat", Timeout: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestNew_SelectsProvider(t *testing.T) {
	c, err := New(&Config{Provider: ProviderStatic, StaticLabel: "cat"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &StaticClassifier{}, c)

	c, err = New(&Config{Provider: ProviderHTTP, Endpoint: "http://model/predict", LabelPath: "label"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &HTTPClassifier{}, c)

	c, err = New(&Config{Provider: ProviderOpenAI, APIKey: "sk-test"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClassifier{}, c)

	_, err = New(&Config{Provider: ProviderStatic, StaticLabel: "cat", LabelsFile: "/does/not/exist"}, logger.Nop())
	assert.Error(t, err)
}

func TestStaticClassifier(t *testing.T) {
	c := NewStaticClassifier("cat")

	label, err := c.Predict(context.Background(), pngInput)
	require.NoError(t, err)
	assert.Equal(t, "cat", label)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Predict(ctx, pngInput)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadLabels(t *testing.T) {
	labels, err := LoadLabels(writeLabels(t, "tench", "", "goldfish"))
	require.NoError(t, err)
	require.Len(t, labels, 3)

	label, err := labels.Lookup(2)
	require.NoError(t, err)
	assert.Equal(t, "goldfish", label)

	_, err = labels.Lookup(1)
	assert.Error(t, err, "blank lines have no label")
	_, err = labels.Lookup(3)
	assert.Error(t, err)
	_, err = labels.Lookup(-1)
	assert.Error(t, err)

	_, err = LoadLabels(writeLabels(t))
	assert.Error(t, err)
	_, err = LoadLabels(writeLabels(t, "", "  ", ""))
	assert.Error(t, err, "only blank lines")
}

func TestHTTPClassifier_Predict(t *testing.T) {
	labels := Labels{"tench", "goldfish", "tabby cat"}

	tests := []struct {
		name      string
		body      string
		status    int
		labelPath string
		indexPath string
		want      string
		wantErr   bool
	}{
		{name: "label field", body: `{"label":"cat","score":0.93}`, labelPath: "label", want: "cat"},
		{name: "nested label", body: `{"predictions":[{"label":"dog"}]}`, labelPath: "predictions.0.label", want: "dog"},
		{name: "class index", body: `{"class_index":2}`, labelPath: "label", indexPath: "class_index", want: "tabby cat"},
		{name: "score array argmax", body: `{"logits":[0.1,3.2,0.7]}`, indexPath: "logits", want: "goldfish"},
		{name: "index out of range", body: `{"class_index":7}`, indexPath: "class_index", wantErr: true},
		{name: "no label", body: `{"other":true}`, labelPath: "label", wantErr: true},
		{name: "non-numeric index", body: `{"class_index":"two"}`, indexPath: "class_index", wantErr: true},
		{name: "server error", body: `model crashed`, status: http.StatusInternalServerError, labelPath: "label", wantErr: true},
		{name: "invalid json", body: `{"label":`, labelPath: "label", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				body, _ := io.ReadAll(r.Body)
				assert.Equal(t, pngInput.Data, body)

				status := tt.status
				if status == 0 {
					status = http.StatusOK
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, err := NewHTTPClassifier(&HTTPClassifierConfig{
				Endpoint:  server.URL + "/predict",
				APIKey:    "secret",
				LabelPath: tt.labelPath,
				IndexPath: tt.indexPath,
				Labels:    labels,
			}, logger.Nop())
			require.NoError(t, err)

			label, err := c.Predict(context.Background(), pngInput)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, label)
		})
	}
}

func TestHTTPClassifier_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewHTTPClassifier(&HTTPClassifierConfig{Endpoint: server.URL, LabelPath: "label"}, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Predict(ctx, pngInput)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPClassifier_IndexNeedsLabels(t *testing.T) {
	_, err := NewHTTPClassifier(&HTTPClassifierConfig{Endpoint: "http://model", IndexPath: "class_index"}, logger.Nop())
	assert.Error(t, err)
}

func chatServer(t *testing.T, answer string, inspect func(body gjson.Result)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		if inspect != nil {
			inspect(gjson.ParseBytes(body))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": ` + answer + `}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 90, "completion_tokens": 2, "total_tokens": 92}
		}`))
	}))
}

func TestOpenAIClassifier_Predict(t *testing.T) {
	server := chatServer(t, `"Cat.\n"`, func(body gjson.Result) {
		assert.Equal(t, "gpt-4o-mini", body.Get("model").String())
		url := body.Get("messages.1.content.0.image_url.url").String()
		assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"), url)
	})
	defer server.Close()

	c, err := NewOpenAIClassifier(&OpenAIClassifierConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"}, logger.Nop())
	require.NoError(t, err)

	label, err := c.Predict(context.Background(), pngInput)
	require.NoError(t, err)
	assert.Equal(t, "cat", label)
}

func TestOpenAIClassifier_ClosedLabelSet(t *testing.T) {
	labels := Labels{"Tabby Cat", "Golden Retriever"}

	server := chatServer(t, `"tabby cat"`, func(body gjson.Result) {
		assert.Contains(t, body.Get("messages.0.content").String(), "Tabby Cat, Golden Retriever")
	})
	defer server.Close()

	c, err := NewOpenAIClassifier(&OpenAIClassifierConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1", Labels: labels}, logger.Nop())
	require.NoError(t, err)

	label, err := c.Predict(context.Background(), pngInput)
	require.NoError(t, err)
	assert.Equal(t, "Tabby Cat", label)

	unknown := chatServer(t, `"a toaster"`, nil)
	defer unknown.Close()

	c, err = NewOpenAIClassifier(&OpenAIClassifierConfig{APIKey: "sk-test", BaseURL: unknown.URL + "/v1", Labels: labels}, logger.Nop())
	require.NoError(t, err)
	_, err = c.Predict(context.Background(), pngInput)
	assert.Error(t, err)
}

func TestOpenAIClassifier_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewOpenAIClassifier(&OpenAIClassifierConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
		Timeout: 50 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Predict(context.Background(), pngInput)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNormalizeAnswer(t *testing.T) {
	assert.Equal(t, "cat", normalizeAnswer("  Cat.  "))
	assert.Equal(t, "tabby cat", normalizeAnswer("\"Tabby cat\"\nIt is sitting."))
	assert.Equal(t, "", normalizeAnswer("   "))
}
