package injector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/lk2023060901/vision-backend/internal/conf"
	"github.com/lk2023060901/vision-backend/internal/image/service"
	"github.com/lk2023060901/vision-backend/internal/pkg/database"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *conf.Config {
	t.Helper()
	cfg := conf.Default()
	cfg.Database.Driver = database.DriverMemory
	cfg.Storage.Root = t.TempDir()
	cfg.Classifier.StaticLabel = "tabby"
	cfg.Queue.Concurrency = 2
	return cfg
}

func TestInitializeApp_AsyncClassification(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer cleanup()

	handler := app.HTTPServer.Handler()

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(12, 12, color.White), imaging.PNG))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="cat.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images?classify=async", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(service.HeaderOwnerID, "7")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var uploaded struct {
		Data service.UploadResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploaded))
	assert.True(t, uploaded.Data.Queued)

	assert.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/images/%d", uploaded.Data.Image.ID), nil)
		req.Header.Set(service.HeaderOwnerID, "7")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		var got struct {
			Data service.ImageResponse `json:"data"`
		}
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &got) != nil {
			return false
		}
		return got.Data.Classification != nil && *got.Data.Classification == "tabby"
	}, 5*time.Second, 20*time.Millisecond)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInitializeApp_InvalidClassifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.Provider = "oracle"

	_, _, err := InitializeApp(cfg, logger.Nop())
	assert.Error(t, err)
}
