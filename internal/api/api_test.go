package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkoskela/imagevault-go/internal/blobstore"
	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/pipeline"
)

func testController(t *testing.T, mutate ...func(*conf.Settings)) *Controller {
	t.Helper()

	settings := &conf.Settings{}
	settings.HTTP.Listen = ":0"
	settings.Auth.JWTSecret = "test-secret"
	settings.Auth.TokenExpiry = time.Hour
	settings.Auth.BcryptCost = 4
	settings.Storage.Backend = conf.StorageBackendDisk
	settings.Storage.Disk.BaseDir = t.TempDir()
	settings.Database.Driver = conf.DatabaseDriverSQLite
	settings.Database.SQLite.Path = t.TempDir() + "/test.db"
	settings.Image.ThumbnailSize = 100
	settings.Image.JPEGQuality = 80
	settings.Image.MaxUploadBytes = 10 * 1024 * 1024
	settings.Image.OperationTimeout = 30 * time.Second
	for _, fn := range mutate {
		fn(settings)
	}

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blobstore.NewDiskStore(settings.Storage.Disk.BaseDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	p := pipeline.New(settings, store, blobs, nil)
	return New(settings, store, blobs, p, nil)
}

func doJSON(t *testing.T, c *Controller, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echoHeaderContentType, "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func registerAndLogin(t *testing.T, c *Controller, username string) string {
	t.Helper()
	rec := doJSON(t, c, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username, "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, c, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username, "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func uploadImage(t *testing.T, c *Controller, token string, filename string, data []byte) imageResponse {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
	req.Header.Set(echoHeaderContentType, writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp imageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAuthFlow(t *testing.T) {
	c := testController(t)

	token := registerAndLogin(t, c, "alice")
	assert.NotEmpty(t, token)

	// Duplicate username is a conflict.
	rec := doJSON(t, c, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "password": "other",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Wrong password is unauthorized.
	rec = doJSON(t, c, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Protected routes require a token.
	rec = doJSON(t, c, http.MethodGet, "/api/images", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, c, http.MethodGet, "/api/images", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadAndFetchImage(t *testing.T) {
	c := testController(t)
	token := registerAndLogin(t, c, "bob")

	uploaded := uploadImage(t, c, token, "photo.jpg", encodeJPEG(t, 1920, 1080))
	require.NotNil(t, uploaded.Width)
	assert.Equal(t, 1920, *uploaded.Width)

	tagNames := make([]string, 0, len(uploaded.Tags))
	for _, tag := range uploaded.Tags {
		tagNames = append(tagNames, tag.Name)
	}
	assert.Contains(t, tagNames, "high-definition")
	assert.Contains(t, tagNames, "landscape")

	rec := doJSON(t, c, http.MethodGet, fmt.Sprintf("/api/images/%d", uploaded.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got imageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "photo.jpg", got.OriginalFilename)
	assert.Len(t, got.Tags, 2)

	// The stored file and its thumbnail are both servable.
	for _, path := range []string{"file", "thumbnail"} {
		rec = doJSON(t, c, http.MethodGet, fmt.Sprintf("/api/images/%d/%s", uploaded.ID, path), token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/jpeg", rec.Header().Get(echoHeaderContentType))
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	c := testController(t)
	token := registerAndLogin(t, c, "carol")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "junk.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("not an image"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
	req.Header.Set(echoHeaderContentType, writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestBodyLimitFollowsUploadSetting(t *testing.T) {
	c := testController(t, func(s *conf.Settings) {
		s.Image.MaxUploadBytes = 16
	})
	token := registerAndLogin(t, c, "judy")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "big.jpg")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0xAB}, 4096))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
	req.Header.Set(echoHeaderContentType, writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadBatchEndpoint(t *testing.T) {
	c := testController(t)
	token := registerAndLogin(t, c, "ivan")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"one.jpg", encodeJPEG(t, 200, 100)},
		{"bad.jpg", []byte("garbage")},
		{"two.jpg", encodeJPEG(t, 100, 200)},
	} {
		part, err := writer.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images/batch", &buf)
	req.Header.Set(echoHeaderContentType, writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []batchItemResponse `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)

	// Results stay in upload order; the bad file fails alone.
	assert.Equal(t, "one.jpg", resp.Results[0].Filename)
	require.NotNil(t, resp.Results[0].Image)
	assert.Empty(t, resp.Results[0].Error)

	assert.Equal(t, "bad.jpg", resp.Results[1].Filename)
	assert.Nil(t, resp.Results[1].Image)
	assert.NotEmpty(t, resp.Results[1].Error)

	assert.Equal(t, "two.jpg", resp.Results[2].Filename)
	require.NotNil(t, resp.Results[2].Image)
}

func TestImagesAreOwnerScoped(t *testing.T) {
	c := testController(t)
	alice := registerAndLogin(t, c, "alice")
	eve := registerAndLogin(t, c, "eve")

	uploaded := uploadImage(t, c, alice, "private.jpg", encodeJPEG(t, 200, 200))

	rec := doJSON(t, c, http.MethodGet, fmt.Sprintf("/api/images/%d", uploaded.ID), eve, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, c, http.MethodGet, "/api/images", eve, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 0, listing.Total)
}

func TestCropEndpoint(t *testing.T) {
	c := testController(t)
	token := registerAndLogin(t, c, "dave")

	uploaded := uploadImage(t, c, token, "crop.jpg", encodeJPEG(t, 800, 600))

	rec := doJSON(t, c, http.MethodPost, fmt.Sprintf("/api/images/%d/crop", uploaded.ID), token, map[string]int{
		"x": 10, "y": 10, "width": 400, "height": 300,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp imageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Width)
	assert.Equal(t, 400, *resp.Width)
	assert.Equal(t, 300, *resp.Height)

	// Out-of-bounds region is a bad request.
	rec = doJSON(t, c, http.MethodPost, fmt.Sprintf("/api/images/%d/crop", uploaded.ID), token, map[string]int{
		"x": 390, "y": 0, "width": 100, "height": 100,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjustEndpoint(t *testing.T) {
	c := testController(t)
	token := registerAndLogin(t, c, "erin")

	uploaded := uploadImage(t, c, token, "adjust.jpg", encodeJPEG(t, 200, 200))

	rec := doJSON(t, c, http.MethodPost, fmt.Sprintf("/api/images/%d/adjust", uploaded.ID), token, map[string]int{
		"brightness": 130,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// All parameters omitted is a bad request.
	rec = doJSON(t, c, http.MethodPost, fmt.Sprintf("/api/images/%d/adjust", uploaded.ID), token, map[string]int{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Out-of-range value is a bad request.
	rec = doJSON(t, c, http.MethodPost, fmt.Sprintf("/api/images/%d/adjust", uploaded.ID), token, map[string]int{
		"contrast": 250,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateDescriptionAndSearch(t *testing.T) {
	c := testController(t)
	token := registerAndLogin(t, c, "frank")

	uploaded := uploadImage(t, c, token, "sunset.jpg", encodeJPEG(t, 300, 200))

	rec := doJSON(t, c, http.MethodPut, fmt.Sprintf("/api/images/%d", uploaded.ID), token, map[string]string{
		"description": "sunset over the bay",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, c, http.MethodGet, "/api/images?q=sunset", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Total)
}

func TestDeleteImage(t *testing.T) {
	c := testController(t)
	token := registerAndLogin(t, c, "grace")

	uploaded := uploadImage(t, c, token, "gone.jpg", encodeJPEG(t, 200, 200))

	rec := doJSON(t, c, http.MethodDelete, fmt.Sprintf("/api/images/%d", uploaded.ID), token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, c, http.MethodGet, fmt.Sprintf("/api/images/%d", uploaded.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTagEndpoints(t *testing.T) {
	c := testController(t)
	token := registerAndLogin(t, c, "heidi")

	uploaded := uploadImage(t, c, token, "tagged.jpg", encodeJPEG(t, 200, 300))

	// Attach a custom tag by name.
	rec := doJSON(t, c, http.MethodPost, fmt.Sprintf("/api/images/%d/tags", uploaded.ID), token, map[string]string{
		"name": "vacation",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var custom tagInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &custom))
	assert.Equal(t, datastore.TagTypeCustom, custom.Type)

	// Filter listing by that tag.
	rec = doJSON(t, c, http.MethodGet, "/api/images?tag=vacation", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Total)

	// Suggestions match by prefix.
	rec = doJSON(t, c, http.MethodGet, "/api/tags/suggest?q=vac", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vacation")

	// Auto tags cannot be deleted.
	var detail imageResponse
	rec = doJSON(t, c, http.MethodGet, fmt.Sprintf("/api/images/%d", uploaded.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	for _, tag := range detail.Tags {
		if tag.Type == datastore.TagTypeAuto {
			rec = doJSON(t, c, http.MethodDelete, fmt.Sprintf("/api/tags/%d", tag.ID), token, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			break
		}
	}

	// Custom tags can be detached and deleted.
	rec = doJSON(t, c, http.MethodDelete, fmt.Sprintf("/api/images/%d/tags/%d", uploaded.ID, custom.ID), token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, c, http.MethodDelete, fmt.Sprintf("/api/tags/%d", custom.ID), token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
