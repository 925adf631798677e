package util

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(2, 1, color.NRGBA{B: 200, A: 64})
	return img
}

func TestEncodeDecodePNG(t *testing.T) {
	t.Parallel()

	data, err := EncodePNG(testImage())
	require.NoError(t, err)

	got, err := DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), got.Bounds())

	_, _, _, a := got.At(2, 1).RGBA()
	assert.Equal(t, uint32(64), a>>8)
}

func TestDecodeImage_Invalid(t *testing.T) {
	t.Parallel()

	_, err := DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestSaveAndOpenImage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, SavePNG(path, testImage()))

	img, err := OpenImage(path)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, err = OpenImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadImage(t *testing.T) {
	t.Parallel()

	data, err := EncodePNG(testImage())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	img, err := DownloadImage(context.Background(), server.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dy())

	_, err = DownloadImage(context.Background(), server.URL+"/missing")
	assert.ErrorContains(t, err, "status 404")
}
