package segment

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
)

// RemoteProvider asks a segmentation model server (BiRefNet and the
// like) for a mask. The image is uploaded as multipart field "image" in
// PNG form; the server answers with a PNG mask.
//
// A RemoteProvider is meant for one request. Segment may be called only
// once per provider; later calls fail.
type RemoteProvider struct {
	url     string
	cli     nhttp.IClient
	timeout time.Duration
	used    atomic.Bool
}

func NewRemoteProvider(url string, cli nhttp.IClient, timeout time.Duration) *RemoteProvider {
	return &RemoteProvider{
		url:     url,
		cli:     cli,
		timeout: timeout,
	}
}

func (r *RemoteProvider) Segment(ctx context.Context, img image.Image) (*mask.Mask, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("remote provider already used")
	}
	if img == nil {
		return nil, fmt.Errorf("image is nil")
	}

	data, err := util.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var raw []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: r.url,
		Method:     http.MethodPost,
		Header: map[string]string{
			"Content-Type": writer.FormDataContentType(),
			"Accept":       "image/png",
		},
		Body:     body,
		Response: &raw,
		Timeout:  r.timeout,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty mask response")
	}

	maskImg, err := util.DecodeImage(raw)
	if err != nil {
		return nil, fmt.Errorf("mask response: %w", err)
	}

	b := img.Bounds()
	return scaleMask(mask.FromImage(maskImg), b.Dx(), b.Dy()), nil
}
