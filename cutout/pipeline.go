// Package cutout 把前景掩码变成去背景（可选裁剪）的图片。
//
// 流程：掩码 → 前景判定 → alpha 合成 → 裁剪。没有明显主体时原图原样返回，
// 这是成功结果而不是错误。
package cutout

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/segment"
)

// Outcome 一次处理的结果
//
// ForegroundDetected 为 false 时 Image 就是输入图本身。
type Outcome struct {
	Image              image.Image
	ForegroundDetected bool
	Classification     Classification
	Cropped            bool
	// Bounds 裁剪矩形（输入图坐标，原点为 Bounds().Min）；未裁剪时为整图
	Bounds image.Rectangle
}

type Pipeline struct {
	factory    segment.Factory
	classifier Classifier
}

type Option func(*Pipeline)

func WithClassifier(c Classifier) Option {
	return func(p *Pipeline) {
		p.classifier = c
	}
}

// New 创建流水线。factory 每次请求调用一次，Pipeline 本身只持有不可变配置，可并发使用
func New(factory segment.Factory, opts ...Option) *Pipeline {
	p := &Pipeline{
		factory:    factory,
		classifier: DefaultClassifier(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Classifier() Classifier {
	return p.classifier
}

// Run 同步执行一次去背景。失败时返回的错误满足 errors.Is 对应的
// ErrSegmentationFailed / ErrCompositingFailed / ErrCroppingFailed，不做重试
func (p *Pipeline) Run(ctx context.Context, img image.Image, crop bool) (*Outcome, error) {
	m, err := p.requestMask(ctx, img)
	if err != nil {
		return nil, err
	}

	cls := p.classifier.Classify(m)
	if !cls.HasForeground {
		return &Outcome{
			Image:          img,
			Classification: cls,
			Bounds:         img.Bounds(),
		}, nil
	}

	composited, err := Composite(img, m)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Image:              composited,
		ForegroundDetected: true,
		Classification:     cls,
		Bounds:             img.Bounds(),
	}
	if !crop {
		return out, nil
	}

	cropped, bbox, err := Crop(composited, m, p.classifier.Threshold)
	if err != nil {
		return nil, err
	}
	out.Image = cropped
	out.Cropped = true
	out.Bounds = bbox.Add(img.Bounds().Min)
	return out, nil
}

func (p *Pipeline) requestMask(ctx context.Context, img image.Image) (m *mask.Mask, err error) {
	if img == nil {
		return nil, fmt.Errorf("%w: image is nil", ErrSegmentationFailed)
	}
	if p.factory == nil {
		return nil, fmt.Errorf("%w: no mask provider", ErrSegmentationFailed)
	}

	provider, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: create provider: %w", ErrSegmentationFailed, err)
	}
	if c, ok := provider.(io.Closer); ok {
		defer func() {
			_ = c.Close()
		}()
	}

	m, err = provider.Segment(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentationFailed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: provider returned no mask", ErrSegmentationFailed)
	}
	return m, nil
}
