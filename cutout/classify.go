package cutout

import "github.com/chaos-io/cutout/mask"

const (
	// DefaultThreshold 像素被视为前景的最低掩码值（严格大于）
	DefaultThreshold uint8 = 50
	// DefaultMinRatio 前景像素占比需严格大于该值才算有主体
	DefaultMinRatio = 0.1
)

// Classification 掩码的前景判定结果
type Classification struct {
	HasForeground    bool
	ForegroundPixels int
	TotalPixels      int
}

// Classifier 判定掩码是否包含足够大的主体，避免把空掩码或低置信度掩码
// 合成成一张几乎全透明的图
type Classifier struct {
	Threshold uint8
	MinRatio  float64
}

func DefaultClassifier() Classifier {
	return Classifier{
		Threshold: DefaultThreshold,
		MinRatio:  DefaultMinRatio,
	}
}

// Classify 统计值大于 Threshold 的像素，数量严格超过 MinRatio×总像素时认为有前景
func (c Classifier) Classify(m *mask.Mask) Classification {
	if m == nil {
		return Classification{}
	}

	total := m.Width * m.Height
	count := 0
	for _, v := range m.Pix {
		if v > c.Threshold {
			count++
		}
	}

	return Classification{
		HasForeground:    total > 0 && float64(count) > c.MinRatio*float64(total),
		ForegroundPixels: count,
		TotalPixels:      total,
	}
}
