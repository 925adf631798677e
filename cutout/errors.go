package cutout

import "errors"

var (
	ErrSegmentationFailed = errors.New("segmentation failed")
	ErrCompositingFailed  = errors.New("compositing failed")
	ErrCroppingFailed     = errors.New("cropping failed")
)

// Reason 把流水线错误映射为稳定的原因码
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSegmentationFailed):
		return "segmentation_failed"
	case errors.Is(err, ErrCompositingFailed):
		return "compositing_failed"
	case errors.Is(err, ErrCroppingFailed):
		return "cropping_failed"
	default:
		return "unknown"
	}
}
