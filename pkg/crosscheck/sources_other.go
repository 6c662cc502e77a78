//go:build !linux

package crosscheck

// SampleKernel is unavailable off Linux.
func SampleKernel() (KernelSample, error) {
	return nil, ErrUnsupported
}
