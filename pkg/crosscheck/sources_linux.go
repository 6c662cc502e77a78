//go:build linux

package crosscheck

// SampleKernel reads the kernel's idle counters for every CPU.
func SampleKernel() (KernelSample, error) {
	return sampleFrom("/proc/stat", "/sys/devices/system/cpu")
}
