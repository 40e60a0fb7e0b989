//go:build !linux

package vramprobe

// noopPSIReader is used on non-Linux platforms; PSI is a Linux-kernel
// concept with no portable equivalent.
type noopPSIReader struct{}

func newPSIReader() psiReader { return noopPSIReader{} }

func (noopPSIReader) Read() PSI { return PSI{} }
