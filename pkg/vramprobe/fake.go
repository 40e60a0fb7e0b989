package vramprobe

import "context"

// Fake is a SystemMemoryInfo implementation for tests that returns a fixed
// Reading regardless of the host.
type Fake struct {
	Reading Reading
	Err     error
}

// Read implements SystemMemoryInfo.
func (f *Fake) Read(ctx context.Context) (Reading, error) {
	return f.Reading, f.Err
}
