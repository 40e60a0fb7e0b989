//go:build linux

package vramprobe

import (
	"os"
	"strconv"
	"strings"
)

// linuxPSIReader parses /proc/pressure/{cpu,memory,io}, extracting the
// "avg10" figure from the "some" line, matching the format documented in
// the kernel's Documentation/accounting/psi.rst.
type linuxPSIReader struct{}

func newPSIReader() psiReader { return linuxPSIReader{} }

func (linuxPSIReader) Read() PSI {
	return PSI{
		CPU:    readAvg10("/proc/pressure/cpu"),
		Memory: readAvg10("/proc/pressure/memory"),
		IO:     readAvg10("/proc/pressure/io"),
	}
}

func readAvg10(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "some") {
			continue
		}
		fields := strings.Fields(line)
		for _, f := range fields {
			if v, ok := strings.CutPrefix(f, "avg10="); ok {
				parsed, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return 0
				}
				return parsed
			}
		}
	}
	return 0
}
