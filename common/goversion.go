package common

import (
	"debug/buildinfo"
	"debug/elf"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// GoVersion is a parsed "goX.Y[.Z]" build version, used to decide whether a
// binary predates the Go 1.17 register-based calling convention.
type GoVersion struct {
	Major int
	Minor int
	Patch int
}

var goVersionPattern = regexp.MustCompile(`^go(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseGoVersion parses a string like "go1.21.4" or "go1.17".
func ParseGoVersion(s string) (GoVersion, error) {
	m := goVersionPattern.FindStringSubmatch(s)
	if m == nil {
		return GoVersion{}, fmt.Errorf("not a go version string: %q", s)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}
	return GoVersion{Major: major, Minor: minor, Patch: patch}, nil
}

// After reports whether v is strictly later than major.minor.
func (v GoVersion) After(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor > minor
}

func (v GoVersion) String() string {
	return fmt.Sprintf("go%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsGoExecutable reports whether the ELF file at filename is a binary
// produced by the Go toolchain. It looks for the runtime.buildVersion
// symbol the way the deployment engine's Go-family detection does, falling
// back to debug/buildinfo (which reads the same build-info blob `go
// version -m` does) when the symbol table has been stripped.
func IsGoExecutable(filename string) (bool, error) {
	f, err := elf.Open(filename)
	if err != nil {
		return false, fmt.Errorf("open elf %s: %w", filename, err)
	}
	defer f.Close()

	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Name == "runtime.buildVersion" {
				return true, nil
			}
		}
	}

	if _, err := buildinfo.ReadFile(filename); err == nil {
		return true, nil
	}
	return false, nil
}

// ExtraceGoVersion extracts the Go runtime version a binary was built with.
func ExtraceGoVersion(filename string) (GoVersion, error) {
	bi, err := buildinfo.ReadFile(filename)
	if err != nil {
		return GoVersion{}, fmt.Errorf("read build info for %s: %w", filename, err)
	}
	return ParseGoVersion(bi.GoVersion)
}

// GetExecutablePathFromPid returns the target of /proc/<pid>/exe: the path
// of the executable image backing pid, as pid sees it in its own mount
// namespace. Callers needing a path the agent can open run it through
// uprobe.PathResolver.
func GetExecutablePathFromPid(pid int) (string, error) {
	link := fmt.Sprintf("/proc/%d/exe", pid)
	resolved, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	return resolved, nil
}
