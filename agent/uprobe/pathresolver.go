package uprobe

import (
	"fmt"
	"os"
	"strings"
	"uprobedeploy/common"
)

// PathResolver translates a path as seen inside a bound process's mount
// namespace into a path reachable from the agent's own namespace. It is
// bound to one pid at a time but cheap to Rebind onto another, since the
// only per-pid state is the /proc root prefix.
//
// HostRootPrefix additionally re-roots the resolved path relative to the
// agent's own mount namespace, for the case where the agent itself runs
// inside a container and needs one more level of indirection to reach a
// target's files.
type PathResolver struct {
	pid            int
	HostRootPrefix string
}

func NewPathResolver(pid int) *PathResolver {
	return &PathResolver{pid: pid, HostRootPrefix: "/"}
}

// Rebind reuses this resolver for another pid, avoiding reconstruction.
func (r *PathResolver) Rebind(pid int) {
	r.pid = pid
}

// Resolve maps a path as seen by the bound process (e.g. one entry of
// /proc/<pid>/maps) to a path the agent can open directly. It re-roots
// through /proc/<pid>/root, which the kernel resolves correctly regardless
// of how many mount-namespace layers separate the target from the agent,
// and fails with PathUnresolvableError if that root has since vanished
// (the bound process exited between binding and resolution).
func (r *PathResolver) Resolve(path string) (string, error) {
	rooted := common.ProcPidRootPath(r.pid, "root", path)
	if _, err := os.Lstat(fmt.Sprintf("/proc/%d", r.pid)); err != nil {
		return "", common.NewPathUnresolvableError(
			fmt.Sprintf("mount namespace for pid %d unavailable: %v", r.pid, err))
	}

	resolved, err := r.resolveSymlinkChain(rooted)
	if err != nil {
		return "", common.NewPathUnresolvableError(
			fmt.Sprintf("resolve %s for pid %d: %v", path, r.pid, err))
	}

	if r.HostRootPrefix == "" || r.HostRootPrefix == "/" {
		return resolved, nil
	}
	return strings.TrimRight(r.HostRootPrefix, "/") + resolved, nil
}

// resolveSymlinkChain follows a symlink chain at the final component of path,
// up to 32 levels, re-rooting absolute link targets under /proc/<pid>/root.
// Only the final component is checked for a symlink; symlinks in
// intermediate components are left to the kernel's own path lookup and are
// not re-rooted.
func (r *PathResolver) resolveSymlinkChain(path string) (string, error) {
	const maxDepth = 32
	for depth := 0; depth < maxDepth; depth++ {
		fi, err := os.Lstat(path)
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			return path, nil
		}
		target, err := os.Readlink(path)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(target, "/") {
			path = common.ProcPidRootPath(r.pid, "root", target)
		} else {
			path = strings.TrimSuffix(path, "/"+lastComponent(path)) + "/" + target
		}
	}
	return "", fmt.Errorf("too many levels of symbolic links resolving %s", path)
}

func lastComponent(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// FindLibraryPaths looks at pid's memory-mapped files for a (libssl,
// libcrypto) pair matching one of kLibSSLMatchers, and returns both paths
// re-expressed as host-visible paths. Returns ok=false (not an error) when
// the process does not appear to link OpenSSL at all.
func FindLibraryPaths(pid int, resolver *PathResolver) (libssl, libcrypto string, ok bool, err error) {
	mapped := common.GetMapPaths(pid)
	for _, matcher := range kLibSSLMatchers {
		sslPath, sslFound := matchLibraryPath(mapped, matcher.Libssl, matcher.SearchType)
		cryptoPath, cryptoFound := matchLibraryPath(mapped, matcher.Libcrypto, matcher.SearchType)
		if !sslFound || !cryptoFound {
			continue
		}
		hostSSL, rerr := resolver.Resolve(sslPath)
		if rerr != nil {
			return "", "", false, rerr
		}
		hostCrypto, rerr := resolver.Resolve(cryptoPath)
		if rerr != nil {
			return "", "", false, rerr
		}
		return hostSSL, hostCrypto, true, nil
	}
	return "", "", false, nil
}

func matchLibraryPath(paths []string, name string, searchType HostPathForPIDPathSearchType) (string, bool) {
	for _, p := range paths {
		switch searchType {
		case kSearchTypeContains:
			if strings.Contains(p, name) {
				return p, true
			}
		case kSearchTypeEndsWith:
			if strings.HasSuffix(p, name) {
				return p, true
			}
		}
	}
	return "", false
}
