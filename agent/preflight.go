package agent

import (
	"uprobedeploy/common"

	"golang.org/x/sys/unix"
)

// HasCapBPF is a preflight check that should run before
// attempting any attachment: without CAP_BPF (or CAP_SYS_ADMIN on older
// kernels lacking the split capability) every later uprobe Attach call
// would fail, so this is checked once at startup rather than surfaced as a
// confusing per-probe ProbeAttachFailedError.
func HasCapBPF() (bool, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false, err
	}
	// CAP_BPF is capability number 39, so it lives in the second 32-bit word.
	return data[1].Permitted&(1<<(unix.CAP_BPF-32)) != 0, nil
}

// CheckKernelSupport runs the other half of the startup
// preflight: confirming the running kernel was built with CONFIG_BPF
// before this engine bothers enumerating processes at all.
func CheckKernelSupport() error {
	enabled, err := common.IsEnableBPF()
	if err != nil {
		return err
	}
	if !enabled {
		return common.NewInvalidArgument("kernel is missing CONFIG_BPF support")
	}
	return nil
}
