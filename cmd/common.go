package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uprobedeploy/agent"
	"uprobedeploy/agent/uprobe"
	"uprobedeploy/common"

	"github.com/cilium/ebpf"
	"github.com/sevlyar/go-daemon"
	"github.com/spf13/viper"
)

// bpfObjectPath names the compiled eBPF object file holding the kernel-side
// probe programs and per-family symbol-table maps. Authoring that object's
// source is out of this engine's scope; this flag only points at an
// already-built one.
var bpfObjectPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&bpfObjectPath, "bpf-object", "", "path to the compiled uprobe object file")
}

// familyMapNames is the naming convention this engine expects the compiled
// object's maps to follow, one BPF_MAP_TYPE_HASH per family keyed by pid.
var familyMapNames = map[uprobe.Family]string{
	uprobe.FamilyOpenSSL:  "openssl_symaddrs_map",
	uprobe.FamilyGoCommon: "go_common_symaddrs_map",
	uprobe.FamilyGoTLS:    "go_tls_symaddrs_map",
	uprobe.FamilyGoHTTP2:  "go_http2_symaddrs_map",
}

func loadBackend(path string) (*uprobe.EbpfBackend, func(), error) {
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load collection spec %s: %w", path, err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, nil, fmt.Errorf("new collection %s: %w", path, err)
	}

	objs := &uprobe.UprobeObjects{
		Programs: coll.Programs,
		Maps:     make(map[uprobe.Family]*ebpf.Map),
	}
	for family, mapName := range familyMapNames {
		if m, ok := coll.Maps[mapName]; ok {
			objs.Maps[family] = m
		}
	}

	backend := uprobe.NewEbpfBackend(objs)
	return backend, coll.Close, nil
}

func startAgent() {
	initLog()
	logger.Infoln("uprobedeploy starting...")

	if viper.GetBool(common.DaemonVarName) {
		cntxt := &daemon.Context{
			PidFileName: "./uprobedeploy.pid",
			PidFilePerm: 0644,
			LogFileName: "./uprobedeploy.log",
			LogFilePerm: 0640,
			WorkDir:     "./",
			Args:        nil,
		}
		d, err := cntxt.Reborn()
		if err != nil {
			logger.Fatal("unable to daemonize: ", err)
		}
		if d != nil {
			logger.Println("uprobedeploy started in background")
			return
		}
		defer cntxt.Release()
		runAgent()
		return
	}

	runAgent()
}

func runAgent() {
	opts := agent.AgentOptions{
		HTTP2TracingEnabled: viper.GetBool(common.Http2TracingEnabledVarName),
		SelfProbingDisabled: viper.GetBool(common.SelfProbingDisabledVarName),
		RescanForDlopen:     viper.GetBool(common.RescanForDlopenVarName),
		ScanInterval:        viper.GetDuration(common.ScanIntervalVarName),
		ASID:                uint32(viper.GetInt(common.ASIDVarName)),
	}

	if has, err := agent.HasCapBPF(); err != nil || !has {
		logger.Warningf("CAP_BPF not detected (err=%v); probe attachment will likely fail", err)
	}
	if err := agent.CheckKernelSupport(); err != nil {
		logger.Warningf("kernel support check failed: %v", err)
	}

	var backend uprobe.KernelBackend
	if bpfObjectPath != "" {
		b, closeFn, err := loadBackend(bpfObjectPath)
		if err != nil {
			logger.Fatalf("load bpf object: %v", err)
		}
		defer closeFn()
		defer b.Shutdown()
		backend = b
	} else {
		logger.Warningln("no --bpf-object given; running with a no-op backend, attachments will only be logged")
		backend = uprobe.NoopBackend{}
	}

	a := agent.NewAgent(opts, backend)
	uprobe.StartMonitor(10 * time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Infof("received %v, stopping...", s)
		common.SendStopSignal()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)
}
