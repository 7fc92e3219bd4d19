package uprobe

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticSymbol is one function symbol to place in a buildSyntheticElfMulti
// binary: its name and code; its offset from the binary's base text address
// is derived from its position in the slice passed to that helper.
type syntheticSymbol struct {
	name string
	code []byte
}

// buildSyntheticElfMulti is buildSyntheticElf generalized to more than one
// function symbol, packed back-to-back in one .text section, for tests that
// need to exercise more than one ProbeTemplate's SymbolName against the same
// binary (independent per-family gating, multi-template attach counts).
func buildSyntheticElfMulti(t *testing.T, baseAddr uint64, syms []syntheticSymbol) string {
	t.Helper()

	const (
		ehdrSize = 64
		shdrSize = 64
		symSize  = 24
	)

	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")
	nameOff := func(name string) uint32 {
		idx := indexOfNulSep(shstrtab, name)
		if idx < 0 {
			t.Fatalf("name %q not in shstrtab", name)
		}
		return uint32(idx)
	}

	strtab := []byte{0}
	strtabOffsets := make([]uint32, len(syms))
	for i, s := range syms {
		strtabOffsets[i] = uint32(len(strtab))
		strtab = append(strtab, append([]byte(s.name), 0)...)
	}

	var text []byte
	addrs := make([]uint64, len(syms))
	for i, s := range syms {
		addrs[i] = baseAddr + uint64(len(text))
		text = append(text, s.code...)
	}

	textOff := uint64(ehdrSize)
	textSize := uint64(len(text))

	strtabOff := textOff + textSize
	strtabSize := uint64(len(strtab))

	symtabBytes := make([]byte, symSize) // null entry
	for i, s := range syms {
		sym := make([]byte, symSize)
		binary.LittleEndian.PutUint32(sym[0:4], strtabOffsets[i])
		sym[4] = 0x12 // STT_FUNC | STB_GLOBAL<<4
		binary.LittleEndian.PutUint16(sym[6:8], 1)
		binary.LittleEndian.PutUint64(sym[8:16], addrs[i])
		binary.LittleEndian.PutUint64(sym[16:24], uint64(len(s.code)))
		symtabBytes = append(symtabBytes, sym...)
	}

	symtabOff := strtabOff + strtabSize
	symtabSize := uint64(len(symtabBytes))

	shstrtabOff := symtabOff + symtabSize
	shstrtabSize := uint64(len(shstrtab))

	shoff := shstrtabOff + shstrtabSize

	buf := make([]byte, shoff)
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1
	binary.LittleEndian.PutUint16(buf[16:18], 2)
	binary.LittleEndian.PutUint16(buf[18:20], 0x3e)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint64(buf[24:32], baseAddr)
	binary.LittleEndian.PutUint64(buf[40:48], shoff)
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize)
	binary.LittleEndian.PutUint16(buf[58:60], shdrSize)
	binary.LittleEndian.PutUint16(buf[60:62], 5)
	binary.LittleEndian.PutUint16(buf[62:64], 4)

	copy(buf[textOff:], text)
	copy(buf[strtabOff:], strtab)
	copy(buf[symtabOff:], symtabBytes)
	copy(buf[shstrtabOff:], shstrtab)

	writeShdr := func(name, typ uint32, flags, addr, offset, size uint64, link, info uint32, entsize uint64) {
		tmp := make([]byte, shdrSize)
		binary.LittleEndian.PutUint32(tmp[0:4], name)
		binary.LittleEndian.PutUint32(tmp[4:8], typ)
		binary.LittleEndian.PutUint64(tmp[8:16], flags)
		binary.LittleEndian.PutUint64(tmp[16:24], addr)
		binary.LittleEndian.PutUint64(tmp[24:32], offset)
		binary.LittleEndian.PutUint64(tmp[32:40], size)
		binary.LittleEndian.PutUint32(tmp[40:44], link)
		binary.LittleEndian.PutUint32(tmp[44:48], info)
		binary.LittleEndian.PutUint64(tmp[48:56], 1)
		binary.LittleEndian.PutUint64(tmp[56:64], entsize)
		buf = append(buf, tmp...)
	}

	writeShdr(0, 0, 0, 0, 0, 0, 0, 0, 0)
	writeShdr(nameOff(".text"), 1, 0x6, baseAddr, textOff, textSize, 0, 0, 0)
	writeShdr(nameOff(".symtab"), 2, 0, 0, symtabOff, symtabSize, 3, 1, symSize)
	writeShdr(nameOff(".strtab"), 3, 0, 0, strtabOff, strtabSize, 0, 0, 0)
	writeShdr(nameOff(".shstrtab"), 3, 0, 0, shstrtabOff, shstrtabSize, 0, 0, 0)

	path := filepath.Join(t.TempDir(), "synthetic-elf-multi")
	if err := os.WriteFile(path, buf, 0o755); err != nil {
		t.Fatalf("write synthetic elf: %v", err)
	}
	return path
}

func TestCleanupDeletedProcessesOnlyClearsGoHTTP2(t *testing.T) {
	backend := NewFakeBackend()
	orch := NewOrchestrator(OrchestratorOptions{}, backend, NewProcessTracker(), nil)

	gone := UPID{ASID: 1, PID: 42, StartTimeTicks: 100}
	_ = backend.WriteRecord(FamilyGoHTTP2, gone.PID, "anything")
	_ = backend.WriteRecord(FamilyOpenSSL, gone.PID, "anything")
	_ = backend.WriteRecord(FamilyGoCommon, gone.PID, "anything")
	_ = backend.WriteRecord(FamilyGoTLS, gone.PID, "anything")

	orch.cleanupDeletedProcesses(NewProcessSet(gone))

	assert.False(t, backend.HasRecord(FamilyGoHTTP2, gone.PID), "go_http2 record should have been removed for a departed process")
	assert.True(t, backend.HasRecord(FamilyOpenSSL, gone.PID), "openssl record should survive cleanup: the cleanup asymmetry leaves it stale")
	assert.True(t, backend.HasRecord(FamilyGoCommon, gone.PID), "go_common record should survive cleanup: the cleanup asymmetry leaves it stale")
	assert.True(t, backend.HasRecord(FamilyGoTLS, gone.PID), "go_tls record should survive cleanup: the cleanup asymmetry leaves it stale")
}

func TestDeploySkipsSelfWhenSelfProbingDisabled(t *testing.T) {
	backend := NewFakeBackend()
	opts := OrchestratorOptions{SelfProbingDisabled: true, SelfPID: 999}
	orch := NewOrchestrator(opts, backend, NewProcessTracker(), nil)

	self := UPID{ASID: 1, PID: 999, StartTimeTicks: 5}
	orch.Deploy(NewProcessSet(self))

	assert.Empty(t, backend.Attached, "expected no attachment attempts for the self pid")
	assert.Zero(t, orch.ProbedOpenSSLBinaryCount(), "expected no probed binaries when the only observed pid is self and self-probing is disabled")
}

func TestDeployToleratesVanishedProcess(t *testing.T) {
	backend := NewFakeBackend()
	orch := NewOrchestrator(OrchestratorOptions{}, backend, NewProcessTracker(), nil)

	vanished := UPID{ASID: 1, PID: 999999, StartTimeTicks: 1} // exceedingly unlikely to be a live pid
	orch.Deploy(NewProcessSet(vanished))

	assert.Zero(t, orch.TotalAttached(), "expected zero attachments against a nonexistent process")
}

func TestDeployIsRepeatable(t *testing.T) {
	backend := NewFakeBackend()
	orch := NewOrchestrator(OrchestratorOptions{}, backend, NewProcessTracker(), nil)

	pid := UPID{ASID: 1, PID: 1, StartTimeTicks: 1}
	orch.Deploy(NewProcessSet(pid))
	first := orch.TotalAttached()
	orch.Deploy(NewProcessSet(pid))
	second := orch.TotalAttached()

	assert.Equal(t, first, second, "re-deploying against the same unchanged process set should not grow attach count further")
}

func TestDeploySkipsGoBinaryWhenGoCommonUnresolvable(t *testing.T) {
	const funcAddr = 0x6000
	code := []byte{0xc3}
	path := buildSyntheticElf(t, "crypto/tls.(*Conn).Write", funcAddr, code)

	backend := NewFakeBackend()
	orch := NewOrchestrator(OrchestratorOptions{}, backend, NewProcessTracker(), nil)

	err := orch.verifyGoCommonResolvable(path)
	assert.Error(t, err, "a binary with no Go-common DWARF data should fail the go-common check")
}

// TestDeployOpenSSLAttachesAgainstLibssl confirms ensureOpenSSLAttached
// opens the ElfReader and attaches the probe templates against the libssl
// path, not the libcrypto path, while still resolving the offset record
// from libcrypto — the split SSL_write/SSL_read (libssl) vs. struct layout
// (libcrypto) symbol tables require.
func TestDeployOpenSSLAttachesAgainstLibssl(t *testing.T) {
	const funcAddr = 0x7000
	// RET for entry mode, irrelevant to AttachReturnByPrologue too.
	libssl := buildSyntheticElf(t, "SSL_write", funcAddr, []byte{0xc3})
	// Never opened as an ElfReader; its basename only needs to fingerprint
	// a known OpenSSL release family.
	libcrypto := filepath.Join(t.TempDir(), "libcrypto.so.3")

	backend := NewFakeBackend()
	orch := NewOrchestrator(OrchestratorOptions{}, backend, NewProcessTracker(), nil)

	rec, err := orch.ensureOpenSSLAttached(libssl, libcrypto)
	require.NoError(t, err)
	assert.Equal(t, "3.x", rec.FingerprintedVersion, "offset record should be resolved from the libcrypto fingerprint")

	assert.Equal(t, 2, backend.AttachCountFor(libssl, FamilyOpenSSL), "SSL_write's entry and return-by-prologue templates should both attach against libssl")
	assert.Equal(t, 0, backend.AttachCountFor(libcrypto, FamilyOpenSSL), "nothing should ever be attached against the libcrypto path")

	cached, known := orch.probedOpenSSLBinaries[libssl]
	require.True(t, known, "probedOpenSSLBinaries should be keyed on the libssl path")
	assert.Equal(t, rec, cached)

	// A second call for the same libssl path must not re-attach.
	_, err = orch.ensureOpenSSLAttached(libssl, libcrypto)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.AttachCountFor(libssl, FamilyOpenSSL), "re-resolving an already-probed libssl binary should not attach again")
}

// TestDeployAttachesGoHTTP2AfterTLSOnlyPassWhenEnabledLater exercises the
// scenario where a Go binary is first observed with HTTP2 tracing disabled
// (only Go-TLS attaches), and HTTP2 tracing is then turned on before the
// same binary is probed again: Go-HTTP/2 must still attach without
// re-attaching Go-TLS, because the two families are gated independently.
func TestDeployAttachesGoHTTP2AfterTLSOnlyPassWhenEnabledLater(t *testing.T) {
	const baseAddr = 0x8000
	hostExe := buildSyntheticElfMulti(t, baseAddr, []syntheticSymbol{
		{name: "crypto/tls.(*Conn).Write", code: []byte{0xc3, 0x90, 0xc3}}, // two RETs -> two return-site probes
		{name: "golang.org/x/net/http2.(*Framer).WriteHeaders", code: []byte{0xc3}},
	})

	backend := NewFakeBackend()
	orch := NewOrchestrator(OrchestratorOptions{HTTP2TracingEnabled: false}, backend, NewProcessTracker(), nil)

	err := orch.attachGoFamilies(hostExe)
	require.NoError(t, err)
	assert.True(t, orch.probedGoTLSBinaries[hostExe], "Go-TLS should be marked probed after the TLS-only pass")
	assert.False(t, orch.probedGoHTTP2Binaries[hostExe], "Go-HTTP/2 should not be probed while tracing is disabled")
	tlsAttachedAfterFirstPass := backend.AttachCountFor(hostExe, FamilyGoTLS)
	assert.NotZero(t, tlsAttachedAfterFirstPass)
	assert.Zero(t, backend.AttachCountFor(hostExe, FamilyGoHTTP2))

	orch.opts.HTTP2TracingEnabled = true
	err = orch.attachGoFamilies(hostExe)
	require.NoError(t, err)

	assert.True(t, orch.probedGoHTTP2Binaries[hostExe], "Go-HTTP/2 should attach once tracing is enabled and the binary is seen again")
	assert.Equal(t, tlsAttachedAfterFirstPass, backend.AttachCountFor(hostExe, FamilyGoTLS), "Go-TLS should not be re-attached on the second pass")
	assert.NotZero(t, backend.AttachCountFor(hostExe, FamilyGoHTTP2), "Go-HTTP/2's WriteHeaders template should have attached")
}
