package uprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachTemplatesEntryMode(t *testing.T) {
	const funcAddr = 0x2000
	code := []byte{0xc3} // single RET, body is irrelevant for entry-mode specs
	path := buildSyntheticElf(t, "SSL_write", funcAddr, code)

	reader, err := OpenElfReader(path)
	require.NoError(t, err)
	defer reader.Close()

	templates := []ProbeTemplate{
		{Family: FamilyOpenSSL, SymbolName: "SSL_write", MatchMode: MatchExact, AttachMode: AttachEntry, HandlerName: "probe_entry_SSL_write"},
	}
	backend := NewFakeBackend()

	result, err := AttachTemplates(reader, path, templates, backend)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attached)
	assert.Equal(t, 1, backend.AttachCountFor(path, FamilyOpenSSL))
}

func TestAttachTemplatesReturnByInstructionAddressesFansOut(t *testing.T) {
	const funcAddr = 0x3000
	// RET, NOP, NOP, RET
	code := []byte{0xc3, 0x90, 0x90, 0xc3}
	path := buildSyntheticElf(t, "crypto/tls.(*Conn).Write", funcAddr, code)

	reader, err := OpenElfReader(path)
	require.NoError(t, err)
	defer reader.Close()

	templates := []ProbeTemplate{
		{Family: FamilyGoTLS, SymbolName: "crypto/tls.(*Conn).Write", MatchMode: MatchExact, AttachMode: AttachReturnByInstructionAddresses, HandlerName: "probe_ret_tls_conn_write"},
	}
	backend := NewFakeBackend()

	result, err := AttachTemplates(reader, path, templates, backend)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attached, "one attach per RET")
}

func TestAttachTemplatesSkipsMissingSymbol(t *testing.T) {
	const funcAddr = 0x4000
	code := []byte{0xc3}
	path := buildSyntheticElf(t, "SSL_read", funcAddr, code)

	reader, err := OpenElfReader(path)
	require.NoError(t, err)
	defer reader.Close()

	templates := []ProbeTemplate{
		{Family: FamilyOpenSSL, SymbolName: "SSL_write", MatchMode: MatchExact, AttachMode: AttachEntry, HandlerName: "probe_entry_SSL_write"},
	}
	backend := NewFakeBackend()

	result, err := AttachTemplates(reader, path, templates, backend)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Attached)
	assert.Equal(t, 1, result.Skipped)
}

func TestAttachTemplatesPropagatesHardFailure(t *testing.T) {
	const funcAddr = 0x5000
	code := []byte{0xc3}
	path := buildSyntheticElf(t, "SSL_write", funcAddr, code)

	reader, err := OpenElfReader(path)
	require.NoError(t, err)
	defer reader.Close()

	templates := []ProbeTemplate{
		{Family: FamilyOpenSSL, SymbolName: "SSL_write", MatchMode: MatchExact, AttachMode: AttachEntry, HandlerName: "probe_entry_SSL_write"},
	}
	backend := NewFakeBackend()
	backend.FailOn = func(spec ProbeSpec) bool { return true }

	_, err = AttachTemplates(reader, path, templates, backend)
	assert.Error(t, err, "expected error from failing backend")
}
