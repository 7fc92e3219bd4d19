package uprobe

// MatchMode controls how a ProbeTemplate's symbol pattern is matched
// against the symbols a binary's ELF reader lists.
type MatchMode int

const (
	MatchExact MatchMode = iota
	MatchSuffix
	MatchPrefix
)

// AttachMode controls how a matched symbol turns into one or more ProbeSpecs.
type AttachMode int

const (
	// AttachEntry attaches a single probe at the symbol's entry address.
	AttachEntry AttachMode = iota
	// AttachReturnByPrologue attaches directly at the symbol's return,
	// relying on the back end's own return-probe mechanism (e.g. a kernel
	// kretprobe). Valid for C-ABI binaries like OpenSSL.
	AttachReturnByPrologue
	// AttachReturnByInstructionAddresses fans out one entry-mode probe per
	// return instruction found by disassembly, because Go's stack
	// discipline breaks the kernel's own return-probe mechanism.
	AttachReturnByInstructionAddresses
)

// Family names a group of probes sharing a symbol-offset record schema and
// a single target API.
type Family string

const (
	FamilyOpenSSL  Family = "openssl"
	FamilyGoCommon Family = "go_common"
	FamilyGoTLS    Family = "go_tls"
	FamilyGoHTTP2  Family = "go_http2"
)

// ProbeTemplate is an immutable pattern for generating concrete probes from
// a binary's symbol table.
type ProbeTemplate struct {
	Family      Family
	SymbolName  string
	MatchMode   MatchMode
	AttachMode  AttachMode
	HandlerName string
}

// ProbeSpec is a concrete instantiation of a ProbeTemplate against a
// specific binary.
type ProbeSpec struct {
	BinaryPath string
	// Exactly one of SymbolName or Address is meaningful, selected by how
	// the spec was produced: entry/return-by-prologue specs carry the
	// symbol name and let the back end resolve the address; the
	// instruction-address fan-out carries a resolved absolute address.
	SymbolName  string
	Address     uint64
	UseAddress  bool
	AttachMode  AttachMode
	HandlerName string
	Family      Family
}

// SymbolInfo is one entry of an ELF symbol table lookup.
type SymbolInfo struct {
	Name    string
	Address uint64
	Size    uint64
}

// HostPathForPIDPathSearchType controls how a library name is matched
// against a process's mapped file paths.
type HostPathForPIDPathSearchType int

const (
	kSearchTypeEndsWith HostPathForPIDPathSearchType = iota
	kSearchTypeContains
)

const (
	kLibSSL_1_0_2 = "libssl.so.1.0.2"
	kLibSSL_1_1   = "libssl.so.1.1"
	kLibSSL_3     = "libssl.so.3"
)

// SSLLibMatcher describes one (libssl, libcrypto) naming convention the
// Path Resolver looks for among a process's mapped files.
type SSLLibMatcher struct {
	Libssl     string
	Libcrypto  string
	SearchType HostPathForPIDPathSearchType
}

// kLibSSLMatchers enumerates the shared-object basenames this engine
// recognizes as "this process links OpenSSL", across the major ABI-stable
// releases. Matching only tells the orchestrator a process is an OpenSSL
// user; the exact struct layout behind that basename is resolved
// separately by the version fingerprint in symaddrs_openssl.go.
var kLibSSLMatchers = []SSLLibMatcher{
	{Libssl: kLibSSL_1_1, Libcrypto: "libcrypto.so.1.1", SearchType: kSearchTypeEndsWith},
	{Libssl: kLibSSL_3, Libcrypto: "libcrypto.so.3", SearchType: kSearchTypeEndsWith},
	{Libssl: kLibSSL_1_0_2, Libcrypto: "libcrypto.so.1.0.2", SearchType: kSearchTypeEndsWith},
}

// Probe template lists per family. Handler names are the logical
// kernel-side function identifiers the back end binds to; they are a
// contract with the BPF program, not Go symbols.
var openSSLProbeTemplates = []ProbeTemplate{
	{Family: FamilyOpenSSL, SymbolName: "SSL_write", MatchMode: MatchExact, AttachMode: AttachEntry, HandlerName: "probe_entry_SSL_write"},
	{Family: FamilyOpenSSL, SymbolName: "SSL_write", MatchMode: MatchExact, AttachMode: AttachReturnByPrologue, HandlerName: "probe_ret_SSL_write"},
	{Family: FamilyOpenSSL, SymbolName: "SSL_read", MatchMode: MatchExact, AttachMode: AttachEntry, HandlerName: "probe_entry_SSL_read"},
	{Family: FamilyOpenSSL, SymbolName: "SSL_read", MatchMode: MatchExact, AttachMode: AttachReturnByPrologue, HandlerName: "probe_ret_SSL_read"},
}

var goTLSProbeTemplates = []ProbeTemplate{
	{Family: FamilyGoTLS, SymbolName: "crypto/tls.(*Conn).Write", MatchMode: MatchExact, AttachMode: AttachEntry, HandlerName: "probe_entry_tls_conn_write"},
	{Family: FamilyGoTLS, SymbolName: "crypto/tls.(*Conn).Write", MatchMode: MatchExact, AttachMode: AttachReturnByInstructionAddresses, HandlerName: "probe_ret_tls_conn_write"},
	{Family: FamilyGoTLS, SymbolName: "crypto/tls.(*Conn).Read", MatchMode: MatchExact, AttachMode: AttachEntry, HandlerName: "probe_entry_tls_conn_read"},
	{Family: FamilyGoTLS, SymbolName: "crypto/tls.(*Conn).Read", MatchMode: MatchExact, AttachMode: AttachReturnByInstructionAddresses, HandlerName: "probe_ret_tls_conn_read"},
}

var goHTTP2ProbeTemplates = []ProbeTemplate{
	{Family: FamilyGoHTTP2, SymbolName: "golang.org/x/net/http2.(*Framer).WriteHeaders", MatchMode: MatchExact, AttachMode: AttachEntry, HandlerName: "probe_entry_http2_write_headers"},
	{Family: FamilyGoHTTP2, SymbolName: "golang.org/x/net/http2.(*Framer).ReadFrame", MatchMode: MatchExact, AttachMode: AttachReturnByInstructionAddresses, HandlerName: "probe_ret_http2_read_frame"},
}
