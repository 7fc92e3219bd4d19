package uprobe

import (
	"strings"
	"uprobedeploy/common"
)

// OpenSSLSymAddrs is the fixed-shape symbol-offset record the kernel-side
// OpenSSL probes consult to walk an SSL connection's BIO chain without
// knowing the target process's exact OpenSSL struct layout at compile
// time. Field order and width are a contract with that kernel-side code.
type OpenSSLSymAddrs struct {
	// FingerprintedVersion is informational only; it is not consulted
	// kernel-side but is logged so a SymbolsIncomplete warning can name
	// which version table was tried.
	FingerprintedVersion string
	SSLRBIOOffset         int32
	SSLWBIOOffset         int32
	BIONumOffset          int32
}

// opensslOffsetTable is keyed by a coarse version fingerprint derived from
// the libcrypto shared object's basename. struct ssl_st and struct bio_st
// have moved fields across OpenSSL's major releases (1.0.2, 1.1.0, 1.1.1,
// 3.0-3.3), so a single hardcoded offset set only works for one of them;
// this table is a per-version offset registry covering the major release
// families.
var opensslOffsetTable = map[string]OpenSSLSymAddrs{
	"1.0.x": {FingerprintedVersion: "1.0.x", SSLRBIOOffset: 0x10, SSLWBIOOffset: 0x18, BIONumOffset: 0x28},
	"1.1.x": {FingerprintedVersion: "1.1.x", SSLRBIOOffset: 0x10, SSLWBIOOffset: 0x18, BIONumOffset: 0x30},
	"3.x":   {FingerprintedVersion: "3.x", SSLRBIOOffset: 0x10, SSLWBIOOffset: 0x18, BIONumOffset: 0x38},
}

// fingerprintOpenSSLVersion reads the release family straight out of the
// libcrypto.so basename, the same signal kLibSSLMatchers already used to
// decide a process links OpenSSL at all.
func fingerprintOpenSSLVersion(libcryptoPath string) string {
	switch {
	case strings.Contains(libcryptoPath, "libcrypto.so.3"):
		return "3.x"
	case strings.Contains(libcryptoPath, "libcrypto.so.1.1"):
		return "1.1.x"
	case strings.Contains(libcryptoPath, "libcrypto.so.1.0"):
		return "1.0.x"
	default:
		return "1.1.x"
	}
}

// ResolveOpenSSLSymAddrs computes the OpenSSL symbol-offset record for the
// libcrypto shared object at libcryptoPath. It never fails on an
// unrecognized library name class (falls back to the 1.1.x table), only on
// the record missing its mandatory field.
func ResolveOpenSSLSymAddrs(libcryptoPath string) (OpenSSLSymAddrs, error) {
	fingerprint := fingerprintOpenSSLVersion(libcryptoPath)
	rec, ok := opensslOffsetTable[fingerprint]
	if !ok {
		return OpenSSLSymAddrs{}, common.NewSymbolsIncompleteError(
			"no offset table for fingerprint " + fingerprint)
	}
	if rec.BIONumOffset == 0 {
		return OpenSSLSymAddrs{}, common.NewSymbolsIncompleteError(
			"BIONumOffset not resolved for " + libcryptoPath)
	}
	return rec, nil
}
