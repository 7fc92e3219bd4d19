package uprobe

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"strings"
	"uprobedeploy/common"

	"golang.org/x/arch/x86/x86asm"
)

// ElfReader is the ELF half of the Binary Reader (C3): it lists and looks
// up symbols, and disassembles a symbol's body to find return-instruction
// offsets for runtimes (Go) whose stack discipline breaks the kernel's own
// return-probe mechanism.
type ElfReader struct {
	file *elf.File
	f    *os.File
	path string
}

// OpenElfReader opens path for ELF reading. The caller must Close it.
func OpenElfReader(path string) (*ElfReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewBinaryUnreadableError(fmt.Sprintf("open %s: %v", path, err))
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, common.NewBinaryUnreadableError(fmt.Sprintf("parse elf %s: %v", path, err))
	}
	return &ElfReader{file: ef, f: f, path: path}, nil
}

func (r *ElfReader) Close() error {
	err := r.file.Close()
	r.f.Close()
	return err
}

func (r *ElfReader) File() *elf.File { return r.file }
func (r *ElfReader) Path() string    { return r.path }

// ListFunctionSymbols returns every symbol whose name matches pattern under
// matchMode, ordered by address. Both the static symbol table (SHT_SYMTAB)
// and the dynamic one (SHT_DYNSYM) are consulted, since a stripped shared
// object may only carry the latter.
func (r *ElfReader) ListFunctionSymbols(pattern string, matchMode MatchMode) ([]SymbolInfo, error) {
	all, err := r.allSymbols()
	if err != nil {
		return nil, err
	}
	var out []SymbolInfo
	for _, s := range all {
		if s.Name == "" {
			continue
		}
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if !matches(s.Name, pattern, matchMode) {
			continue
		}
		out = append(out, SymbolInfo{Name: s.Name, Address: s.Value, Size: s.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// SymbolAddress is a direct presence/address lookup by exact symbol name,
// used by ResolveSymbolWithEachGoPrefix. Deciding whether a binary is a Go
// binary at all is done separately by common.IsGoExecutable.
func (r *ElfReader) SymbolAddress(name string) (uint64, bool) {
	syms, err := r.allSymbols()
	if err != nil {
		return 0, false
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Value, true
		}
	}
	return 0, false
}

// ResolveSymbolWithEachGoPrefix looks up symbolName under both of the
// prefixes the Go linker has used for its synthetic itab/type symbols
// across toolchain versions ("go." and "go:").
func (r *ElfReader) ResolveSymbolWithEachGoPrefix(symbolName string) uint64 {
	for _, prefix := range []string{"go.", "go:"} {
		if addr, ok := r.SymbolAddress(prefix + symbolName); ok {
			return addr
		}
	}
	return 0
}

func (r *ElfReader) allSymbols() ([]elf.Symbol, error) {
	var all []elf.Symbol
	if syms, err := r.file.Symbols(); err == nil {
		all = append(all, syms...)
	}
	if dynsyms, err := r.file.DynamicSymbols(); err == nil {
		all = append(all, dynsyms...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no symbol table in %s", r.path)
	}
	return all, nil
}

func matches(name, pattern string, mode MatchMode) bool {
	switch mode {
	case MatchExact:
		return name == pattern
	case MatchSuffix:
		return strings.HasSuffix(name, pattern)
	case MatchPrefix:
		return strings.HasPrefix(name, pattern)
	default:
		return false
	}
}

// ReturnInstructionAddresses disassembles the body of sym (read from the
// section that contains its address) and returns the absolute address of
// every x86-64 RET instruction found within it. This is how the engine
// emulates a return probe for Go functions: one entry-mode probe is later
// attached at each of these addresses instead of relying on the kernel's
// native return-probe support.
func (r *ElfReader) ReturnInstructionAddresses(sym SymbolInfo) ([]uint64, error) {
	if sym.Size == 0 {
		return nil, fmt.Errorf("symbol %s has zero size, cannot disassemble", sym.Name)
	}
	body, err := r.readRange(sym.Address, sym.Size)
	if err != nil {
		return nil, err
	}

	var addrs []uint64
	for offset := 0; offset < len(body); {
		inst, err := x86asm.Decode(body[offset:], 64)
		if err != nil || inst.Len == 0 {
			// Can't decode further; stop rather than fail the whole
			// symbol — whatever addresses were already found are still
			// usable return sites.
			break
		}
		if inst.Op == x86asm.RET {
			addrs = append(addrs, sym.Address+uint64(offset))
		}
		offset += inst.Len
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no RET instruction found in %s", sym.Name)
	}
	return addrs, nil
}

func (r *ElfReader) readRange(addr, size uint64) ([]byte, error) {
	for _, sec := range r.file.Sections {
		if sec.Addr == 0 || addr < sec.Addr || addr+size > sec.Addr+sec.Size {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, err
		}
		off := addr - sec.Addr
		return data[off : off+size], nil
	}
	return nil, fmt.Errorf("address %#x not within any section", addr)
}
