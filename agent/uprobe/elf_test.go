package uprobe

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSyntheticElf writes a minimal, valid ELF64/x86-64 object containing
// one function symbol backed by code, and returns its path. It exists so
// the return-probe fan-out property can be verified against a real
// debug/elf.File without needing a checked-in binary fixture.
func buildSyntheticElf(t *testing.T, symbolName string, funcAddr uint64, code []byte) string {
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

	strtab := append([]byte{0}, append([]byte(symbolName), 0)...)

	textOff := uint64(ehdrSize)
	textSize := uint64(len(code))

	strtabOff := textOff + textSize
	strtabSize := uint64(len(strtab))

	// symtab: null symbol + one real symbol.
	sym := make([]byte, symSize)
	binary.LittleEndian.PutUint32(sym[0:4], 1) // st_name: offset 1 in strtab (symbolName after leading NUL)
	sym[4] = 0x12                              // STT_FUNC | STB_GLOBAL<<4
	sym[5] = 0
	binary.LittleEndian.PutUint16(sym[6:8], 1) // st_shndx = .text section index
	binary.LittleEndian.PutUint64(sym[8:16], funcAddr)
	binary.LittleEndian.PutUint64(sym[16:24], textSize)
	symtabBytes := append(make([]byte, symSize), sym...) // null entry + real entry

	symtabOff := strtabOff + strtabSize
	symtabSize := uint64(len(symtabBytes))

	shstrtabOff := symtabOff + symtabSize
	shstrtabSize := uint64(len(shstrtab))

	shoff := shstrtabOff + shstrtabSize

	buf := make([]byte, shoff)

	// ELF header.
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(buf[16:18], 2)        // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 0x3e)     // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(buf[20:24], 1)        // e_version
	binary.LittleEndian.PutUint64(buf[24:32], funcAddr) // e_entry
	binary.LittleEndian.PutUint64(buf[40:48], shoff)    // e_shoff
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize) // e_ehsize
	binary.LittleEndian.PutUint16(buf[58:60], shdrSize) // e_shentsize
	binary.LittleEndian.PutUint16(buf[60:62], 5)        // e_shnum: null,text,symtab,strtab,shstrtab
	binary.LittleEndian.PutUint16(buf[62:64], 4)        // e_shstrndx

	copy(buf[textOff:], code)
	copy(buf[strtabOff:], strtab)
	copy(buf[symtabOff:], symtabBytes)
	copy(buf[shstrtabOff:], shstrtab)

	writeShdr := func(idx int, name uint32, typ uint32, flags, addr, offset, size uint64, link, info uint32, entsize uint64) {
		base := int(shoff) + idx*shdrSize
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
		_ = base
	}

	// idx 0: null section
	writeShdr(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	// idx 1: .text  SHT_PROGBITS=1, SHF_ALLOC|SHF_EXECINSTR = 0x6
	writeShdr(1, nameOff(".text"), 1, 0x6, funcAddr, textOff, textSize, 0, 0, 0)
	// idx 2: .symtab SHT_SYMTAB=2, link = strtab index(3), info = 1 (first global idx)
	writeShdr(2, nameOff(".symtab"), 2, 0, 0, symtabOff, symtabSize, 3, 1, symSize)
	// idx 3: .strtab SHT_STRTAB=3
	writeShdr(3, nameOff(".strtab"), 3, 0, 0, strtabOff, strtabSize, 0, 0, 0)
	// idx 4: .shstrtab SHT_STRTAB=3
	writeShdr(4, nameOff(".shstrtab"), 3, 0, 0, shstrtabOff, shstrtabSize, 0, 0, 0)

	path := filepath.Join(t.TempDir(), "synthetic-elf")
	if err := os.WriteFile(path, buf, 0o755); err != nil {
		t.Fatalf("write synthetic elf: %v", err)
	}
	return path
}

func indexOfNulSep(haystack []byte, name string) int {
	target := []byte(name)
	for i := 0; i+len(target) <= len(haystack); i++ {
		if haystack[i] == 0 {
			continue
		}
		if i > 0 && haystack[i-1] != 0 {
			continue
		}
		match := true
		for j := 0; j < len(target); j++ {
			if haystack[i+j] != target[j] {
				match = false
				break
			}
		}
		if match && i+len(target) < len(haystack) && haystack[i+len(target)] == 0 {
			return i
		}
	}
	return -1
}

// TestReturnProbeFanOut verifies that a synthetic function with three RET
// instructions at known offsets yields exactly three return-instruction
// addresses, one per RET.
func TestReturnProbeFanOut(t *testing.T) {
	const funcAddr = 0x1000
	// RET, NOP, NOP, RET, NOP, NOP, RET
	code := []byte{0xc3, 0x90, 0x90, 0xc3, 0x90, 0x90, 0xc3}
	path := buildSyntheticElf(t, "foo", funcAddr, code)

	reader, err := OpenElfReader(path)
	require.NoError(t, err)
	defer reader.Close()

	syms, err := reader.ListFunctionSymbols("foo", MatchExact)
	require.NoError(t, err)
	require.Len(t, syms, 1)

	addrs, err := reader.ReturnInstructionAddresses(syms[0])
	require.NoError(t, err)
	want := []uint64{funcAddr, funcAddr + 3, funcAddr + 6}
	assert.Equal(t, want, addrs)
}
