package uprobe

import (
	"fmt"
	dwarfreader "uprobedeploy/agent/uprobe/dwarf_reader"
	"uprobedeploy/common"
)

// GoCommonSymAddrs is shared across every Go family (Go-TLS, Go-HTTP/2): the
// struct offsets and itab addresses the kernel side needs to recognize a
// net.Conn as a *tls.Conn or a plain *net.TCPConn and to read its socket fd
// and goroutine id.
type GoCommonSymAddrs struct {
	TLSConnItab    int64
	NetTCPConnItab int64
	TLSConnConnOffset int32
	FDSysfdOffset     int32
	GGoidOffset       int32
}

// GoTLSLocation mirrors dwarfreader.VarLocation reduced to what the
// kernel-side probe actually needs: whether an argument lives on the stack
// or in a register, and at what offset.
type GoTLSLocation struct {
	OnStack bool
	Offset  int64
}

// GoTLSSymAddrs locates the arguments and return values of
// crypto/tls.(*Conn).Write and crypto/tls.(*Conn).Read, which vary by Go
// version because of the ABI0/ABIInternal (register-based) switch in
// Go 1.17.
type GoTLSSymAddrs struct {
	WriteConnLoc    GoTLSLocation
	WriteBufLoc     GoTLSLocation
	WriteRetvalLoc  GoTLSLocation
	ReadConnLoc     GoTLSLocation
	ReadBufLoc      GoTLSLocation
	ReadRetvalLoc   GoTLSLocation
}

func toGoTLSLocation(loc dwarfreader.VarLocation) GoTLSLocation {
	return GoTLSLocation{
		OnStack: loc.LocType == dwarfreader.KStack || loc.LocType == dwarfreader.KStackBP,
		Offset:  loc.Offset,
	}
}

// ResolveGoCommonSymAddrs reads the DWARF and symbol-table data a Go binary
// carries to fill in GoCommonSymAddrs, returning a value instead of writing
// directly into a BPF map.
func ResolveGoCommonSymAddrs(elfReader *ElfReader) (GoCommonSymAddrs, error) {
	dwarfData, err := elfReader.File().DWARF()
	if err != nil {
		return GoCommonSymAddrs{}, common.NewDebugInfoMissingError(fmt.Sprintf("%s: %v", elfReader.Path(), err))
	}

	var rec GoCommonSymAddrs
	rec.TLSConnItab = int64(elfReader.ResolveSymbolWithEachGoPrefix("itab.*crypto/tls.Conn,net.Conn"))
	rec.NetTCPConnItab = int64(elfReader.ResolveSymbolWithEachGoPrefix("itab.*net.TCPConn,net.Conn"))

	fdOff, err := dwarfreader.GetStructMemberOffset("internal/poll.FD", "Sysfd", dwarfData.Reader())
	if err != nil {
		return GoCommonSymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("internal/poll.FD.Sysfd: %v", err))
	}
	rec.FDSysfdOffset = fdOff

	connOff, err := dwarfreader.GetStructMemberOffset("crypto/tls.Conn", "conn", dwarfData.Reader())
	if err != nil {
		return GoCommonSymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("crypto/tls.Conn.conn: %v", err))
	}
	rec.TLSConnConnOffset = connOff

	goidOff, err := dwarfreader.GetStructMemberOffset("runtime.g", "goid", dwarfData.Reader())
	if err != nil {
		return GoCommonSymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("runtime.g.goid: %v", err))
	}
	rec.GGoidOffset = goidOff

	return rec, nil
}

// ResolveGoTLSSymAddrs walks crypto/tls.(*Conn).Write and
// crypto/tls.(*Conn).Read's DWARF argument info to find where their
// receiver, buffer argument, and return values live, under the ABI the
// binary's Go toolchain version used.
func ResolveGoTLSSymAddrs(elfReader *ElfReader, goVersion common.GoVersion) (GoTLSSymAddrs, error) {
	dwarfData, err := elfReader.File().DWARF()
	if err != nil {
		return GoTLSSymAddrs{}, common.NewDebugInfoMissingError(fmt.Sprintf("%s: %v", elfReader.Path(), err))
	}

	var rec GoTLSSymAddrs

	writeArgs, err := dwarfreader.GetFunctionArgInfo(dwarfData.Reader(), goVersion, "crypto/tls.(*Conn).Write")
	if err != nil {
		return GoTLSSymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("crypto/tls.(*Conn).Write args: %v", err))
	}
	if err := fillWriteLocations(writeArgs, &rec); err != nil {
		return GoTLSSymAddrs{}, err
	}

	readArgs, err := dwarfreader.GetFunctionArgInfo(dwarfData.Reader(), goVersion, "crypto/tls.(*Conn).Read")
	if err != nil {
		return GoTLSSymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("crypto/tls.(*Conn).Read args: %v", err))
	}
	if err := fillReadLocations(readArgs, &rec); err != nil {
		return GoTLSSymAddrs{}, err
	}

	return rec, nil
}

func fillWriteLocations(args map[string]dwarfreader.ArgInfo, rec *GoTLSSymAddrs) error {
	recv, ok := args["c"]
	if !ok {
		return common.NewSymbolsIncompleteError("crypto/tls.(*Conn).Write: missing receiver arg")
	}
	rec.WriteConnLoc = toGoTLSLocation(recv.Location)

	buf, ok := args["b"]
	if !ok {
		return common.NewSymbolsIncompleteError("crypto/tls.(*Conn).Write: missing buffer arg")
	}
	rec.WriteBufLoc = toGoTLSLocation(buf.Location)

	for name, arg := range args {
		if arg.Retarg && name == "n" {
			rec.WriteRetvalLoc = toGoTLSLocation(arg.Location)
		}
	}
	return nil
}

func fillReadLocations(args map[string]dwarfreader.ArgInfo, rec *GoTLSSymAddrs) error {
	recv, ok := args["c"]
	if !ok {
		return common.NewSymbolsIncompleteError("crypto/tls.(*Conn).Read: missing receiver arg")
	}
	rec.ReadConnLoc = toGoTLSLocation(recv.Location)

	buf, ok := args["b"]
	if !ok {
		return common.NewSymbolsIncompleteError("crypto/tls.(*Conn).Read: missing buffer arg")
	}
	rec.ReadBufLoc = toGoTLSLocation(buf.Location)

	for name, arg := range args {
		if arg.Retarg && name == "n" {
			rec.ReadRetvalLoc = toGoTLSLocation(arg.Location)
		}
	}
	return nil
}
