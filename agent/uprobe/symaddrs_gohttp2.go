package uprobe

import (
	"fmt"
	dwarfreader "uprobedeploy/agent/uprobe/dwarf_reader"
	"uprobedeploy/common"
)

// GoHTTP2SymAddrs locates the struct fields golang.org/x/net/http2.Framer
// and its related frame types need for the Go-HTTP/2 family probes, built
// by extending the Go-TLS resolution pattern (DWARF struct-member offsets
// plus a DWARF argument walk of the call whose buffer the probes want to
// snoop) to a second Go-native protocol library.
type GoHTTP2SymAddrs struct {
	FramerWriterOffset int32
	FramerReaderOffset int32
	FrameHeaderStreamIDOffset int32
	WriteHeadersFrameLoc GoTLSLocation
	ReadFrameRetvalLoc   GoTLSLocation
}

// ResolveGoHTTP2SymAddrs is grounded on ResolveGoTLSSymAddrs's shape: it is
// the same two-step DWARF query (struct member offsets, then function
// argument locations) applied to golang.org/x/net/http2 instead of
// crypto/tls.
func ResolveGoHTTP2SymAddrs(elfReader *ElfReader, goVersion common.GoVersion) (GoHTTP2SymAddrs, error) {
	dwarfData, err := elfReader.File().DWARF()
	if err != nil {
		return GoHTTP2SymAddrs{}, common.NewDebugInfoMissingError(fmt.Sprintf("%s: %v", elfReader.Path(), err))
	}

	var rec GoHTTP2SymAddrs

	writerOff, err := dwarfreader.GetStructMemberOffset("golang.org/x/net/http2.Framer", "w", dwarfData.Reader())
	if err != nil {
		return GoHTTP2SymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("http2.Framer.w: %v", err))
	}
	rec.FramerWriterOffset = writerOff

	readerOff, err := dwarfreader.GetStructMemberOffset("golang.org/x/net/http2.Framer", "r", dwarfData.Reader())
	if err != nil {
		return GoHTTP2SymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("http2.Framer.r: %v", err))
	}
	rec.FramerReaderOffset = readerOff

	streamIDOff, err := dwarfreader.GetStructMemberOffset("golang.org/x/net/http2.FrameHeader", "StreamID", dwarfData.Reader())
	if err != nil {
		return GoHTTP2SymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("http2.FrameHeader.StreamID: %v", err))
	}
	rec.FrameHeaderStreamIDOffset = streamIDOff

	writeArgs, err := dwarfreader.GetFunctionArgInfo(dwarfData.Reader(), goVersion, "golang.org/x/net/http2.(*Framer).WriteHeaders")
	if err != nil {
		return GoHTTP2SymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("http2.(*Framer).WriteHeaders args: %v", err))
	}
	if arg, ok := writeArgs["p"]; ok {
		rec.WriteHeadersFrameLoc = toGoTLSLocation(arg.Location)
	} else {
		return GoHTTP2SymAddrs{}, common.NewSymbolsIncompleteError("http2.(*Framer).WriteHeaders: missing param arg")
	}

	readArgs, err := dwarfreader.GetFunctionArgInfo(dwarfData.Reader(), goVersion, "golang.org/x/net/http2.(*Framer).ReadFrame")
	if err != nil {
		return GoHTTP2SymAddrs{}, common.NewSymbolsIncompleteError(fmt.Sprintf("http2.(*Framer).ReadFrame args: %v", err))
	}
	for name, arg := range readArgs {
		if arg.Retarg && name == "err" {
			rec.ReadFrameRetvalLoc = toGoTLSLocation(arg.Location)
		}
	}

	return rec, nil
}
