package uprobe

import (
	"fmt"
	"uprobedeploy/common"
)

// AttachResult tallies what happened when a set of ProbeTemplates was
// applied against one binary.
type AttachResult struct {
	Attached int
	Skipped  int
}

// AttachTemplates instantiates each of templates against the binary opened
// by elfReader and registers the resulting ProbeSpecs through backend. A
// symbol absent from the binary is a skip, not a failure — different build
// configurations of the same family (e.g. a non-debug OpenSSL build missing
// one rarely-used entry point) are routine. The first hard failure a
// KernelBackend reports (a real attach error, not a missing symbol) is
// returned immediately; everything attached before that point stays
// attached, matching the orchestrator's per-binary, not per-template,
// granularity of retry.
func AttachTemplates(elfReader *ElfReader, binaryPath string, templates []ProbeTemplate, backend KernelBackend) (AttachResult, error) {
	var result AttachResult
	for _, tmpl := range templates {
		syms, err := elfReader.ListFunctionSymbols(tmpl.SymbolName, tmpl.MatchMode)
		if err != nil || len(syms) == 0 {
			result.Skipped++
			continue
		}

		for _, sym := range syms {
			specs, err := instantiateSpecs(elfReader, binaryPath, tmpl, sym)
			if err != nil {
				// Disassembly failed to find a return site for this
				// particular symbol instance; skip this symbol only.
				result.Skipped++
				continue
			}
			for _, spec := range specs {
				if err := backend.Attach(spec); err != nil {
					return result, err
				}
				result.Attached++
			}
		}
	}
	return result, nil
}

func instantiateSpecs(elfReader *ElfReader, binaryPath string, tmpl ProbeTemplate, sym SymbolInfo) ([]ProbeSpec, error) {
	switch tmpl.AttachMode {
	case AttachEntry, AttachReturnByPrologue:
		return []ProbeSpec{{
			BinaryPath:  binaryPath,
			SymbolName:  sym.Name,
			AttachMode:  tmpl.AttachMode,
			HandlerName: tmpl.HandlerName,
			Family:      tmpl.Family,
		}}, nil

	case AttachReturnByInstructionAddresses:
		addrs, err := elfReader.ReturnInstructionAddresses(sym)
		if err != nil {
			return nil, err
		}
		specs := make([]ProbeSpec, 0, len(addrs))
		for _, addr := range addrs {
			specs = append(specs, ProbeSpec{
				BinaryPath:  binaryPath,
				Address:     addr,
				UseAddress:  true,
				AttachMode:  AttachEntry,
				HandlerName: tmpl.HandlerName,
				Family:      tmpl.Family,
			})
		}
		return specs, nil

	default:
		return nil, common.NewInvalidArgument(fmt.Sprintf("unknown attach mode %v", tmpl.AttachMode))
	}
}
