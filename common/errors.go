package common

// BaseError carries a plain message and backs every typed error kind
// the uprobe engine distinguishes.
type BaseError struct {
	msg string
}

func (e *BaseError) Error() string {
	return e.msg
}

type InvalidArgument struct {
	BaseError
}

func NewInvalidArgument(msg string) *InvalidArgument {
	return &InvalidArgument{BaseError: BaseError{msg}}
}

// The following kinds are the ones the deployment engine distinguishes.
// Every one of them is a skip, not a fatal condition; callers log at the
// verbosity noted in the comment and move on.

// ProcessGoneError: target process exited mid-operation. Logged at low verbosity.
type ProcessGoneError struct{ BaseError }

func NewProcessGoneError(msg string) *ProcessGoneError {
	return &ProcessGoneError{BaseError{msg}}
}

// PathUnresolvableError: mount-namespace root missing. Logged; process skipped for this pass.
type PathUnresolvableError struct{ BaseError }

func NewPathUnresolvableError(msg string) *PathUnresolvableError {
	return &PathUnresolvableError{BaseError{msg}}
}

// BinaryUnreadableError: ELF open failed or file vanished. Warning; binary skipped.
type BinaryUnreadableError struct{ BaseError }

func NewBinaryUnreadableError(msg string) *BinaryUnreadableError {
	return &BinaryUnreadableError{BaseError{msg}}
}

// NotGoBinaryError: runtime.buildVersion absent. Silent; binary skipped.
type NotGoBinaryError struct{ BaseError }

func NewNotGoBinaryError(msg string) *NotGoBinaryError {
	return &NotGoBinaryError{BaseError{msg}}
}

// DebugInfoMissingError: DWARF open failed. Low-verbosity log; binary skipped.
type DebugInfoMissingError struct{ BaseError }

func NewDebugInfoMissingError(msg string) *DebugInfoMissingError {
	return &DebugInfoMissingError{BaseError{msg}}
}

// SymbolsIncompleteError: mandatory fields of a family record absent. Warning; that family skipped.
type SymbolsIncompleteError struct{ BaseError }

func NewSymbolsIncompleteError(msg string) *SymbolsIncompleteError {
	return &SymbolsIncompleteError{BaseError{msg}}
}

// ProbeAttachFailedError: back end rejected a spec. Warning with rate-limit; scan continues.
type ProbeAttachFailedError struct{ BaseError }

func NewProbeAttachFailedError(msg string) *ProbeAttachFailedError {
	return &ProbeAttachFailedError{BaseError{msg}}
}

// TableUpdateFailedError: kernel-shared table write returned non-zero. Warning; not fatal.
type TableUpdateFailedError struct{ BaseError }

func NewTableUpdateFailedError(msg string) *TableUpdateFailedError {
	return &TableUpdateFailedError{BaseError{msg}}
}
