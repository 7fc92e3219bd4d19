package common

// Config flag/var names bound to viper by cmd/.
var Http2TracingEnabledVarName string = "http2-tracing-enabled"
var SelfProbingDisabledVarName string = "self-probing-disabled"
var RescanForDlopenVarName string = "rescan-for-dlopen"
var ScanIntervalVarName string = "scan-interval"
var DaemonVarName string = "daemon"
var LogDirVarName string = "log-dir"
var VerboseVarName string = "verbose"
var ASIDVarName string = "asid"

