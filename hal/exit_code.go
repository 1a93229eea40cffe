package hal

// Exit codes reported to the process supervisor. Nonzero values live in
// the 110s range so they are distinguishable from shell and signal codes.
const (
	ExitCodeNormalShutdown       = 0
	ExitCodeFatalFaultDuringInit = 111
	ExitCodeFatalFaultDuringExec = 112
)
