package elfwriter

const (
	// NdbgHeaderNoteType is the type of the note written at the start of
	// the cores produced by the dump command.
	NdbgHeaderNoteType = 0x4e444247 // NDBG
	NdbgNoteName       = "NDBG"

	NdbgHeaderTargetPidPrefix   = "Target Pid: "
	NdbgHeaderPointerSizePrefix = "Pointer Size: "
	NdbgHeaderSourcePrefix      = "Source: "
)
