package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	containerCmds
	memoryCmds
	targetCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Walking containers", containerCmds},
	{"Viewing memory", memoryCmds},
	{"Inspecting the target", targetCmds},
	{"Other commands", otherCmds},
}
