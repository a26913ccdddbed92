// Package control implements the line-oriented TCP control protocol of
// spec.md §4.8, grounded on
// original_source/pi_cam_service_py311/trigger_server.py's
// accept-read-callback-reply-close shape, redesigned per spec.md §9
// into a parsed command variant dispatched once instead of
// string-prefix matching.
package control

import "strings"

// Verb identifies which control command a line requested.
type Verb int

const (
	Unknown Verb = iota
	Save
	PastStack
	NightLevel
	Health
	Set
	DumpConfig
	OverwriteConfig
	ShortStream
)

// Command is a parsed control-protocol line: a verb plus its
// arguments, with no further string matching beyond this one parse.
type Command struct {
	Verb Verb
	Args []string
}

// ParseCommand parses one trimmed control-protocol line into a
// Command. Unrecognized verbs parse to Unknown, never an error --
// dispatch alone decides how to answer.
func ParseCommand(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Verb: Unknown}
	}
	verb, args := fields[0], fields[1:]
	switch verb {
	case "save":
		return Command{Verb: Save, Args: args}
	case "pastStack":
		return Command{Verb: PastStack, Args: args}
	case "night_level":
		return Command{Verb: NightLevel, Args: args}
	case "health":
		return Command{Verb: Health, Args: args}
	case "set":
		return Command{Verb: Set, Args: args}
	case "dump_config":
		return Command{Verb: DumpConfig, Args: args}
	case "overwrite_config":
		return Command{Verb: OverwriteConfig, Args: args}
	case "shortstream":
		return Command{Verb: ShortStream, Args: args}
	default:
		return Command{Verb: Unknown, Args: args}
	}
}
