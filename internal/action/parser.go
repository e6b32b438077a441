package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vantage-c2/vantage/internal/shared"
)

// Action type identifiers produced by the parser.
const (
	TypeConfig   = "config"
	TypeExec     = "exec"
	TypeSpawn    = "spawn"
	TypeUpload   = "upload"
	TypeDownload = "download"
	TypeGather   = "gather"
	TypeSleep    = "sleep"
	TypeReset    = "reset"
)

// Parsed is the parser's output: the action type plus auxiliary fields that
// get merged onto the action record.
type Parsed struct {
	Type   string
	Fields map[string]string
}

// Parse turns a raw action string into a typed action. Grammar: the first
// token is the verb, the remainder is verb-specific. Any failure is a
// MalformedAction error.
func Parse(actionString string) (Parsed, error) {
	tokens := strings.Fields(actionString)
	if len(tokens) == 0 {
		return Parsed{}, fmt.Errorf("%w: empty action string", shared.ErrMalformedAction)
	}

	verb := strings.ToLower(tokens[0])
	args := tokens[1:]

	switch verb {
	case TypeExec, TypeSpawn:
		if len(args) == 0 {
			return Parsed{}, fmt.Errorf("%w: %s requires a command", shared.ErrMalformedAction, verb)
		}
		return Parsed{Type: verb, Fields: map[string]string{
			"command": strings.Join(args, " "),
		}}, nil

	case TypeUpload, TypeDownload:
		if len(args) != 1 {
			return Parsed{}, fmt.Errorf("%w: %s requires exactly one remote path", shared.ErrMalformedAction, verb)
		}
		return Parsed{Type: verb, Fields: map[string]string{
			"remote_path": args[0],
		}}, nil

	case TypeConfig:
		if len(args) == 0 {
			return Parsed{}, fmt.Errorf("%w: config requires key=value pairs", shared.ErrMalformedAction)
		}
		fields := make(map[string]string, len(args))
		for _, pair := range args {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				return Parsed{}, fmt.Errorf("%w: config option %q is not key=value", shared.ErrMalformedAction, pair)
			}
			fields["config."+key] = value
		}
		return Parsed{Type: TypeConfig, Fields: fields}, nil

	case TypeSleep:
		if len(args) != 1 {
			return Parsed{}, fmt.Errorf("%w: sleep requires a duration in seconds", shared.ErrMalformedAction)
		}
		if _, err := strconv.ParseFloat(args[0], 64); err != nil {
			return Parsed{}, fmt.Errorf("%w: sleep duration %q is not numeric", shared.ErrMalformedAction, args[0])
		}
		return Parsed{Type: TypeSleep, Fields: map[string]string{"seconds": args[0]}}, nil

	case TypeGather:
		fields := map[string]string{}
		if len(args) > 0 {
			fields["filter"] = strings.Join(args, " ")
		}
		return Parsed{Type: TypeGather, Fields: fields}, nil

	case TypeReset:
		if len(args) != 0 {
			return Parsed{}, fmt.Errorf("%w: reset takes no arguments", shared.ErrMalformedAction)
		}
		return Parsed{Type: TypeReset, Fields: map[string]string{}}, nil

	default:
		return Parsed{}, fmt.Errorf("%w: unknown verb %q", shared.ErrMalformedAction, verb)
	}
}
