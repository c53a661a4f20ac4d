package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CommandType is the registry name of the built-in command task.
const CommandType = "command"

// Extra keys read by the command task.
const (
	CommandKey = "command"
	ArgsKey    = "args"
	DirKey     = "dir"
)

// Command runs the external program named by the "command" option with the
// "args" option as arguments, optionally inside "dir". The result is the
// trimmed stdout. In dry-run mode nothing is spawned and the result is "".
var Command Factory = Wrap(CommandType, runCommandTask)

func runCommandTask(ctx context.Context, env *Env) (any, error) {
	name, args, dir, err := commandLine(env.Options)
	if err != nil {
		return nil, err
	}

	env.Logger.Debug("Running command", "command", name, "args", args)
	return Execute(env, func() (string, error) {
		cmd := newCommand(ctx, dir, name, args...)
		stdout, _, err := runCommand(cmd, env.rt.Processes)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(stdout)), nil
	}, "")
}

func commandLine(opts Options) (name string, args []string, dir string, err error) {
	raw, ok := opts.Get(CommandKey)
	if !ok {
		return "", nil, "", errors.New("command task: missing \"command\" option")
	}
	name, ok = raw.(string)
	if !ok || name == "" {
		return "", nil, "", fmt.Errorf("command task: \"command\" must be a non-empty string, got %T", raw)
	}

	if raw, ok := opts.Get(ArgsKey); ok {
		switch v := raw.(type) {
		case []string:
			args = v
		case []any:
			for i, a := range v {
				s, ok := a.(string)
				if !ok {
					return "", nil, "", fmt.Errorf("command task: args[%d] must be a string, got %T", i, a)
				}
				args = append(args, s)
			}
		default:
			return "", nil, "", fmt.Errorf("command task: \"args\" must be a list of strings, got %T", raw)
		}
	}

	if raw, ok := opts.Get(DirKey); ok {
		if dir, ok = raw.(string); !ok {
			return "", nil, "", fmt.Errorf("command task: \"dir\" must be a string, got %T", raw)
		}
	}
	return name, args, dir, nil
}
