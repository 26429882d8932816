package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the closed set of requests the server understands. Each
// concrete type carries exactly the arguments that command needs,
// already validated for shape (arg count, numeric fields) but not yet
// checked against store state.
type Command interface {
	commandTag()
}

type PingCommand struct{}

type EchoCommand struct {
	Message []byte
}

type SetCommand struct {
	Key      string
	Value    []byte
	PX       *int64 // milliseconds, nil if no PX option given
}

type GetCommand struct {
	Key string
}

type InfoCommand struct {
	Section string // empty or "replication"
}

// ReplConfCommand covers every REPLCONF subcommand the handshake uses.
type ReplConfCommand struct {
	Subcommand string // "listening-port", "capa", "getack", "ack"
	Args       []string
}

type PSyncCommand struct {
	ReplicationID string // "?" on first handshake
	Offset        string // "-1" on first handshake
}

type WaitCommand struct {
	NumReplicas int
	TimeoutMS   int64
}

type ConfigGetCommand struct {
	Parameter string // "dir" or "dbfilename"
}

func (PingCommand) commandTag()      {}
func (EchoCommand) commandTag()      {}
func (SetCommand) commandTag()       {}
func (GetCommand) commandTag()       {}
func (InfoCommand) commandTag()      {}
func (ReplConfCommand) commandTag()  {}
func (PSyncCommand) commandTag()     {}
func (WaitCommand) commandTag()      {}
func (ConfigGetCommand) commandTag() {}

// ErrUnknownCommand is returned by FromValue for any command name
// outside the closed set above.
type ErrUnknownCommand struct {
	Name string
}

func (e *ErrUnknownCommand) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

// ErrWrongArgs is returned when a recognized command is given the wrong
// number or shape of arguments.
type ErrWrongArgs struct {
	Name string
}

func (e *ErrWrongArgs) Error() string {
	return fmt.Sprintf("wrong number of arguments for %q", e.Name)
}

// FromValue classifies a parsed RESP array (one client request) into a
// concrete Command. Command names are matched case-insensitively, as
// every implementation in the wild does; argument bytes are taken
// verbatim otherwise.
func FromValue(v Value) (Command, error) {
	if v.Kind != Array || len(v.Items) == 0 {
		return nil, &ErrMalformed{Reason: "command must be a non-empty array"}
	}

	args := make([]string, len(v.Items))
	raw := make([][]byte, len(v.Items))
	for i, item := range v.Items {
		if item.Kind != BulkString {
			return nil, &ErrMalformed{Reason: "command elements must be bulk strings"}
		}
		args[i] = string(item.Bulk)
		raw[i] = item.Bulk
	}

	name := strings.ToUpper(args[0])
	switch name {
	case "PING":
		return PingCommand{}, nil

	case "ECHO":
		if len(args) != 2 {
			return nil, &ErrWrongArgs{Name: name}
		}
		return EchoCommand{Message: raw[1]}, nil

	case "GET":
		if len(args) != 2 {
			return nil, &ErrWrongArgs{Name: name}
		}
		return GetCommand{Key: args[1]}, nil

	case "SET":
		if len(args) < 3 {
			return nil, &ErrWrongArgs{Name: name}
		}
		cmd := SetCommand{Key: args[1], Value: raw[2]}
		for i := 3; i < len(args); i++ {
			if strings.ToUpper(args[i]) == "PX" {
				if i+1 >= len(args) {
					return nil, &ErrWrongArgs{Name: name}
				}
				ms, err := strconv.ParseInt(args[i+1], 10, 64)
				if err != nil {
					return nil, &ErrMalformed{Reason: "PX value must be an integer"}
				}
				cmd.PX = &ms
				i++
				continue
			}
		}
		return cmd, nil

	case "INFO":
		section := ""
		if len(args) >= 2 {
			section = strings.ToLower(args[1])
		}
		return InfoCommand{Section: section}, nil

	case "REPLCONF":
		if len(args) < 2 {
			return nil, &ErrWrongArgs{Name: name}
		}
		return ReplConfCommand{
			Subcommand: strings.ToLower(args[1]),
			Args:       args[2:],
		}, nil

	case "PSYNC":
		if len(args) != 3 {
			return nil, &ErrWrongArgs{Name: name}
		}
		return PSyncCommand{ReplicationID: args[1], Offset: args[2]}, nil

	case "WAIT":
		if len(args) != 3 {
			return nil, &ErrWrongArgs{Name: name}
		}
		numReplicas, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, &ErrMalformed{Reason: "WAIT numreplicas must be an integer"}
		}
		timeoutMS, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return nil, &ErrMalformed{Reason: "WAIT timeout must be an integer"}
		}
		return WaitCommand{NumReplicas: numReplicas, TimeoutMS: timeoutMS}, nil

	case "CONFIG":
		if len(args) != 3 || strings.ToUpper(args[1]) != "GET" {
			return nil, &ErrWrongArgs{Name: name}
		}
		return ConfigGetCommand{Parameter: strings.ToLower(args[2])}, nil

	default:
		return nil, &ErrUnknownCommand{Name: args[0]}
	}
}
