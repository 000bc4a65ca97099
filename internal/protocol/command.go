package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandType is the wire tag of a client command.
type CommandType string

const (
	CommandGetStatus        CommandType = "get-status"
	CommandTogglePause      CommandType = "toggle-pause"
	CommandSeek             CommandType = "seek"
	CommandSkipForward      CommandType = "skip-forward"
	CommandSkipBackward     CommandType = "skip-backward"
	CommandSetVolume        CommandType = "set-volume"
	CommandToggleMute       CommandType = "toggle-mute"
	CommandToggleFullscreen CommandType = "toggle-fullscreen"
)

// Command is one of the closed set of client-to-server commands.
type Command interface {
	Type() CommandType
	isCommand()
}

type GetStatus struct{}

type TogglePause struct{}

// Seek jumps to an absolute position in seconds.
type Seek struct {
	Position float64
}

// SkipForward moves playback forward by Amount seconds.
type SkipForward struct {
	Amount float64
}

// SkipBackward moves playback back by Amount seconds.
type SkipBackward struct {
	Amount float64
}

// SetVolume sets the player volume, 0-100.
type SetVolume struct {
	Volume float64
}

type ToggleMute struct{}

type ToggleFullscreen struct{}

func (GetStatus) Type() CommandType        { return CommandGetStatus }
func (TogglePause) Type() CommandType      { return CommandTogglePause }
func (Seek) Type() CommandType             { return CommandSeek }
func (SkipForward) Type() CommandType      { return CommandSkipForward }
func (SkipBackward) Type() CommandType     { return CommandSkipBackward }
func (SetVolume) Type() CommandType        { return CommandSetVolume }
func (ToggleMute) Type() CommandType       { return CommandToggleMute }
func (ToggleFullscreen) Type() CommandType { return CommandToggleFullscreen }

func (GetStatus) isCommand()        {}
func (TogglePause) isCommand()      {}
func (Seek) isCommand()             {}
func (SkipForward) isCommand()      {}
func (SkipBackward) isCommand()     {}
func (SetVolume) isCommand()        {}
func (ToggleMute) isCommand()       {}
func (ToggleFullscreen) isCommand() {}

// ParseCommand builds a command from its wire name and an optional numeric argument.
func ParseCommand(name, arg string) (Command, error) {
	kind := CommandType(strings.ToLower(strings.TrimSpace(name)))
	needsArg := kind == CommandSeek || kind == CommandSkipForward || kind == CommandSkipBackward || kind == CommandSetVolume

	var value float64
	arg = strings.TrimSpace(arg)
	if needsArg {
		if arg == "" {
			return nil, fmt.Errorf("command %s requires a numeric argument", kind)
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s argument %q: %w", kind, arg, err)
		}
		value = v
	}

	switch kind {
	case CommandGetStatus:
		return GetStatus{}, nil
	case CommandTogglePause:
		return TogglePause{}, nil
	case CommandSeek:
		return Seek{Position: value}, nil
	case CommandSkipForward:
		return SkipForward{Amount: value}, nil
	case CommandSkipBackward:
		return SkipBackward{Amount: value}, nil
	case CommandSetVolume:
		return SetVolume{Volume: value}, nil
	case CommandToggleMute:
		return ToggleMute{}, nil
	case CommandToggleFullscreen:
		return ToggleFullscreen{}, nil
	default:
		return nil, fmt.Errorf("unknown command: %q", name)
	}
}
