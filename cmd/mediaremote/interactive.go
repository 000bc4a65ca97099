package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/protocol"
	"github.com/skobkin/mediaremote/internal/remote"
)

// lineAction is one parsed interactive input line.
type lineAction struct {
	command    protocol.Command
	volumeStep int
	show       bool
	reconnect  bool
	help       bool
	quit       bool
}

func parseLine(line string) (lineAction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return lineAction{}, nil
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch strings.ToLower(fields[0]) {
	case "p", "pause", "play":
		return lineAction{command: protocol.TogglePause{}}, nil
	case "f", "ff", "forward":
		amount, err := skipAmount(arg)

		return lineAction{command: protocol.SkipForward{Amount: amount}}, err
	case "b", "back", "rew":
		amount, err := skipAmount(arg)

		return lineAction{command: protocol.SkipBackward{Amount: amount}}, err
	case "seek", "g":
		if arg == "" {
			return lineAction{}, errors.New("seek needs a position")
		}
		pos, err := parseClock(arg)
		if err != nil {
			return lineAction{}, err
		}

		return lineAction{command: protocol.Seek{Position: pos}}, nil
	case "vol", "v":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return lineAction{}, fmt.Errorf("volume %q is not a number", arg)
		}

		return lineAction{command: protocol.SetVolume{Volume: remote.ClampVolume(v)}}, nil
	case "+", "up":
		return lineAction{volumeStep: 1}, nil
	case "-", "down":
		return lineAction{volumeStep: -1}, nil
	case "m", "mute":
		return lineAction{command: protocol.ToggleMute{}}, nil
	case "fs", "fullscreen":
		return lineAction{command: protocol.ToggleFullscreen{}}, nil
	case "s", "status":
		return lineAction{command: protocol.GetStatus{}, show: true}, nil
	case "send":
		if arg == "" {
			return lineAction{}, errors.New("send needs a command name")
		}
		value := ""
		if len(fields) > 2 {
			value = fields[2]
		}
		cmd, err := protocol.ParseCommand(arg, value)
		if err != nil {
			return lineAction{}, err
		}

		return lineAction{command: cmd}, nil
	case "r", "reconnect":
		return lineAction{reconnect: true}, nil
	case "h", "help", "?":
		return lineAction{help: true}, nil
	case "q", "quit", "exit":
		return lineAction{quit: true}, nil
	default:
		return lineAction{}, fmt.Errorf("unknown command %q, type h for help", fields[0])
	}
}

func skipAmount(arg string) (float64, error) {
	if arg == "" {
		return remote.DefaultSkipAmount, nil
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("skip amount %q must be a positive number", arg)
	}

	return v, nil
}

// parseClock reads seconds, "m:ss" or "h:mm:ss".
func parseClock(raw string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("position %q is not seconds or [h:]m:ss", raw)
	}

	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("position %q is not seconds or [h:]m:ss", raw)
		}
		total = total*60 + v
	}

	return total, nil
}

func formatStatus(st domain.MediaStatus) string {
	state := "playing"
	if st.Paused {
		state = "paused"
	}
	title := st.Title
	if title == "" {
		title = st.Filename
	}
	if !st.HasMedia {
		state = "idle"
	}

	pos := st.TimeFormatted
	if pos == "" {
		pos = domain.FormatClock(st.TimePos)
	}
	dur := st.DurationFormatted
	if dur == "" {
		dur = domain.FormatClock(st.Duration)
	}

	line := fmt.Sprintf("[%s] %s  %s / %s  vol %.0f", state, title, pos, dur, st.Volume)
	if st.Muted {
		line += " muted"
	}
	if st.Fullscreen {
		line += " fullscreen"
	}

	return line
}

func formatConnection(s domain.ConnectionStatus) string {
	target := s.Target.String()
	switch s.State {
	case domain.ConnectionStateConnected:
		return "connected to " + target
	case domain.ConnectionStateConnecting:
		return "connecting to " + target
	case domain.ConnectionStateReconnecting:
		return fmt.Sprintf("reconnecting to %s (attempt %d/%d in %s): %s", target, s.Attempt, s.MaxAttempts, s.NextDelay, s.Err)
	default:
		if s.Terminal {
			return fmt.Sprintf("could not reconnect to %s after %d attempts: %s", target, s.MaxAttempts, s.Err)
		}

		return "disconnected"
	}
}
