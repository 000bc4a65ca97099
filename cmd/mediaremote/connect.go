package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/skobkin/mediaremote/internal/app"
	"github.com/skobkin/mediaremote/internal/connectors"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/platform"
	"github.com/skobkin/mediaremote/internal/remote"
)

const interactiveHelp = `commands:
  p                 toggle pause
  f [sec]           skip forward (default 10)
  b [sec]           skip backward (default 10)
  seek <pos>        jump to seconds or [h:]m:ss
  vol <0-100>       set volume
  + / -             volume up / down by 5
  m                 toggle mute
  fs                toggle fullscreen
  s                 show status
  send <cmd> [arg]  send a raw command by wire name
  r                 reconnect
  q                 quit`

type reconnecter interface {
	Reconnect() error
}

func runConnect(e *env, args []string) error {
	fs := newFlagSet("connect", e.stdout)
	port := fs.Int("port", e.cfg.Connection.Port, "server port")
	link := fs.String("link", "", "deep link with ip and port parameters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("%w: connect takes at most one address", errUsage)
	}

	lock, err := platform.AcquireLock(app.Name, app.ControllerLockName)
	switch {
	case errors.Is(err, platform.ErrLockHeld):
		return fmt.Errorf("another %s controller is running: %w", app.Name, err)
	case errors.Is(err, platform.ErrLockUnsupported):
		e.logger.Warn("running without controller lock", "error", err)
	case err != nil:
		return err
	default:
		defer func() {
			if relErr := lock.Release(); relErr != nil {
				e.logger.Warn("release controller lock", "error", relErr)
			}
		}()
	}

	out := &syncWriter{w: e.stdout}
	ctrl := e.rt.Controller
	cancels := []func(){
		ctrl.OnConnectionStateChange(func(s domain.ConnectionStatus) { out.println(formatConnection(s)) }),
		ctrl.OnServerIdentified(func(ev connectors.ServerIdentified) {
			out.println(fmt.Sprintf("server: %s (%s)", ev.Name, ev.Application))
		}),
		ctrl.OnStatus(func(st domain.MediaStatus) { out.println(formatStatus(st)) }),
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	if err := startConnection(e, fs.Arg(0), *port, *link); err != nil {
		return err
	}
	defer e.rt.Disconnect()

	return interact(e.ctx, e.stdin, out, ctrl, e.rt.Reconnector)
}

// startConnection picks the target: a deep link, an explicit address, the
// configured address, then the last used server.
func startConnection(e *env, rawAddress string, port int, link string) error {
	if link != "" {
		_, err := e.rt.OpenDeepLink(e.ctx, link)

		return err
	}
	if rawAddress == "" {
		rawAddress = e.cfg.Connection.Address
	}
	if rawAddress == "" {
		return e.rt.ConnectKnown(e.ctx, "", 0)
	}

	address, p, err := parseEndpoint(rawAddress, port)
	if err != nil {
		return err
	}
	if _, known := e.rt.Registry.Get(address, p); known {
		return e.rt.ConnectKnown(e.ctx, address, p)
	}

	return e.rt.Connect(e.ctx, address, p)
}

func interact(ctx context.Context, in io.Reader, out *syncWriter, ctrl *remote.Controller, rc reconnecter) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			action, err := parseLine(line)
			if err != nil {
				out.println("error: " + err.Error())

				continue
			}
			if action.quit {
				return nil
			}
			if err := execute(ctx, action, out, ctrl, rc); err != nil {
				out.println("error: " + err.Error())
			}
		}
	}
}

func execute(ctx context.Context, a lineAction, out *syncWriter, ctrl *remote.Controller, rc reconnecter) error {
	switch {
	case a.help:
		out.println(interactiveHelp)
	case a.reconnect:
		return rc.Reconnect()
	case a.volumeStep > 0:
		return ctrl.VolumeUp(ctx)
	case a.volumeStep < 0:
		return ctrl.VolumeDown(ctx)
	}
	if a.show {
		out.println(formatConnection(ctrl.CurrentConnectionState()))
		out.println(formatStatus(ctrl.CurrentStatus()))
	}
	if a.command == nil {
		return nil
	}
	if err := ctrl.SendCommand(ctx, a.command); err != nil {
		if errors.Is(err, remote.ErrNotConnected) {
			return errors.New("not connected")
		}

		return err
	}

	return nil
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, line)
}
