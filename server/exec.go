package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/gorilla/mux"
	"github.com/vishvananda/netns"
)

// execRequest carries an explicit argv, never a shell string: the
// command-execution verb spawns a child directly, it does not invoke a
// shell (spec.md §9 design notes).
type execRequest struct {
	Argv []string `json:"argv"`
}

type execResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func (s *Server) handleExecCommand(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["name"]
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.ErrInvalidArgument, "malformed request body", err))
		return
	}
	if len(req.Argv) == 0 {
		writeError(w, model.NewError(model.ErrInvalidArgument, "argv must not be empty", nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ControlDeadline.Duration)
	defer cancel()

	ns, err := s.ns.NsHandle(device)
	if err != nil {
		writeError(w, err)
		return
	}

	var stdout, stderr bytes.Buffer
	var cmd *exec.Cmd
	err = withNamespace(ns, func() error {
		cmd = exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		return cmd.Start()
	})
	if err != nil {
		writeError(w, model.Wrapf(model.ErrKernel, err, "spawn command on %q", device))
		return
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			writeError(w, model.Wrapf(model.ErrTimeout, err, "command on %q did not complete", device))
			return
		}
	}

	writeJSON(w, http.StatusOK, execResponse{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode})
}

// withNamespace is the Control Server's copy of the repeated pin-thread
// / enter-namespace / restore sequence (see namespace.withNS,
// link.namespaceDo, pty.withNamespace, observer.withNamespace): the
// transient exec child must fork from a thread already joined to the
// device's namespace.
func withNamespace(ns netns.NsHandle, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostNS, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get host namespace: %w", err)
	}
	defer hostNS.Close()

	if err := netns.Set(ns); err != nil {
		return fmt.Errorf("enter namespace: %w", err)
	}
	defer netns.Set(hostNS)

	return fn()
}
