package coordinator

import (
	"context"
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/model"
	"github.com/distr1/xbbs/internal/netutil"
	"github.com/distr1/xbbs/internal/wire"
)

// Status codes for the command_endpoint reply's first frame (spec §6).
const (
	statusOK         = "200"
	statusNoContent  = "204"
	statusBadRequest = "400"
	statusNotFound   = "404"
	statusConflict   = "409"
	statusInternal   = "500"
)

// CommandHandler returns a netutil.Handler implementing the three
// command_endpoint verbs (spec §6: "build(BuildMessage), fail(project_name),
// status()"). Each exchange is a two-frame request [command_ascii,
// arg_bytes] and a two-frame reply [status_code_ascii, value_bytes].
func (inst *Instance) CommandHandler() netutil.Handler {
	return func(ctx context.Context, request [][]byte) ([][]byte, error) {
		if len(request) != 2 {
			return reply(statusBadRequest, []byte("malformed request")), nil
		}
		switch string(request[0]) {
		case "build":
			return inst.handleBuildCommand(ctx, request[1]), nil
		case "fail":
			return inst.handleFailCommand(request[1]), nil
		case "status":
			return inst.handleStatusCommand(), nil
		default:
			return reply(statusBadRequest, []byte("unknown command")), nil
		}
	}
}

func reply(code string, value []byte) [][]byte {
	return [][]byte{[]byte(code), value}
}

func (inst *Instance) handleBuildCommand(ctx context.Context, arg []byte) [][]byte {
	msg, err := wire.UnmarshalBuildMessage(arg)
	if err != nil {
		return reply(statusBadRequest, []byte(err.Error()))
	}
	project, ok := inst.Project(msg.Project)
	if !ok {
		return reply(statusNotFound, []byte("unknown project"))
	}
	if project.Current() != nil {
		return reply(statusConflict, []byte(model.ErrBuildInProgress.Error()))
	}

	delay := time.Duration(msg.Delay * float64(time.Second))
	go func() {
		if err := inst.Build(ctx, msg.Project, delay, msg.Incremental); err != nil {
			inst.Log.Printf("coordinator: build %s: %v", msg.Project, err)
		}
	}()
	return reply(statusNoContent, nil)
}

func (inst *Instance) handleFailCommand(arg []byte) [][]byte {
	name := string(arg)
	project, ok := inst.Project(name)
	if !ok {
		return reply(statusNotFound, []byte("unknown project"))
	}
	if err := inst.Fail(project); err != nil {
		if err == errNoBuildInProgress {
			return reply(statusConflict, []byte(err.Error()))
		}
		return reply(statusInternal, []byte(err.Error()))
	}
	return reply(statusNoContent, nil)
}

func (inst *Instance) handleStatusCommand() [][]byte {
	msg, err := inst.Status()
	if err != nil {
		return reply(statusInternal, []byte(err.Error()))
	}
	value, err := msg.Pack()
	if err != nil {
		return reply(statusInternal, []byte(err.Error()))
	}
	return reply(statusOK, value)
}

// Status builds the reply to the `status` command (spec §6; field set
// grounded on original_source's StatusMessage).
func (inst *Instance) Status() (*wire.StatusMessage, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	projects := make(map[string]wire.ProjectStatus, len(inst.projects))
	for _, p := range inst.Projects() {
		projects[p.Name] = wire.ProjectStatus{
			Git:         p.Git,
			Description: p.Description,
			Classes:     p.Classes,
			Running:     p.Current() != nil,
		}
	}
	return &wire.StatusMessage{
		Hostname: hostname,
		PID:      os.Getpid(),
		Projects: projects,
	}, nil
}

// errNoBuildInProgress is returned by Fail when the project has no active
// build to fail (spec §6: a 409 Conflict at the command surface).
var errNoBuildInProgress = xerrors.New("coordinator: no build in progress for this project")

// Fail forces a project's current build to a failed DONE state out of
// band (SPEC_FULL.md §3 supplemented feature; spec.md §6 names the
// command without specifying the exact semantics). It sets the active
// build's state to DONE with success=false, stores that status and
// detaches the build from the project. Job statuses are left as they are,
// and the build driver goroutine, if still running, is not stopped.
func (inst *Instance) Fail(project *model.Project) error {
	b := project.Current()
	if b == nil {
		return errNoBuildInProgress
	}
	b.State = model.Done
	b.Success = false
	if err := storeStatus(b, &b.Success); err != nil {
		return err
	}
	project.FinishBuild()
	return nil
}
