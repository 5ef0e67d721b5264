package xbbs

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// diag.fns are invoked, in registration order, whenever the process
// receives SIGUSR1. Both the coordinator and the worker register one to
// print their in-memory state for operator diagnosis.
var diag struct {
	sync.Mutex
	fns []func()
}

// RegisterDiagnosticDump registers fn to run when the process receives
// SIGUSR1. The first call arms the signal handler.
func RegisterDiagnosticDump(fn func()) {
	diag.Lock()
	defer diag.Unlock()
	if len(diag.fns) == 0 {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGUSR1)
		go func() {
			for range c {
				diag.Lock()
				fns := append([]func(){}, diag.fns...)
				diag.Unlock()
				for _, fn := range fns {
					fn()
				}
			}
		}()
	}
	diag.fns = append(diag.fns, fn)
}
