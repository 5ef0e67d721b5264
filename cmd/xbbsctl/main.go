// Command xbbsctl is the control-plane client for the command_endpoint
// socket (spec §6): it sends one of the three command verbs (build, fail,
// status) and prints the reply.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/distr1/xbbs/internal/env"
	"github.com/distr1/xbbs/internal/netutil"
	"github.com/distr1/xbbs/internal/wire"
)

var endpoint = flag.String("endpoint", env.CommandEndpoint, "address of the coordinator's command_endpoint socket")

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [-endpoint host:port] <command> [args]

commands:
  build <project> [delay_seconds]   trigger a build
  fail <project>                    force the current build to FAILED
  status                            print per-project status
`, os.Args[0])
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	conn, err := netutil.Dial("tcp", *endpoint)
	if err != nil {
		log.Fatalf("xbbsctl: %v", err)
	}
	defer conn.Close()

	var (
		cmd     string
		argBody []byte
	)
	switch args[0] {
	case "build":
		if len(args) < 2 {
			usage()
		}
		msg := &wire.BuildMessage{Project: args[1]}
		if len(args) > 2 {
			var delay float64
			if _, err := fmt.Sscanf(args[2], "%f", &delay); err != nil {
				log.Fatalf("xbbsctl: invalid delay %q: %v", args[2], err)
			}
			msg.Delay = delay
		}
		cmd = "build"
		argBody, err = msg.Pack()
	case "fail":
		if len(args) < 2 {
			usage()
		}
		cmd = "fail"
		argBody = []byte(args[1])
	case "status":
		cmd = "status"
		argBody = nil
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("xbbsctl: encode request: %v", err)
	}

	if err := netutil.WriteFrames(conn, []byte(cmd), argBody); err != nil {
		log.Fatalf("xbbsctl: send: %v", err)
	}
	reply, err := netutil.ReadFrames(conn)
	if err != nil {
		log.Fatalf("xbbsctl: read reply: %v", err)
	}
	if len(reply) != 2 {
		log.Fatalf("xbbsctl: malformed reply (%d frames)", len(reply))
	}
	code, value := string(reply[0]), reply[1]

	if code != "200" && code != "204" {
		fmt.Fprintf(os.Stderr, "%s: %s\n", code, value)
		os.Exit(1)
	}
	if cmd == "status" {
		printStatus(value)
	}
}

// printStatus renders the StatusMessage. When stdout is a terminal it
// pretty-prints one line per project; otherwise it dumps raw fields,
// friendlier to piping into another tool.
func printStatus(value []byte) {
	msg, err := wire.UnmarshalStatusMessage(value)
	if err != nil {
		log.Fatalf("xbbsctl: decode status reply: %v", err)
	}
	pretty := isatty.IsTerminal(os.Stdout.Fd())
	if !pretty {
		for name, p := range msg.Projects {
			fmt.Printf("%s\t%s\t%v\t%t\n", name, p.Git, p.Classes, p.Running)
		}
		return
	}
	fmt.Printf("%s (pid %d)\n", msg.Hostname, msg.PID)
	for name, p := range msg.Projects {
		state := "idle"
		if p.Running {
			state = "running"
		}
		fmt.Printf("  %-20s %-8s %s\n", name, state, p.Description)
	}
}
