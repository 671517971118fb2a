package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"voxwake/internal/ipc"
)

const usage = `usage: voxctl [flags] <command> [args]

commands:
  status                       listener state and counters
  start | stop                 open or release the microphone
  trigger                      record a command without the wake word
  sensitivity [level]          show or set, 0..1 or 2..10
  calibrate <rate>             adjust from a false trigger rate in 0..1
  history [n]                  last n commands and the success rate
  notify <audio|visual> <on|off>

flags:
`

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Daemon control socket")
	raw := cli.BoolP("json", "j", false, "Print the response data as JSON only")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Request timeout")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() == 0 {
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := ipc.Send(ctx, *socket, ipc.Request{Cmd: cli.Arg(0), Args: cli.Args()[1:]})
	if err != nil {
		fmt.Fprintln(os.Stderr, "voxd not running:", err)
		os.Exit(1)
	}

	if *raw {
		os.Stdout.Write(resp.Data)
		fmt.Println()
	} else {
		fmt.Println(resp.Message)
		if len(resp.Data) > 0 {
			var buf bytes.Buffer
			if json.Indent(&buf, resp.Data, "", "  ") == nil {
				fmt.Println(buf.String())
			}
		}
	}
	if !resp.OK {
		os.Exit(1)
	}
}
