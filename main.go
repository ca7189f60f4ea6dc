package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/krantius/bullycast/bully"
	"github.com/krantius/bullycast/shared/logging"
	"github.com/krantius/bullycast/shared/metrics"
	"github.com/krantius/bullycast/shared/netutil"
)

// verbosity is a flag that counts its occurrences: -v -v and -vv both give 2.
type verbosity int

func (v *verbosity) String() string {
	return strconv.Itoa(int(*v))
}

func (v *verbosity) Set(s string) error {
	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			*v++
		}
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*v = verbosity(n)
	return nil
}

func (v *verbosity) IsBoolFlag() bool {
	return true
}

// expandShort rewrites -vvv into -v -v -v for the flag package.
func expandShort(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if len(a) > 2 && a[0] == '-' && a[1] == 'v' && isRepeat(a[1:], 'v') {
			for range a[1:] {
				out = append(out, "-v")
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

func isRepeat(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != c {
			return false
		}
	}
	return true
}

func main() {
	var v verbosity
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Var(&v, "v", "increase verbosity (repeatable, up to 4)")
	fs.Parse(expandShort(os.Args[1:]))

	level := logging.SetVerbosity(int(v))
	if v > 0 {
		logging.Infof("Verbose: %d (%s)", v, level)
	}

	e := readEnv()

	ip, err := netutil.OwnIPv4(e.Addr)
	if err != nil {
		logging.Fatalf("Cannot resolve own address: %v", err)
	}
	self, err := bully.AddressFromIP(ip)
	if err != nil {
		logging.Fatalf("Cannot order own address: %v", err)
	}
	logging.Tracef("My own ip is: %s", self)

	cfg, err := nodeConfig(self, e)
	if err != nil {
		logging.Fatalf("Invalid configuration: %v", err)
	}

	udp := bully.DefaultUDPConfig()
	udp.Interface = netutil.MulticastInterface(ip)

	group, err := bully.ListenGroup(udp)
	if err != nil {
		logging.Fatalf("Cannot join broadcast group: %v", err)
	}
	unicast, err := bully.ListenUnicast(udp)
	if err != nil {
		logging.Fatalf("Cannot bind unicast port: %v", err)
	}

	reg := metrics.New()

	node, err := bully.NewNode(cfg, group, unicast, reg)
	if err != nil {
		logging.Fatalf("Cannot create node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if e.APIAddr != "" {
		go func() {
			logging.Infof("Status API listening on %s", e.APIAddr)
			if err := http.ListenAndServe(e.APIAddr, node.Router(reg.Handler())); err != nil {
				logging.Errorf("Status API stopped: %v", err)
			}
		}()
	}

	go printMessages(os.Stdout, node.Messages())
	go readInput(os.Stdin, os.Stdout, node.Send)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-c
		logging.Info("Interrupted")
		cancel()
	}()

	if err := node.Run(ctx); err != nil {
		logging.Fatalf("Node stopped: %v", err)
	}
}
