// mixprobe is a console diagnostic: it validates the link, prints the
// scene directory, and can stream decoded meter frames to stdout.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chabad360/go-osc/osc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"xbridge/lib/meters"
	"xbridge/lib/mixer"
	"xbridge/lib/scene"
)

func main() {
	addr := pflag.String("mixer", fmt.Sprintf("192.168.1.1:%d", mixer.DefaultPort), "mixer address")
	showScenes := pflag.Bool("scenes", false, "print the scene directory")
	streamMeters := pflag.Bool("meters", false, "stream level meter frames")
	pflag.Parse()
	logrus.SetLevel(logrus.WarnLevel)

	client, err := mixer.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	info := make(chan []any, 1)
	sceneDone := make(chan scene.DirectoryPayload, 1)
	syn := scene.New(probeConn{client}, func(event string, payload any) {
		if event == "scene_list" {
			select {
			case sceneDone <- payload.(scene.DirectoryPayload):
			default:
			}
		}
	})

	client.SetHandler(func(msg *osc.Message) {
		switch msg.Address {
		case "/xinfo":
			select {
			case info <- msg.Arguments:
			default:
			}
		case "/-snap/index":
			if len(msg.Arguments) > 0 {
				if v, ok := msg.Arguments[0].(int32); ok {
					syn.HandleIndex(int(v))
				}
			}
		case "/meters/1":
			if !*streamMeters || len(msg.Arguments) == 0 {
				return
			}
			blob, ok := msg.Arguments[0].([]byte)
			if !ok {
				return
			}
			if frame, ok := meters.DecodeLevels(blob, time.Now()); ok {
				fmt.Printf("ch01=%6.1f ch02=%6.1f mainL=%6.1f mainR=%6.1f\n",
					frame.Channels[0], frame.Channels[1], frame.MainL, frame.MainR)
			}
		}
	})

	if err := client.Send("/xinfo"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	select {
	case args := <-info:
		fmt.Printf("Mixer: %v\n", args)
	case <-time.After(3 * time.Second):
		fmt.Fprintln(os.Stderr, "Error: no response from mixer")
		os.Exit(1)
	}

	if *showScenes {
		syn.Refresh()
		select {
		case dir := <-sceneDone:
			for _, slot := range dir.Scenes {
				if slot.Name != "" {
					fmt.Printf("  %2d  %s\n", slot.ID, slot.Name)
				}
			}
			if dir.Current != nil {
				fmt.Printf("Current scene: %d\n", *dir.Current)
			}
		case <-time.After(15 * time.Second):
			fmt.Fprintln(os.Stderr, "Error: scene directory timed out")
			os.Exit(1)
		}
	}

	if *streamMeters {
		if err := client.Send("/meters", "/meters/1"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		// Subscriptions lapse after ~10s; renew until interrupted.
		ticker := time.NewTicker(9 * time.Second)
		defer ticker.Stop()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		for {
			select {
			case <-ticker.C:
				client.Send("/meters", "/meters/1")
			case <-sig:
				fmt.Println()
				return
			}
		}
	}
}

// probeConn adapts the client to the synchronizer's transport contract.
type probeConn struct{ client *mixer.Client }

func (c probeConn) Send(addr string, args ...any) error {
	return c.client.Send(addr, args...)
}

func (c probeConn) Collect(addrs []string, notify func(addr string, args []any)) scene.Collector {
	return c.client.NewCollector(addrs, notify)
}
