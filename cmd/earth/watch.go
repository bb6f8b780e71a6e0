package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leafbus/internal/events"
	"github.com/alfredjeanlab/leafbus/internal/ui"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream hub events from NATS",
	GroupID: "hub",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		types, _ := cmd.Flags().GetStringSlice("type")
		if natsURL == "" {
			return fmt.Errorf("no NATS URL (set --nats-url or LEAF_NATS_URL)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				fmt.Fprintf(os.Stderr, "%s disconnected: %v\n", ui.RenderFail("nats"), err)
			}),
			nats.ReconnectHandler(func(*nats.Conn) {
				fmt.Fprintf(os.Stderr, "%s reconnected\n", ui.RenderOK("nats"))
			}),
		)
		if err != nil {
			return err
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(events.AllSubjects)
		if err != nil {
			return err
		}
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				printEvent(data, types)
			}
		}
	},
}

func printEvent(data []byte, types []string) {
	e, err := wire.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "undecodable event: %v\n", err)
		return
	}
	if len(types) > 0 && !slices.Contains(types, string(e.Kind())) {
		return
	}
	if jsonOutput {
		fmt.Println(string(data))
		return
	}
	h := e.Head()
	fmt.Printf("%s %-14s %s -> %s %s\n",
		ui.RenderMuted(time.Now().Format("15:04:05")),
		ui.RenderAccent(string(e.Kind())),
		h.Src, h.Dst, summary(e))
}

func summary(e wire.Event) string {
	switch v := e.(type) {
	case *wire.State:
		return v.EID + "=" + string(v.Value)
	case *wire.Action:
		return v.EID + " " + v.Action
	case *wire.Log:
		return v.Levelname + " " + v.Message
	}
	return ""
}

func init() {
	watchCmd.Flags().String("nats-url", os.Getenv("LEAF_NATS_URL"), "NATS server URL")
	watchCmd.Flags().StringSlice("type", nil, "only show these event types (state, action, log, ...)")
}
