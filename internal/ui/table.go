package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/presence"
)

// WriteConnections prints registry records as an aligned table.
// Durations are relative to now.
func WriteConnections(w io.Writer, recs []presence.Record, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, RenderMuted(strings.Join([]string{"ADDR", "CLASS", "STATUS", "SINCE", "LAST SEEN", "FRAMES"}, "\t")))
	for _, r := range recs {
		status, since := RenderOK("connected"), r.ConnectedAt
		if !r.Connected {
			status, since = RenderFail("offline"), r.DisconnectedAt
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			RenderAccent(r.Addr), r.Class, status, Ago(now, since), Ago(now, r.LastSeen), r.Frames)
	}
	return tw.Flush()
}

// Ago formats the time from t to now coarsely: "45s", "12m", "3h", "2d".
// A zero t renders as "-".
func Ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
