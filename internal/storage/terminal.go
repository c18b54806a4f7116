package storage

import (
	"context"
	"fmt"
	"io"
)

// Terminal is for displaying data on terminal.
type Terminal struct {
	out io.Writer
}

var terminal Terminal

// TerminalTimestamp is used as a format to display only the time.
const TerminalTimestamp = "15:04:05.999"

// InitTerminal initializes terminal display.
// Output writer is always os.Stdout except in case of testing where file will be set as output terminal.
func InitTerminal(out io.Writer) *Terminal {
	if terminal.out == nil {
		terminal = Terminal{
			out: out,
		}
	}
	return &terminal
}

// GetTerminal returns already prepared terminal instance.
func GetTerminal() *Terminal {
	return &terminal
}

// CommitTicks batch outputs input tick data to terminal.
func (t *Terminal) CommitTicks(_ context.Context, data []Tick) error {
	for i := range data {
		tick := data[i]
		fmt.Fprintf(t.out, "%-10s%-12s%-14s%-14s%-14s%20s\n\n",
			"Tick", tick.Exchange, tick.Symbol, fmtPrice(tick.BestBid), fmtPrice(tick.MarkPrice),
			tick.Timestamp.Local().Format(TerminalTimestamp))
	}
	return nil
}

func fmtPrice(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}
