package annotations

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
}

// NewOutputFormatter creates a formatter, enabling colour when w is a
// terminal.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}
	return &OutputFormatter{useColor: useColor, writer: w}
}

// Handle prints an event as it occurs.
func (f *OutputFormatter) Handle(event Event) {
	if output := f.Format(event); output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format converts an event to a human-readable line. Events it does not
// know are rendered generically.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)
	data := event.Data

	switch event.Name {
	case QueryInvoked:
		return fmt.Sprintf("%s Execution %v: %s in %s",
			latency,
			data["execution.id"],
			f.colorizeCount("bindings", intValue(data["bindings.count"])),
			f.colorizeCount("groups", intValue(data["groups.count"])))

	case QueryPlanCreated:
		return fmt.Sprintf("\n%s", data["plan"])

	case QueryComplete:
		if success, _ := data["success"].(bool); !success {
			return fmt.Sprintf("%s %s Execution failed: %v",
				latency,
				f.colorize("✗", color.FgRed),
				data["error"])
		}
		return fmt.Sprintf("%s %s Execution done with %s after %s.",
			latency,
			f.colorize("===", color.FgGreen),
			f.colorizeCount("rows", intValue(data["rows.count"])),
			f.colorizeCount("rounds", intValue(data["rounds.total"])))

	case ScopeBegin:
		kind := "With"
		if rec, _ := data["recursive"].(bool); rec {
			kind = "With Mutually Recursive"
		}
		return fmt.Sprintf("%s %s %s [%s]",
			latency,
			f.colorize("===", color.FgYellow),
			kind,
			data["scope"])

	case RoundComplete:
		return fmt.Sprintf("%s [%s] round %d: %s changed, %s",
			latency,
			data["scope"],
			intValue(data["round"]),
			f.colorizeCount("bindings", intValue(data["changed"])),
			f.colorizeCount("delta rows", intValue(data["delta.rows"])))

	case GroupConverged:
		return fmt.Sprintf("%s %s [%s] converged after %s with %s",
			latency,
			f.colorize("✓", color.FgGreen),
			data["scope"],
			f.colorizeCount("rounds", intValue(data["rounds"])),
			f.colorizeCount("rows", intValue(data["rows.count"])))

	case JoinDelta:
		line := fmt.Sprintf("%s %s: %d terms → %s",
			latency,
			data["join"],
			intValue(data["terms"]),
			f.colorizeCount("rows", intValue(data["output.rows"])))
		if intValue(data["output.rows"]) > 100000 {
			return f.colorize("⚠️ ", color.FgYellow) + line
		}
		return line

	case ReduceGroups:
		mode := "sequential"
		if par, _ := data["parallel"].(bool); par {
			mode = "parallel"
		}
		return fmt.Sprintf("%s %s: %s (%s) → %s",
			latency,
			data["operator"],
			f.colorizeCount("groups", intValue(data["groups.affected"])),
			mode,
			f.colorizeCount("rows", intValue(data["output.rows"])))

	case ArrangementBuilt:
		return fmt.Sprintf("%s Arranged %s by [%s] with %s",
			latency,
			data["collection"],
			data["key"],
			f.colorizeCount("rows", intValue(data["rows"])))

	case ArrangementReused:
		return fmt.Sprintf("%s Reused arrangement of %s by [%s]",
			latency,
			data["collection"],
			data["key"])
	}

	keys := make([]string, 0, len(data))
	for k, v := range data {
		keys = append(keys, fmt.Sprintf("%s=%v", k, v))
	}
	return fmt.Sprintf("%s %s %s", latency, event.Name, strings.Join(keys, " "))
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

// formatLatency renders a duration, coloured by magnitude.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)
	if !f.useColor {
		return s
	}
	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// colorizeCount formats a count with a label, coloured by label.
func (f *OutputFormatter) colorizeCount(label string, count int) string {
	text := fmt.Sprintf("%d %s", count, label)
	if !f.useColor {
		return text
	}
	switch label {
	case "rows", "delta rows":
		return color.MagentaString(text)
	case "rounds":
		return color.CyanString(text)
	case "groups", "bindings":
		return color.BlueString(text)
	default:
		return text
	}
}

func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// ConsoleHandler creates a handler that prints formatted events to stderr.
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stderr).Handle
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
