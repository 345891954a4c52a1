package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// addrView is the JSON/table projection of a decoded ConnectableAddr.
type addrView struct {
	Input     string `json:"input"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Reachable bool   `json:"reachable"`
}

func formatAddr(v addrView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal addr to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Input:\t%s\n", v.Input)
		fmt.Fprintf(w, "Host:\t%s\n", v.Host)
		fmt.Fprintf(w, "Port:\t%d\n", v.Port)
		fmt.Fprintf(w, "Reachable:\t%t\n", v.Reachable)
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// knownDemoStep is one step of the addr known-demo simulation.
type knownDemoStep struct {
	Inserted string `json:"inserted"`
	Evicted  string `json:"evicted,omitempty"`
	Size     int    `json:"size"`
}

func formatKnownDemo(steps []knownDemoStep, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(steps, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal known-demo steps to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INSERTED\tEVICTED\tSIZE")
		for _, s := range steps {
			evicted := s.Evicted
			if evicted == "" {
				evicted = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\n", s.Inserted, evicted, s.Size)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}
