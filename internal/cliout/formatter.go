// Package cliout renders fluidmcpctl output, adapted from the teacher's
// internal/cli/output.Formatter (text/JSON switch, colorized errors,
// tablewriter-rendered listings).
package cliout

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/fluidmcp/gateway/internal/client"
	"github.com/fluidmcp/gateway/internal/mcp"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Formatter struct {
	format Format
	color  bool
}

func NewFormatter(format Format, useColor bool) *Formatter {
	return &Formatter{format: format, color: useColor}
}

func (f *Formatter) PrintJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func (f *Formatter) PrintError(err error) {
	if f.color {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %s", err.Error()))
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
}

func (f *Formatter) PrintServers(views []client.ServerView) {
	if f.format == FormatJSON {
		f.PrintJSON(views)
		return
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"ID", "Name", "Enabled", "State", "PID"}),
	)
	for _, v := range views {
		state, pid := "-", "-"
		if v.Status != nil {
			state = string(v.Status.State)
			if v.Status.PID != 0 {
				pid = fmt.Sprintf("%d", v.Status.PID)
			}
		}
		table.Append([]string{v.ID, v.Name, fmt.Sprintf("%v", v.Enabled), state, pid})
	}
	table.Render()
}

func (f *Formatter) PrintTools(tools []mcp.ToolDescriptor) {
	if f.format == FormatJSON {
		f.PrintJSON(tools)
		return
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Name", "Description"}),
	)
	for _, t := range tools {
		table.Append([]string{t.Name, t.Description})
	}
	table.Render()
}

func (f *Formatter) PrintStatus(status string) {
	if f.format == FormatJSON {
		f.PrintJSON(map[string]string{"status": status})
		return
	}
	if f.color {
		fmt.Println(color.GreenString(status))
		return
	}
	fmt.Println(status)
}
