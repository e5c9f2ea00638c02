/*
Copyright © 2023 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/fatih/color"
	semver "github.com/hashicorp/go-version"
	"github.com/spf13/cobra"
)

var colorName = color.New(color.Bold, color.FgHiBlue).SprintFunc()
var colorFaint = color.New(color.Faint).SprintFunc()

type profileRow struct {
	Name        string `json:"name"`
	Darwin      string `json:"darwin,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
	T1SZ        uint   `json:"t1sz"`
	Perf        bool   `json:"perf"`
	ProcSize    uint64 `json:"proc_size"`
	TaskSize    uint64 `json:"task_size"`

	version *semver.Version
}

func profileRows(t profile.Table) []profileRow {
	var rows []profileRow
	for i := range t {
		p := &t[i]
		r := profileRow{
			Name:        p.Name,
			Fingerprint: p.Fingerprint,
			Placeholder: p.Placeholder,
			T1SZ:        p.T1SZ,
			Perf:        p.PerfSupported,
			ProcSize:    p.Proc.Size,
			TaskSize:    p.Task.Size,
		}
		if v, err := p.Darwin(); err == nil {
			r.Darwin = v.String()
			r.version = v
		}
		rows = append(rows, r)
	}
	// placeholders without a fingerprint sort last
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].version == nil || rows[j].version == nil {
			return rows[j].version == nil && rows[i].version != nil
		}
		return rows[i].version.LessThan(rows[j].version)
	})
	return rows
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

// profilesCmd represents the profiles command
var profilesCmd = &cobra.Command{
	Use:           "profiles",
	Aliases:       []string{"ls"},
	Short:         "List supported kernel builds",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		asJSON, _ := cmd.Flags().GetBool("json")

		rows := profileRows(profile.Supported)

		if asJSON {
			o, err := json.Marshal(rows)
			if err != nil {
				return err
			}
			fmt.Println(string(o))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDARWIN\tT1SZ\tPERF\tSIZEOF(PROC)\tSIZEOF(TASK)")
		for _, r := range rows {
			name := colorName(r.Name)
			if r.Placeholder {
				name = colorFaint(r.Name + " (placeholder)")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%#x\t%#x\n", name, r.Darwin, r.T1SZ, r.Perf, r.ProcSize, r.TaskSize)
		}
		return w.Flush()
	},
}
