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
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/krkw/pkg/host"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolP("fields", "f", false, "Dump every field of the matching profile")
	resolveCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve [KERN_VERSION]",
	Short: "Find the profile for a kern.version string (the host's if omitted)",
	Example: heredoc.Doc(`
		# Resolve the running kernel
		❯ krkw resolve
		# Resolve a captured kern.version and dump its fields
		❯ krkw resolve --fields "Darwin Kernel Version 22.5.0: Mon Apr 24 21:09:28 PDT 2023; root:xnu-8796.122.4~1/RELEASE_ARM64_T8120"`),
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		dumpFields, _ := cmd.Flags().GetBool("fields")
		asJSON, _ := cmd.Flags().GetBool("json")

		var kernVersion string
		if len(args) > 0 {
			kernVersion = args[0]
		} else {
			info, err := host.Query()
			if err != nil {
				return err
			}
			log.WithFields(info.Fields()).Debug("Host")
			kernVersion = info.KernelVersion
		}

		vid, err := profile.Supported.Resolve(strings.TrimSpace(kernVersion))
		if err != nil {
			return err
		}
		p := profile.Supported[vid]
		if t := viper.GetUint("t1sz"); t != 0 {
			p.T1SZ = t
		}

		if asJSON {
			o, err := json.Marshal(struct {
				Index   int             `json:"index"`
				Profile profile.Profile `json:"profile"`
				Static  []profile.Field `json:"static,omitempty"`
			}{Index: vid, Profile: p, Static: profile.StaticFields()})
			if err != nil {
				return err
			}
			fmt.Println(string(o))
			return nil
		}

		log.WithField("index", vid).Info(colorName(p.Name))

		if dumpFields {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tOFFSET\tWIDTH\tSIZEOF")
			for _, f := range p.Fields() {
				fmt.Fprintf(w, "%s\t%#x\t%d\t%#x\n", f.Name, f.Offset, f.Width, f.ObjectSize)
			}
			for _, f := range profile.StaticFields() {
				fmt.Fprintf(w, "%s\t%#x\t%d\t%s\n", f.Name, f.Offset, f.Width, colorFaint("static"))
			}
			return w.Flush()
		}

		return nil
	},
}
