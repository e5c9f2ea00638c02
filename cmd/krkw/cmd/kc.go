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
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/go-macho"
	"github.com/blacktop/krkw/internal/utils"
	"github.com/blacktop/krkw/pkg/perf"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var colorOK = color.New(color.FgHiGreen).SprintFunc()
var colorFail = color.New(color.FgHiRed, color.Bold).SprintFunc()

func init() {
	rootCmd.AddCommand(kcCmd)
	kcCmd.AddCommand(kcListCmd)
	kcCmd.AddCommand(kcCheckCmd)
	kcCheckCmd.Flags().StringP("model", "m", "D74AP", "Hardware model")
	kcCheckCmd.Flags().StringP("build", "b", "", "OS build")
	kcCheckCmd.MarkFlagRequired("build")
	kcCheckCmd.MarkZshCompPositionalArgumentFile(1, "kernelcache.*")
}

// kcCmd represents the kc command
var kcCmd = &cobra.Command{
	Use:     "kc",
	Aliases: []string{"kernelcache"},
	Short:   "Kernelcache address tables of the perfmon channel",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// kcListCmd represents the kc ls command
var kcListCmd = &cobra.Command{
	Use:           "ls",
	Short:         "List kernelcache address tables",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tBUILD\tNAME\tKERNEL BASE")
		for _, kc := range perf.Kernelcaches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%#x\n", kc.Model, kc.Build, colorName(kc.Name), kc.KernelBase)
		}
		return w.Flush()
	},
}

// kcCheckCmd represents the kc check command
var kcCheckCmd = &cobra.Command{
	Use:   "check KERNELCACHE",
	Short: "Check a kernelcache against its address table",
	Example: heredoc.Doc(`
		# Check the iOS 16.5 table
		❯ krkw kc check --build 20F66 kernelcache.release.iPhone15,3`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		model, _ := cmd.Flags().GetString("model")
		build, _ := cmd.Flags().GetString("build")

		kc, ok := perf.LookupKernelcache(model, build)
		if !ok {
			return fmt.Errorf("no address table for %s %s", model, build)
		}

		machoPath := filepath.Clean(args[0])

		m, err := macho.Open(machoPath)
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", machoPath)
		}
		defer m.Close()

		segs, base, err := perf.MachoSegments(m)
		if err != nil {
			return err
		}
		log.WithField("kernelcache", kc.Name).Info("Checking")
		for _, s := range segs {
			utils.Indent(log.WithFields(log.Fields{
				"addr": utils.Hex(s.Addr),
				"size": humanize.Bytes(s.Size),
			}).Debug)(s.Name)
		}

		results, err := perf.Check(kc, base, segs)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		failed := 0
		for _, r := range results {
			status := colorOK("ok")
			if !r.OK {
				status = colorFail("outside")
				failed++
			}
			fmt.Fprintf(w, "%s\t%#x\t%s\t%s\n", r.Symbol, r.Addr, r.Segment, status)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d addresses are outside every segment", failed, len(results))
		}
		log.Info(colorOK("Address table matches kernelcache"))
		return nil
	},
}
