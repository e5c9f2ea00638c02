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
	"github.com/apex/log"
	"github.com/blacktop/krkw/internal/config"
	"github.com/blacktop/krkw/internal/utils"
	"github.com/blacktop/krkw/pkg/host"
	"github.com/blacktop/krkw/pkg/perf"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().Bool("raise-limit", false, "Raise RLIMIT_NOFILE to kern.maxfilesperproc")
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:           "info",
	Short:         "Show what this host supports",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		raise, _ := cmd.Flags().GetBool("raise-limit")

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		info, err := host.Query()
		if err != nil {
			return err
		}
		log.Info("Host")
		for k, v := range info.Fields() {
			utils.Indent(log.WithField(k, v).Info)("sysctl")
		}

		p, err := profile.Supported.Select(info.KernelVersion)
		if err != nil {
			return err
		}
		log.WithField("profile", p.Name).Info(colorOK("Supported"))

		ch := perf.New(perf.Config{Host: info, Device: conf.Perf.Device})
		switch {
		case !ch.Supported() || !p.PerfSupported:
			utils.Indent(log.Warn)("perfmon channel not available on this build")
		case !conf.Perf.Enabled:
			utils.Indent(log.WithField("device", conf.Perf.Device).Info)("perfmon channel available (disabled in config)")
		default:
			utils.Indent(log.WithField("device", conf.Perf.Device).Info)("perfmon channel available")
		}

		if raise {
			n, err := host.RaiseFileLimit()
			if err != nil {
				return err
			}
			utils.Indent(log.Info)("open file limit " + humanize.Comma(int64(n)))
		}
		return nil
	},
}
