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
	"strconv"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/aymanbagabas/go-udiff"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(diffCmd)
}

// findProfile returns the row with index or name arg.
func findProfile(t profile.Table, arg string) (*profile.Profile, error) {
	if i, err := strconv.Atoi(arg); err == nil {
		if i < 0 || i >= len(t) {
			return nil, errors.Errorf("profile index %d out of range [0, %d)", i, len(t))
		}
		return &t[i], nil
	}
	for i := range t {
		if strings.EqualFold(t[i].Name, arg) {
			return &t[i], nil
		}
	}
	return nil, errors.Errorf("no profile named %q", arg)
}

// layoutDump renders a row's fields one per line so two rows diff by field.
func layoutDump(p *profile.Profile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "t1sz %d\n", p.T1SZ)
	fmt.Fprintf(&sb, "perf %t\n", p.PerfSupported)
	for _, f := range p.Fields() {
		fmt.Fprintf(&sb, "%s %#x/%d (sizeof %#x)\n", f.Name, f.Offset, f.Width, f.ObjectSize)
	}
	fmt.Fprintf(&sb, "uthread (sizeof %#x)\n", p.Uthread.Size)
	return sb.String()
}

// diffCmd represents the diff command
var diffCmd = &cobra.Command{
	Use:   "diff PROFILE PROFILE",
	Short: "Diff the struct layouts of two profile rows",
	Example: heredoc.Doc(`
		# Compare rows by index
		❯ krkw diff 0 1
		# Compare rows by name
		❯ krkw diff "macOS 13.4 - MacBook Air (M2, 2022)" "iOS 16.5 - iPhone 14 Pro Max"`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		a, err := findProfile(profile.Supported, args[0])
		if err != nil {
			return err
		}
		b, err := findProfile(profile.Supported, args[1])
		if err != nil {
			return err
		}

		out := udiff.Unified(a.Name, b.Name, layoutDump(a), layoutDump(b))
		if out == "" {
			fmt.Println(colorFaint("layouts are identical"))
			return nil
		}
		for _, line := range strings.SplitAfter(out, "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				fmt.Print(colorOK(line))
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				fmt.Print(colorFail(line))
			default:
				fmt.Print(line)
			}
		}
		return nil
	},
}
