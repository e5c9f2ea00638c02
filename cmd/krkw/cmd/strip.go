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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/blacktop/krkw/pkg/xnu/pac"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(stripCmd)
}

// stripCmd represents the strip command
var stripCmd = &cobra.Command{
	Use:   "strip PTR...",
	Short: "Strip the pointer authentication code from kernel pointers",
	Example: heredoc.Doc(`
		# Strip with the A15+ address space size
		❯ krkw strip 0x8b6a7ff007f39b28
		# Strip for an A14 device
		❯ krkw strip --t1sz 25 0x8b6a7ff007f39b28`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		t1sz := viper.GetUint("t1sz")
		if t1sz == 0 {
			t1sz = profile.DefaultT1SZ
		}
		s := pac.Stripper{T1SZ: t1sz}

		for _, arg := range args {
			ptr, err := strconv.ParseUint(arg, 0, 64)
			if err != nil {
				return errors.Wrapf(err, "bad pointer %q", arg)
			}
			fmt.Printf("%#016x -> %s\n", ptr, colorName(fmt.Sprintf("%#016x", s.Strip(ptr))))
		}
		return nil
	},
}
