package main

import (
	"encoding/hex"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/spf13/cobra"
)

var cmdRead = &cobra.Command{
	Use:   "read DEVICE",
	Short: "Hexdump a byte range read through the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := cacheOptions()
		if err != nil {
			return err
		}
		id, err := volumeid.Open(args[0], opts...)
		if err != nil {
			return err
		}
		defer id.Close()

		view, err := id.GetView(flagRead.Offset, flagRead.Length)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, hex.Dump(view))
		st := id.Stats()
		fmt.Fprintf(out, "%d physical read(s), %s\n", st.Reads(), humanize.IBytes(uint64(st.BytesRead)))
		return nil
	},
}

var flagRead struct {
	Offset uint64
	Length int
}

func init() {
	cmdRead.Flags().Uint64Var(&flagRead.Offset, "offset", 0, "Byte offset of the range")
	cmdRead.Flags().IntVar(&flagRead.Length, "length", 512, "Byte length of the range")
	cmdMain.AddCommand(cmdRead)
}
