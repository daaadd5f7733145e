package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-rescue-extract/extract"
)

func streamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "List the streams this extractor can sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STREAM\tKEYS\tREQUIRES\tAREA")
			for _, info := range extract.Catalog() {
				area := "-"
				if info.Area >= 0 {
					area = fmt.Sprint(info.Area)
				}
				requires := info.Requires
				if requires == "" {
					requires = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Stream, strings.Join(info.KeyProperties, ","), requires, area)
			}
			return w.Flush()
		},
	}
}
