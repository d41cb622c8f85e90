package cli

import (
	"fmt"
	"sort"

	"github.com/fxintel/collector/internal/source"
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered sources",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ids := source.DefaultRegistry().List()
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Println(id)
		}
	},
}
