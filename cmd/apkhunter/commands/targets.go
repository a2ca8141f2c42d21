package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the target catalog",
	RunE:  runTargets,
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.Flags().String("targets", "", "target catalog file (YAML or JSON)")
}

func runTargets(cmd *cobra.Command, args []string) error {
	if path, _ := cmd.Flags().GetString("targets"); path != "" {
		viper.Set("targets", path)
	}
	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	if catalog == nil {
		return errors.New("no target catalog configured (use --targets or the \"targets\" config key)")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tWAIT\tOUTPUT\tURL")
	for _, t := range catalog.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Mode, t.Deadline(), t.OutputPath(), t.URL)
		if exts := t.ArtifactExtensions(); len(exts) > 1 {
			fmt.Fprintf(tw, "\t\t\t(%s)\t\n", strings.Join(exts, ", "))
		}
	}
	return tw.Flush()
}
