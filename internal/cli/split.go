package cli

import (
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/spf13/cobra"
)

func newSplitCmd() *cobra.Command {
	var flags renderFlags

	cmd := &cobra.Command{
		Use:   "split <top> <bottom> [output]",
		Short: "Stack two photos into a top/bottom story",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pipeline.Startup(); err != nil {
				return err
			}
			defer pipeline.Shutdown()

			renderer, mode, err := flags.renderer()
			if err != nil {
				return err
			}

			top, err := readSource(args[0])
			if err != nil {
				return err
			}
			bottom, err := readSource(args[1])
			if err != nil {
				return err
			}

			rendered, err := renderer.RenderPairedBytes(cmd.Context(), top, bottom, mode)
			if err != nil {
				return err
			}

			output := defaultOutput(args[0], "layout")
			if len(args) == 3 {
				output = args[2]
			}
			return writeOutput(cmd, output, rendered)
		},
	}
	flags.register(cmd)

	return cmd
}
