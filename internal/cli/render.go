package cli

import (
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/spf13/cobra"
)

func newRenderCmd() *cobra.Command {
	var flags renderFlags

	cmd := &cobra.Command{
		Use:   "render [input] [output]",
		Short: "Render one photo as a full story",
		Long: `Render one photo as a full story.

Without arguments the input path is read from stdin, so a file can be dragged
onto the terminal.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				input, err := promptPath(cmd, "Drag and drop your image here: ")
				if err != nil {
					return err
				}
				args = []string{input}
			}

			if err := pipeline.Startup(); err != nil {
				return err
			}
			defer pipeline.Shutdown()

			renderer, mode, err := flags.renderer()
			if err != nil {
				return err
			}

			src, err := readSource(args[0])
			if err != nil {
				return err
			}

			rendered, err := renderer.RenderSoloBytes(cmd.Context(), src, mode)
			if err != nil {
				return err
			}

			output := defaultOutput(args[0], "story")
			if len(args) == 2 {
				output = args[1]
			}
			return writeOutput(cmd, output, rendered)
		},
	}
	flags.register(cmd)

	return cmd
}
