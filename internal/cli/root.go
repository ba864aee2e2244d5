// Package cli implements the storyframe command line: one-off renders of
// local files with the same compositor the worker and bot use.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/storyframe/internal/config"
	"github.com/dunamismax/storyframe/internal/domain"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storyframe",
		Short: "Compose photos into 9:16 Instagram stories",
		Long: `Storyframe fits one photo, or two stacked photos, onto a 9:16 story canvas.

Photos are either cropped to fill their frame or fitted inside it over a
blurred copy of themselves.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
	}

	cmd.AddCommand(newRenderCmd())
	cmd.AddCommand(newSplitCmd())

	return cmd
}

type renderFlags struct {
	mode    string
	preset  string
	quality int
}

func (f *renderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "", "layout mode: fill or fit (default from STORY_DEFAULT_MODE)")
	cmd.Flags().StringVar(&f.preset, "preset", "", "YAML render preset overlaid on the environment settings")
	cmd.Flags().IntVarP(&f.quality, "quality", "q", 0, "JPEG quality 1-100 (default from STORY_JPEG_QUALITY)")
}

// renderer builds a renderer from the environment, the optional preset and
// the flags, in that order of precedence.
func (f *renderFlags) renderer() (*pipeline.Renderer, domain.LayoutMode, error) {
	render := config.Load().Render
	if f.preset != "" {
		var err error
		render, err = config.LoadRenderPreset(f.preset, render)
		if err != nil {
			return nil, "", err
		}
	}
	if f.quality != 0 {
		render.JPEGQuality = f.quality
	}

	mode, err := domain.ParseLayoutMode(f.mode, render.DefaultMode)
	if err != nil {
		return nil, "", err
	}

	renderer, err := pipeline.NewRenderer(render.Settings())
	if err != nil {
		return nil, "", err
	}
	return renderer, mode, nil
}

// promptPath reads one path from stdin. Quotes and spaces that terminals add
// around dropped files are trimmed.
func promptPath(cmd *cobra.Command, prompt string) (string, error) {
	cmd.Print(prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input path: %w", err)
	}
	path := strings.Trim(strings.TrimSpace(line), `"' `)
	if path == "" {
		return "", errors.New("no input image given")
	}
	return path, nil
}

func readSource(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeOutput(cmd *cobra.Command, path string, rendered pipeline.Rendered) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, rendered.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	cmd.Printf("Saved to: %s\n", path)
	return nil
}

// defaultOutput places the result next to the source: photo.png becomes
// photo_story.jpg.
func defaultOutput(source, suffix string) string {
	ext := filepath.Ext(source)
	return strings.TrimSuffix(source, ext) + "_" + suffix + ".jpg"
}
