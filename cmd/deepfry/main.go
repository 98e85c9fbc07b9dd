package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dunamismax/deepfry/internal/deepfry"
	"github.com/dunamismax/deepfry/internal/domain"
	"github.com/dunamismax/deepfry/internal/logging"
	"github.com/dunamismax/deepfry/internal/pipeline"
	"github.com/dunamismax/deepfry/internal/preset"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	red        uint32
	green      uint32
	blue       uint32
	mode       string
	presetPath string
	format     string
	quality    int
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "deepfry [flags] <input> <output>",
		Short: "Deepfry - a tool for deepfrying images",
		Long: "Applies bit-level operations to every RGB channel of an image, either once\n" +
			"(-m with -r/-g/-b) or as the ordered passes of a preset file (-p).\n\n" +
			"Operations: " + strings.Join(deepfry.OperationNames(), ", "),
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewWithOutput(cmd.ErrOrStderr(), "cli", opts.logLevel, opts.logFormat)
			if err := run(cmd.Context(), logger, opts, args[0], args[1]); err != nil {
				logger.WithError(err).Error("deepfry failed")
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Uint32VarP(&opts.red, "red", "r", 1, "red channel parameter")
	flags.Uint32VarP(&opts.green, "green", "g", 1, "green channel parameter")
	flags.Uint32VarP(&opts.blue, "blue", "b", 1, "blue channel parameter")
	flags.StringVarP(&opts.mode, "mode", "m", "", "bit changing mode")
	flags.StringVarP(&opts.presetPath, "preset", "p", "", "preset file (toml, yaml or json)")
	flags.StringVarP(&opts.format, "format", "f", "", "output format (png, jpeg, bmp, tiff, webp); defaults to the output extension")
	flags.IntVarP(&opts.quality, "quality", "q", 0, "jpeg/webp quality 1-100")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flags.StringVar(&opts.logFormat, "log-format", logging.FormatText, "log format (text or json)")

	return cmd
}

func run(ctx context.Context, logger logrus.FieldLogger, opts *options, input, output string) error {
	recipe, err := buildRecipe(opts)
	if err != nil {
		return err
	}

	if err := pipeline.Startup(logger); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	processor, err := pipeline.NewProcessor(pipeline.LocalFileFetcher{}, pipeline.PathEmitter{Path: output})
	if err != nil {
		return err
	}

	format := opts.format
	if strings.TrimSpace(format) == "" {
		inferred, err := pipeline.FormatForPath(output)
		if err != nil {
			return err
		}
		format = inferred
	}

	result, err := processor.Process(ctx, pipeline.Request{
		JobID:      "cli",
		SourceType: pipeline.SourceTypeLocalFile,
		ObjectKey:  input,
		Recipe:     recipe,
		Format:     format,
		Quality:    opts.quality,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"input":  input,
		"output": result.Output.Path,
		"format": result.Output.Format,
		"passes": result.Output.Passes,
		"size":   fmt.Sprintf("%dx%d", result.Output.Width, result.Output.Height),
		"bytes":  humanize.Bytes(uint64(result.Output.Bytes)),
	}).Info("fried")
	return nil
}

// buildRecipe leaves the mode/preset conflict check to Recipe.Algorithms so
// the CLI and the job API reject the same inputs.
func buildRecipe(opts *options) (domain.Recipe, error) {
	recipe := domain.Recipe{
		Mode:  opts.mode,
		Red:   opts.red,
		Green: opts.green,
		Blue:  opts.blue,
	}
	if strings.TrimSpace(opts.presetPath) != "" {
		p, err := preset.Load(opts.presetPath)
		if err != nil {
			return domain.Recipe{}, err
		}
		recipe.Preset = &p
	}
	return recipe, nil
}
