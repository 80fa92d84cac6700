package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/example/facewatch/internal/usecase"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "facewatch",
		Short:         "Face recognition service with a live dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default: $FACEWATCH_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "known",
			Short: "Load the known faces directory and list the recognised names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runKnown(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "identify <image>",
			Short: "Identify the faces in one image file and print the result as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runIdentify(cmd, configPath, args[0])
			},
		},
	)
	return root
}

func runServe(cmd *cobra.Command, configPath string) error {
	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.serve(cmd.Context())
}

func runKnown(cmd *cobra.Command, configPath string) error {
	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	err = a.usecase.ReloadKnownFaces(cmd.Context(), func(done, total int) {
		if total == 0 {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Loading known faces"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
			)
		}
		_ = bar.Set(done)
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range a.registry.Names() {
		fmt.Fprintln(out, name)
	}
	fmt.Fprintf(out, "%d known faces in %s\n", a.registry.Len(), a.cfg.Faces.KnownDir)
	return nil
}

func runIdentify(cmd *cobra.Command, configPath, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.usecase.ReloadKnownFaces(cmd.Context(), nil); err != nil {
		return err
	}

	result, err := a.usecase.Identify(cmd.Context(), usecase.ImageInput{Data: data})
	if err != nil {
		return err
	}
	result.Image = ""

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
