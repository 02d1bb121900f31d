package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
	"github.com/ironsheep/plan-symbols-mcp/internal/pipeline"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) newMatchCmd() *cobra.Command {
	var (
		output  string
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "match <page> <legend>",
		Short: "Match legend symbols against a page and print the report as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			page, err := imaging.LoadFile(args[0])
			if err != nil {
				return err
			}
			legendImg, err := imaging.LoadFile(args[1])
			if err != nil {
				return err
			}

			p, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			report, err := p.Run(ctx, page, legendImg, pipeline.RunOptions{
				PageName:      filepath.Base(args[0]),
				LegendName:    filepath.Base(args[1]),
				AnnotatedPath: output,
				NoCache:       noCache,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the annotated page to this PNG")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the report cache")
	return cmd
}

func (a *app) newLegendCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "legend <legend>",
		Short: "List the exemplars found on a legend image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			img, err := imaging.LoadFile(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			templates, err := p.ExtractLegend(ctx, img)
			if err != nil {
				return err
			}

			type symbol struct {
				ID     int    `json:"id"`
				Name   string `json:"name"`
				Bounds [4]int `json:"bounds"`
				Path   string `json:"path,omitempty"`
			}
			out := make([]symbol, len(templates))
			for i, t := range templates {
				out[i] = symbol{ID: t.ID, Name: t.Name, Bounds: [4]int{t.Bounds.X1, t.Bounds.Y1, t.Bounds.X2, t.Bounds.Y2}}
				if dir != "" {
					out[i].Path = filepath.Join(dir, t.Name+".png")
					if err := imaging.SavePNG(out[i].Path, t.Image); err != nil {
						return err
					}
				}
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "write each exemplar as a PNG into this directory")
	return cmd
}

func (a *app) newSplitCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "split <page>",
		Short: "Print the section layout of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := imaging.LoadFile(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			sections, err := p.Split(img)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, s := range sections {
				fmt.Fprintf(w, "%d\t%d,%d\t%dx%d\n", s.Index, s.Rect.Min.X, s.Rect.Min.Y, s.Rect.Dx(), s.Rect.Dy())
				if dir != "" {
					if err := imaging.SavePNG(filepath.Join(dir, fmt.Sprintf("section-%d.png", s.Index)), s.Image); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "write each section as a PNG into this directory")
	return cmd
}
