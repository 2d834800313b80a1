package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chaos-io/cutout/batch"
	"github.com/chaos-io/cutout/export"
)

func newTiersCmd(root *Root) *cobra.Command {
	var (
		scales []float64
		edits  editFlags
	)

	cmd := &cobra.Command{
		Use:   "tiers <image>",
		Short: "Estimate the export size of each quality tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := edits.patch(cmd, root.cfg.Export.Watermark)
			if err != nil {
				return err
			}
			files, err := readFiles(args)
			if err != nil {
				return err
			}
			if len(scales) == 0 {
				scales = root.cfg.Export.Scales
			}

			remover, closeRemover := root.remover(cmd.Context())
			defer closeRemover()

			opts := root.batchOptions(logEvents)
			opts.Uploader = nil
			o := batch.New(remover, opts)
			defer o.Close()
			asset, err := edits.asset(cmd.Context())
			if err != nil {
				return err
			}
			o.SetBackgroundAsset(asset)

			o.AddFiles(cmd.Context(), files)
			o.Wait()
			if _, err := applyEdits(o, patch, edits.autoRestore); err != nil {
				return err
			}
			sess, _ := o.Active()

			engine := export.NewEngine(root.cfg.Export.MaxConcurrent)
			tiers, err := engine.Tiers(sess.ExportRequest(1), scales)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCALE\tSIZE\tBYTES")
			for _, t := range tiers {
				fmt.Fprintf(w, "%.0f%%\t%dx%d\t%s\n", t.Scale*100, t.Width, t.Height, t.Label)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Float64SliceVar(&scales, "scales", nil, "Tier scales (default from config)")
	edits.register(cmd)
	return cmd
}
