package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/batch"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/params"
	"github.com/chaos-io/cutout/persist"
	"github.com/chaos-io/cutout/util"
)

var errNothingSegmented = errors.New("no image could be segmented")

func newRunCmd(root *Root) *cobra.Command {
	var (
		output string
		scale  float64
		edits  editFlags
	)

	cmd := &cobra.Command{
		Use:   "run <image>...",
		Short: "Cut out images, apply edits and export them",
		Long: `Segment every image, apply the same edits to all of them and export.
One image is written as a PNG, several as a ZIP archive. Edits are saved and
restored the next time the same file is processed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := edits.patch(cmd, root.cfg.Export.Watermark)
			if err != nil {
				return err
			}
			files, err := readFiles(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			remover, closeRemover := root.remover(ctx)
			defer closeRemover()

			opts := root.batchOptions(logEvents)
			store, err := persist.Open(root.cfg.Store.Path)
			if err != nil {
				util.Logger.Warn("task config store unavailable", zap.String("path", root.cfg.Store.Path), zap.Error(err))
			} else {
				defer func() { _ = store.Close() }()
				opts.Saved = store
			}

			o := batch.New(remover, opts)
			defer o.Close()
			asset, err := edits.asset(ctx)
			if err != nil {
				return err
			}
			o.SetBackgroundAsset(asset)

			if store != nil {
				saver, err := persist.NewAutosaver(store, o, root.cfg.Store.Autosave)
				if err != nil {
					return err
				}
				saver.Start()
				// 先于 batch 和 store 关闭，最后保存一次
				defer func() {
					if err := saver.Stop(context.WithoutCancel(ctx)); err != nil {
						util.Logger.Warn("saving task configs failed", zap.Error(err))
					}
				}()
			}

			o.AddFiles(ctx, files)
			o.Wait()

			done, err := applyEdits(o, patch, edits.autoRestore)
			if err != nil {
				return err
			}

			path, err := writeOutput(cmd, o, len(done), output, scale)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d of %d images)\n", path, len(done), len(files))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: timestamped name in the current directory)")
	cmd.Flags().Float64Var(&scale, "scale", 1, "Export scale relative to the cut-out size")
	edits.register(cmd)
	return cmd
}

// applyEdits opens every completed item once, so each gets a session and a
// stored config, and fans patch out to all of them.
func applyEdits(o *batch.Orchestrator, patch params.Patch, autoRestore bool) ([]string, error) {
	var done []string
	for _, it := range o.Items() {
		if it.Status == batch.StatusCompleted {
			done = append(done, it.ID)
		}
	}
	if len(done) == 0 {
		return nil, errNothingSegmented
	}

	o.SetBroadcast(true)
	for i, id := range done {
		if err := o.SelectActive(id); err != nil {
			return nil, err
		}
		if autoRestore {
			if sess, ok := o.Active(); ok && !sess.AutoRestore() {
				util.Logger.Warn("no background colour detected, mask kept", zap.String("item", id))
			}
		}
		if i == 0 && !patch.Empty() {
			if _, err := o.UpdateParams(patch); err != nil {
				return nil, err
			}
		}
	}
	return done, nil
}

func writeOutput(cmd *cobra.Command, o *batch.Orchestrator, n int, output string, scale float64) (string, error) {
	now := time.Now()
	if n == 1 {
		if output == "" {
			output = export.Filename(now, -1)
		}
		data, err := o.ExportActive(scale)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", output, err)
		}
		return output, nil
	}

	if output == "" {
		output = export.ArchiveName(now)
	}
	f, err := os.Create(output)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", output, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := o.ExportAll(cmd.Context(), f, scale); err != nil {
		return "", err
	}
	return output, nil
}
