package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/chaos-io/cutout/remote"
)

var errSignedOut = errors.New("not signed in: set remote.base_url and remote.token")

func newServeStoreCmd(root *Root) *cobra.Command {
	var addr, dir, token string

	cmd := &cobra.Command{
		Use:   "serve-store",
		Short: "Run a local remote-store server for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := gin.DebugMode
			if root.cfg.Log.Mode == "release" {
				mode = gin.ReleaseMode
			}
			srv, err := remote.NewServer(dir, token, mode)
			if err != nil {
				return err
			}
			return srv.Run(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Remote.Addr, "Listen address")
	cmd.Flags().StringVar(&dir, "dir", root.cfg.Remote.UploadDir, "Upload directory")
	cmd.Flags().StringVar(&token, "token", root.cfg.Remote.Token, "Bearer token clients must send (empty: open)")
	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage uploads in the remote history",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List uploaded images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := root.remoteStore()
			if store == nil {
				return errSignedOut
			}
			items, err := store.ListHistory(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCREATED\tURL")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Name, it.CreatedAt.Local().Format(time.DateTime), it.URL)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one uploaded image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := root.remoteStore()
			if store == nil {
				return errSignedOut
			}
			return store.DeleteHistoryItem(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every uploaded image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := root.remoteStore()
			if store == nil {
				return errSignedOut
			}
			return store.DeleteAll(cmd.Context())
		},
	})
	return cmd
}
