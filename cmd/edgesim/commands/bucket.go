package commands

import (
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/edgesim/pkg/objstore"
)

var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Inspect object store buckets",
}

var bucketLsCmd = &cobra.Command{
	Use:   "ls <bucket>",
	Short: "List objects in a bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, persist, err := newFactory(cmd)
		if err != nil {
			return err
		}
		defer f.Dispose()
		backend, err := f.Storage("r2:"+args[0], persist)
		if err != nil {
			return err
		}
		prefix, _ := cmd.Flags().GetString("prefix")
		bucket := objstore.New(backend, objstore.Options{})

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Key", "Size", "ETag", "Uploaded"})
		cursor := ""
		for {
			res, err := bucket.List(cmd.Context(), objstore.ListOptions{Prefix: prefix, Cursor: cursor})
			if err != nil {
				return err
			}
			for _, obj := range res.Objects {
				uploaded := time.UnixMilli(obj.Uploaded).UTC().Format(time.RFC3339)
				table.Append([]string{obj.Key, strconv.FormatInt(obj.Size, 10), obj.ETag, uploaded})
			}
			if !res.Truncated {
				break
			}
			cursor = res.Cursor
		}
		table.Render()
		return nil
	},
}

func init() {
	bucketLsCmd.Flags().String("prefix", "", "only list objects with this prefix")
	bucketCmd.AddCommand(bucketLsCmd)
}
