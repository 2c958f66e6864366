package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/edgesim/pkg/kv"
)

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Inspect and edit KV namespaces",
}

var kvGetCmd = &cobra.Command{
	Use:   "get <namespace> <key>",
	Short: "Print the value of a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, persist, err := newFactory(cmd)
		if err != nil {
			return err
		}
		defer f.Dispose()
		backend, err := f.Storage(args[0], persist)
		if err != nil {
			return err
		}
		ns := kv.New(backend, kv.Options{})
		entry, err := ns.Get(cmd.Context(), args[1], kv.GetTypeText)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("key %q not found", args[1])
		}
		fmt.Println(entry.Text())
		return nil
	},
}

var kvPutCmd = &cobra.Command{
	Use:   "put <namespace> <key> <value>",
	Short: "Store a value under a key",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, persist, err := newFactory(cmd)
		if err != nil {
			return err
		}
		defer f.Dispose()
		backend, err := f.Storage(args[0], persist)
		if err != nil {
			return err
		}
		ttl, _ := cmd.Flags().GetInt64("ttl")
		ns := kv.New(backend, kv.Options{})
		return ns.Put(cmd.Context(), args[1], []byte(args[2]), kv.PutOptions{ExpirationTTL: ttl})
	},
}

var kvListCmd = &cobra.Command{
	Use:   "list <namespace>",
	Short: "List keys in a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, persist, err := newFactory(cmd)
		if err != nil {
			return err
		}
		defer f.Dispose()
		backend, err := f.Storage(args[0], persist)
		if err != nil {
			return err
		}
		prefix, _ := cmd.Flags().GetString("prefix")
		ns := kv.New(backend, kv.Options{})

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Name", "Expiration", "Metadata"})
		cursor := ""
		for {
			res, err := ns.List(cmd.Context(), kv.ListOptions{Prefix: prefix, Cursor: cursor})
			if err != nil {
				return err
			}
			for _, k := range res.Keys {
				expiration := "-"
				if k.Expiration != 0 {
					expiration = strconv.FormatInt(k.Expiration, 10)
				}
				metadata := "-"
				if len(k.Metadata) > 0 {
					metadata = string(k.Metadata)
				}
				table.Append([]string{k.Name, expiration, metadata})
			}
			if res.ListComplete {
				break
			}
			cursor = res.Cursor
		}
		table.Render()
		return nil
	},
}

func init() {
	kvPutCmd.Flags().Int64("ttl", 0, "expiration TTL in seconds")
	kvListCmd.Flags().String("prefix", "", "only list keys with this prefix")
	kvCmd.AddCommand(kvGetCmd, kvPutCmd, kvListCmd)
}
