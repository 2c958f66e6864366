package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/edgesim/pkg/storage/factory"
)

// newFactory builds the storage factory from config and the --persist flag.
func newFactory(cmd *cobra.Command) (*factory.Factory, factory.Persist, error) {
	raw, _ := cmd.Flags().GetString("persist")
	if raw == "" {
		raw = cfg.Storage.Persist
	}
	persist, err := factory.ParsePersist(raw)
	if err != nil {
		return nil, factory.Persist{}, err
	}
	f := factory.New(factory.Options{
		RootPath: cfg.Storage.Root,
	})
	return f, persist, nil
}
