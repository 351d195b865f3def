package cmd

import (
	"github.com/emrgen/panelcraft/internal/compress"
	"github.com/emrgen/panelcraft/internal/config"
	"github.com/emrgen/panelcraft/internal/store"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "db commands",
}

func init() {
	dbCmd.AddCommand(Migrate())
}

func Migrate() *cobra.Command {
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database",
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := openKV(config.LoadConfig()); err != nil {
				panic(err)
			}
		},
	}

	return command
}

// openKV opens the local store described by cfg and migrates it.
func openKV(cfg *config.Config) (*store.GormKV, error) {
	codec, err := compress.New(cfg.Compression)
	if err != nil {
		return nil, err
	}

	kv := store.NewGormKV(config.GetDb(cfg), codec)
	if err := kv.Migrate(); err != nil {
		return nil, err
	}

	return kv, nil
}
