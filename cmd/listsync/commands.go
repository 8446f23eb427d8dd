package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"listsync/internal/cache"
	"listsync/internal/core/apperror"
	"listsync/internal/fieldtypes"
	"listsync/internal/fixture"
	"listsync/internal/lookupindex"
	"listsync/internal/metadata"
	"listsync/internal/query"
	"listsync/internal/sync"
	"listsync/pkg/logger"
)

// listConfig is the config-file shape of one list definition.
type listConfig struct {
	Title  string        `mapstructure:"title"`
	ID     string        `mapstructure:"id"`
	Fields []fieldConfig `mapstructure:"fields"`
}

type fieldConfig struct {
	InternalName string `mapstructure:"internalName"`
	MappedName   string `mapstructure:"mappedName"`
	ObjectType   string `mapstructure:"objectType"`
	ReadOnly     bool   `mapstructure:"readOnly"`
}

// bindFlags binds the executing command's flags into the shared viper.
// Subcommands reuse flag names, so binding must happen when a command runs,
// not when it is constructed: a construction-time bind would leave the last
// built sibling owning the key.
func bindFlags(v *viper.Viper, cmd *cobra.Command, names ...string) error {
	for _, name := range names {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// loadRegistry reads the config file and registers every configured list.
func loadRegistry(v *viper.Viper) (*metadata.Registry, error) {
	v.SetConfigFile(v.GetString("config"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var lists []listConfig
	if err := v.UnmarshalKey("lists", &lists); err != nil {
		return nil, fmt.Errorf("parse list definitions: %w", err)
	}

	registry := metadata.NewRegistry()
	for _, lc := range lists {
		fields := make([]*metadata.FieldDefinition, 0, len(lc.Fields))
		for _, fc := range lc.Fields {
			fields = append(fields, &metadata.FieldDefinition{
				InternalName: fc.InternalName,
				MappedName:   fc.MappedName,
				ObjectType:   fieldtypes.FieldType(fc.ObjectType),
				ReadOnly:     fc.ReadOnly,
			})
		}
		registry.Register(metadata.NewList(lc.Title, lc.ID, fields))
	}
	return registry, nil
}

// runCycle wires a cache and engine, then applies one fixture-backed cycle.
func runCycle(ctx context.Context, v *viper.Viper, log *logger.Logger, list, fixturePath string) (*sync.Engine, *sync.Query, sync.Summary, error) {
	registry, err := loadRegistry(v)
	if err != nil {
		return nil, nil, sync.Summary{}, err
	}
	def, ok := registry.Get(list)
	if !ok {
		return nil, nil, sync.Summary{}, apperror.NewListNotRegistered(list)
	}

	engine := sync.New(cache.New(registry, log), &fixture.Executor{Path: fixturePath}, log)
	q := sync.NewQuery("GetListItemChangesSinceToken", def)
	q.Lookups = lookupindex.New()
	summary, err := engine.Run(ctx, q)
	return engine, q, summary, err
}

func newSyncCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply one change cycle from a fixture file",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd, "fixture", "list")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v)
			if err != nil {
				return err
			}
			_, q, summary, err := runCycle(cmd.Context(), v, log, v.GetString("list"), v.GetString("fixture"))
			if err != nil {
				return err
			}
			fmt.Printf("list:      %s\n", q.List.Title)
			fmt.Printf("state:     %s\n", summary.State)
			fmt.Printf("token:     %s\n", summary.Token)
			fmt.Printf("applied:   %d\n", summary.Applied)
			fmt.Printf("deleted:   %d\n", summary.Deleted)
			fmt.Printf("malformed: %d\n", summary.Malformed)
			if perms := q.Permissions(); perms != nil {
				fmt.Printf("can edit:  %v\n", perms.CanEdit())
			}
			return nil
		},
	}
	cmd.Flags().String("fixture", "", "response fixture file (.xml or .xml.gz)")
	cmd.Flags().String("list", "", "list title or id")
	_ = cmd.MarkFlagRequired("fixture")
	_ = cmd.MarkFlagRequired("list")
	return cmd
}

func newEntitiesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Apply a fixture cycle and dump the cached entities",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd, "fixture", "list", "filter")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v)
			if err != nil {
				return err
			}
			engine, q, _, err := runCycle(cmd.Context(), v, log, v.GetString("list"), v.GetString("fixture"))
			if err != nil {
				return err
			}

			entities := q.Target.Entities()
			if expr := v.GetString("filter"); expr != "" {
				entities, err = query.FilterCached(engine.Cache(), q.List.ID, expr)
				if err != nil {
					return err
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, e := range entities {
				if err := enc.Encode(e.Fields); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("fixture", "", "response fixture file (.xml or .xml.gz)")
	cmd.Flags().String("list", "", "list title or id")
	cmd.Flags().String("filter", "", "CEL filter expression, e.g. 'fields.active'")
	_ = cmd.MarkFlagRequired("fixture")
	_ = cmd.MarkFlagRequired("list")
	return cmd
}

func newReferencesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "references",
		Short: "Apply a fixture cycle and list entities referencing a lookup id",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd, "fixture", "list", "property", "id")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v)
			if err != nil {
				return err
			}
			_, q, _, err := runCycle(cmd.Context(), v, log, v.GetString("list"), v.GetString("fixture"))
			if err != nil {
				return err
			}

			refs := q.Lookups.QueryByLookup(v.GetString("property"), q.List.ID, v.GetInt("id"))
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, e := range refs {
				if err := enc.Encode(e.Fields); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "%d referencing entities\n", len(refs))
			return nil
		},
	}
	cmd.Flags().String("fixture", "", "response fixture file (.xml or .xml.gz)")
	cmd.Flags().String("list", "", "list title or id")
	cmd.Flags().String("property", "", "lookup property (mapped name)")
	cmd.Flags().Int("id", 0, "referenced entity id")
	_ = cmd.MarkFlagRequired("fixture")
	_ = cmd.MarkFlagRequired("list")
	_ = cmd.MarkFlagRequired("property")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newFieldsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Print a configured list's field mapping",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd, "list")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(v)
			if err != nil {
				return err
			}
			def, ok := registry.Get(v.GetString("list"))
			if !ok {
				return apperror.NewListNotRegistered(v.GetString("list"))
			}
			for _, f := range def.Fields {
				fmt.Printf("%-24s -> %-24s %s\n", f.InternalName, f.MappedName, f.ObjectType)
			}
			return nil
		},
	}
	cmd.Flags().String("list", "", "list title or id")
	_ = cmd.MarkFlagRequired("list")
	return cmd
}
