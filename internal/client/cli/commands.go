package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Options глобальные флаги командной строки
type Options struct {
	EnvFile   string
	ServerURL string
	DataDir   string
	LogLevel  string
}

// Factory собирает Cli по глобальным флагам. Возвращаемая функция
// освобождает ресурсы (хранилища, лог файл).
type Factory func(ctx context.Context, opts Options) (*Cli, func() error, error)

// skipSession команды, которым сохраненная сессия не нужна
var skipSession = map[string]bool{
	"register": true,
	"login":    true,
	"logout":   true,
}

// Execute строит дерево команд, выполняет args и всегда освобождает
// ресурсы, открытые фабрикой, в том числе после ошибки команды.
func Execute(ctx context.Context, factory Factory, version string, args []string, out io.Writer) error {
	var release func() error
	root := newRootCommand(func(ctx context.Context, opts Options) (*Cli, func() error, error) {
		c, r, err := factory(ctx, opts)
		release = r
		return c, r, err
	}, version)
	root.SetArgs(args)
	if out != nil {
		root.SetOut(out)
		root.SetErr(out)
	}

	err := root.ExecuteContext(ctx)
	if release != nil {
		if relErr := release(); relErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release resources: %w", relErr))
		}
	}
	return err
}

func newRootCommand(factory Factory, version string) *cobra.Command {
	var (
		opts Options
		c    *Cli
	)

	root := &cobra.Command{
		Use:           "gophsync",
		Short:         "Offline-first client for a record collection backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			c, _, err = factory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if skipSession[cmd.Name()] {
				return nil
			}
			return c.restoreSession(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&opts.EnvFile, "env", "", "path to .env file")
	root.PersistentFlags().StringVar(&opts.ServerURL, "server", "", "backend URL (overrides SERVER_URL)")
	root.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "directory for local databases (overrides DATA_DIR)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	cli := func() *Cli { return c }

	root.AddCommand(
		newRegisterCommand(cli),
		newLoginCommand(cli),
		newLogoutCommand(cli),
		newStatusCommand(cli),
		newListCommand(cli),
		newCountCommand(cli),
		newCreateCommand(cli),
		newUpdateCommand(cli),
		newDeleteCommand(cli),
		newSyncCommand(cli),
		newPendingCommand(cli),
		newTablesCommand(cli),
		newWatchCommand(cli),
	)
	return root
}

func newRegisterCommand(cli func() *Cli) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runRegister(cmd.Context(), username)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (prompted if empty)")
	return cmd
}

func newLoginCommand(cli func() *Cli) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runLogin(cmd.Context(), username)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (prompted if empty)")
	return cmd
}

func newLogoutCommand(cli func() *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runLogout(cmd.Context())
		},
	}
}

func newStatusCommand(cli func() *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, connectivity and queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runStatus(cmd.Context())
		},
	}
}

func addQueryFlags(cmd *cobra.Command, opts *listOptions) {
	cmd.Flags().StringVarP(&opts.Where, "where", "w", "", `filter, e.g. "status = ? && created >= ?"`)
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "filter placeholder value, repeat per '?'")
	cmd.Flags().StringVar(&opts.Source, "source", "any", "read source: any, server or cache")
}

func newListCommand(cli func() *Cli) *cobra.Command {
	var opts listOptions
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "Print records as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runList(cmd.Context(), args[0], opts)
		},
	}
	addQueryFlags(cmd, &opts)
	cmd.Flags().StringVarP(&opts.Sort, "sort", "s", "", "sort field, '-' prefix for descending")
	cmd.Flags().StringVar(&opts.After, "after", "", "id of the record to start after (requires --sort)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "maximum number of records, 0 for all")
	return cmd
}

func newCountCommand(cli func() *Cli) *cobra.Command {
	var opts listOptions
	cmd := &cobra.Command{
		Use:   "count <collection>",
		Short: "Count records matching the filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runCount(cmd.Context(), args[0], opts)
		},
	}
	addQueryFlags(cmd, &opts)
	return cmd
}

func newCreateCommand(cli func() *Cli) *cobra.Command {
	var rawJSON string
	cmd := &cobra.Command{
		Use:   "create <collection> [key=value...]",
		Short: "Create a record, queued while offline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runCreate(cmd.Context(), args[0], args[1:], rawJSON)
		},
	}
	cmd.Flags().StringVar(&rawJSON, "json", "", "record fields as a JSON object")
	return cmd
}

func newUpdateCommand(cli func() *Cli) *cobra.Command {
	var rawJSON string
	cmd := &cobra.Command{
		Use:   "update <collection> <id> [key=value...]",
		Short: "Update record fields, queued while offline",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runUpdate(cmd.Context(), args[0], args[1], args[2:], rawJSON)
		},
	}
	cmd.Flags().StringVar(&rawJSON, "json", "", "changed fields as a JSON object")
	return cmd
}

func newDeleteCommand(cli func() *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a record, queued while offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runDelete(cmd.Context(), args[0], args[1])
		},
	}
}

func newSyncCommand(cli func() *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send pending mutations and pull server changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runSync(cmd.Context())
		},
	}
}

func newPendingCommand(cli func() *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List mutations waiting to be sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runPending(cmd.Context())
		},
	}
}

func newTablesCommand(cli func() *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List collections mirrored locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runTables(cmd.Context())
		},
	}
}

func newWatchCommand(cli func() *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep probing the server and sync whenever it is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().runWatch(cmd.Context())
		},
	}
}
