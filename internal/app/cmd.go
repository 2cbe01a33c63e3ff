package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/feedharvest/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーとワーカーを起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はスケジューラとワーカープールのみを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSeed は既定データソースを登録することを示す。
	CommandSeed Command = "seed"
	// CommandFetch は1件の取得を即時実行することを示す。
	CommandFetch Command = "fetch"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// errFetchTarget はfetchコマンドの対象指定が不正な場合のエラー。
var errFetchTarget = errors.New("exactly one of --source or --url is required")

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとコンテキストをキャンセルする。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はctxの寿命の中でサブコマンドを実行する。
// サブコマンドを省略した場合はserveとして起動する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はfeedharvestのルートコマンドを生成する。
// ログと結果の出力先はwになる。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "feedharvest",
		Short:         "Scheduled content ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, w, CommandServe, runServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		serveCmd(w),
		workerCmd(w),
		migrateCmd(w),
		seedCmd(w),
		fetchCmd(w),
		healthcheckCmd(),
	)
	return root
}

// withConfig は設定を読み込んでからfnを実行する。
func withConfig(cmd *cobra.Command, w io.Writer, name Command, fn func(ctx context.Context, cfg *config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return err
	}

	slog.Info("starting application",
		slog.String("command", string(name)),
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return fn(cmd.Context(), cfg)
}

func serveCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the manual trigger API together with the scheduler and worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, w, CommandServe, runServe)
		},
	}
}

func workerCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Start the scheduler and worker pool without the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, w, CommandWorker, runWorker)
		},
	}
}

func migrateCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, w, CommandMigrate, func(_ context.Context, cfg *config.Config) error {
				return runMigrate(cfg)
			})
		},
	}
}

func seedCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandSeed),
		Short: "Register the built-in default sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, w, CommandSeed, func(ctx context.Context, cfg *config.Config) error {
				return runSeed(ctx, cfg, cmd.OutOrStdout())
			})
		},
	}
}

func fetchCmd(w io.Writer) *cobra.Command {
	var opts fetchOptions
	cmd := &cobra.Command{
		Use:   string(CommandFetch),
		Short: "Run a single fetch in-process and print the job result",
		Example: "  feedharvest fetch --source 3f2c...\n" +
			"  feedharvest fetch --url https://example.com/post --query \"pricing\"",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.sourceID == "") == (opts.url == "") {
				return errFetchTarget
			}
			return withConfig(cmd, w, CommandFetch, func(ctx context.Context, cfg *config.Config) error {
				return runFetch(ctx, cfg, opts, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&opts.sourceID, "source", "", "ID of a registered source to fetch now")
	cmd.Flags().StringVar(&opts.url, "url", "", "Arbitrary URL to fetch through the agent fetcher")
	cmd.Flags().StringVar(&opts.query, "query", "", "Extraction query for --url")
	return cmd
}

func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local /health endpoint (for container health checks)",
		Args:  cobra.NoArgs,
		// 軽量サブコマンドのため、フル初期化をスキップする
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(healthcheckPort())
		},
	}
}
