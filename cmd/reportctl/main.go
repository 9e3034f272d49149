// Command reportctl manages the report database and renders reports
// without running the HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"report_render/internal/config"
	"report_render/internal/di"
	"report_render/internal/service"
)

// core holds the dependencies commands work with.
type core struct {
	cfg     config.Config
	db      *gorm.DB
	reports service.ReportService
	logger  *logrus.Logger
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "reportctl",
		Short:        "Управление сервисом отчетов",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Путь к файлу конфигурации (по умолчанию config.yaml)")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newRenderCmd(opts))
	cmd.AddCommand(newEnginesCmd())
	cmd.AddCommand(newFetchersCmd(opts))
	cmd.AddCommand(newWarmupCmd(opts))
	return cmd
}

// withCore поднимает зависимости из конфигурации, выполняет fn и
// освобождает ресурсы.
func withCore(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, c *core) error) error {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return err
	}
	// В режиме отладки gorm пишет SQL в stdout, куда render выводит результат
	cfg.Server.Debug = false

	c := &core{cfg: cfg}
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		di.Core,
		fx.Populate(&c.db, &c.reports, &c.logger),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("ошибка инициализации: %w", err)
	}

	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("ошибка запуска: %w", err)
	}
	defer func() {
		if err := app.Stop(context.Background()); err != nil {
			c.logger.WithError(err).Warn("Ошибка при освобождении ресурсов")
		}
	}()

	return fn(ctx, c)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("Не удалось прочитать .env")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
