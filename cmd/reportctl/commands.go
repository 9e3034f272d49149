package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"report_render/internal/database"
	"report_render/internal/engine"
	"report_render/internal/fetcher"
	"report_render/internal/scheduler"
	"report_render/internal/service"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции базы данных",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, opts, func(ctx context.Context, c *core) error {
				if err := database.AutoMigrate(c.db.WithContext(ctx)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Миграции выполнены")
				return nil
			})
		},
	}
}

func newRenderCmd(opts *rootOptions) *cobra.Command {
	var (
		reportID uint
		format   string
		dpi      int
		params   []string
		out      string
		noCache  bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Отрендерить отчет",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fetchParams, err := parseParams(params)
			if err != nil {
				return err
			}

			return withCore(cmd, opts, func(ctx context.Context, c *core) error {
				res, err := c.reports.RenderReport(ctx, reportID, service.RenderParams{
					DPI:     dpi,
					Format:  format,
					Params:  fetchParams,
					NoCache: noCache,
				})
				if err != nil {
					return err
				}

				if out == "" {
					_, err = cmd.OutOrStdout().Write(res.Data)
					return err
				}
				if err := os.WriteFile(out, res.Data, 0o644); err != nil {
					return fmt.Errorf("ошибка записи %s: %w", out, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d байт (%s, кэш: %t)\n", out, len(res.Data), res.ContentType, res.Cached)
				return nil
			})
		},
	}

	cmd.Flags().UintVar(&reportID, "report", 0, "ID отчета")
	cmd.Flags().StringVar(&format, "format", "", "Выходной формат (по умолчанию из расширения шаблона)")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "DPI (по умолчанию render.default_dpi)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Параметр источника данных key=value, можно повторять")
	cmd.Flags().StringVar(&out, "out", "", "Файл результата (по умолчанию stdout)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Не использовать кэш рендеров")
	cmd.MarkFlagRequired("report")
	return cmd
}

func newEnginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "Показать движки рендеринга и их форматы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENGINE\tFORMATS")
			for _, choice := range engine.Choices() {
				e, err := engine.New(choice)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", e.Name(), strings.Join(e.Formats(), ","))
			}
			return w.Flush()
		},
	}
}

func newFetchersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetchers",
		Short: "Показать зарегистрированные источники данных",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, opts, func(ctx context.Context, c *core) error {
				for _, path := range fetcher.Default.Paths() {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
				return nil
			})
		},
	}
}

func newWarmupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "warmup",
		Short: "Однократно прогреть кэш рендеров",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, opts, func(ctx context.Context, c *core) error {
				warmer, err := scheduler.NewWarmer(c.cfg, c.reports, c.logger)
				if err != nil {
					return err
				}
				stats, err := warmer.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reports=%d rendered=%d cached=%d skipped=%d failed=%d\n",
					stats.Reports, stats.Rendered, stats.Cached, stats.Skipped, stats.Failed)
				return nil
			})
		},
	}
}
