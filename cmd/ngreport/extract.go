package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/ngreport/internal/archive"
	"github.com/John-Robertt/ngreport/internal/config"
	"github.com/John-Robertt/ngreport/internal/logger"
)

func (c *cli) newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "只解压 ZIP（cwd 下的 ZIP 移入 zip 目录，递归解压到照片目录）",
		Args:  noArgs,
		RunE:  c.runExtract,
	}
	cmd.Flags().StringVar(&c.zipDir, "zip-dir", config.DefaultZipDir, "ZIP 目录")
	cmd.Flags().StringVar(&c.dataDir, "data", config.DefaultDataDir, "照片目录")
	return cmd
}

func (c *cli) runExtract(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("读取当前目录失败：%w", err)
	}
	cwdAbs, _ := filepath.Abs(cwd)

	flags := cmd.Flags()
	ec, err := config.LoadExtract(cwdAbs, config.ExtractArgs{
		ConfigFile: c.configFile,
		ZipDir:     c.zipDir,
		ZipDirSet:  flags.Changed("zip-dir"),
		DataDir:    c.dataDir,
		DataDirSet: flags.Changed("data"),
		Debug:      c.debug,
	})
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: ec.LogLevel, Console: isTTY(c.stderr)})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	x := archive.Extractor{Cwd: ec.Cwd, ZipDir: ec.ZipDir, DataDir: ec.DataDir, Log: log}
	res, err := x.Run(cmd.Context())
	if errors.Is(err, archive.ErrNoArchives) {
		fmt.Fprintln(c.stderr, err.Error())
		return exitError{1}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "解压完成：moved=%d extracted=%d macosx_removed=%d zips_removed=%d failed=%d\n",
		res.Moved, res.Extracted, res.MacOSXRemoved, res.ZipsRemoved, len(res.Failed),
	)
	for _, f := range res.Failed {
		fmt.Fprintf(c.stderr, "解压失败：%s\n", f)
	}
	if len(res.Failed) > 0 {
		return exitError{1}
	}
	return nil
}
