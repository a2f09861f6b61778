package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/ngreport/internal/app/run"
	"github.com/John-Robertt/ngreport/internal/archive"
	"github.com/John-Robertt/ngreport/internal/classify"
	"github.com/John-Robertt/ngreport/internal/config"
	"github.com/John-Robertt/ngreport/internal/domain"
	"github.com/John-Robertt/ngreport/internal/infra/fsx"
	"github.com/John-Robertt/ngreport/internal/logger"
	"github.com/John-Robertt/ngreport/internal/ocr"
)

// ReportFile 是结果目录下的运行报告文件名。
const ReportFile = "report.json"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// usageError 表示参数错误（退出码 2）。
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exitError 表示已经输出过结果、只需以指定退出码结束。
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args == nil {
		// cobra 对 nil 会回退到 os.Args。
		args = []string{}
	}
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return exitCode(root.ExecuteContext(ctx), stderr)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(stderr, "参数错误：%v\n\n使用 \"ngreport --help\" 查看用法。\n", ue.err)
		return 2
	}
	fmt.Fprintf(stderr, "错误：%v\n", err)
	return 1
}

// cli 保存全部 flag 的取值；是否显式指定通过 cmd.Flags().Changed 判断。
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configFile string
	debug      bool

	classifier  string
	dataDir     string
	resultDir   string
	skipExtract bool

	zipDir string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "ngreport <device> <input.xlsx>",
		Short: "按测试记录汇总 NG 证据图片",
		Long: `读取测试记录表（工作表名包含 "不良明细"），按 SN 在照片目录中查找 NG/OK 图片，
按设备类型的选择规则挑选证据，输出内嵌图片的汇总表 不良明细汇总_<时间>.xlsx。

设备类型见 "ngreport devices"。`,
		Args:          c.validateArgs,
		RunE:          c.runReport,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "配置文件（默认读取 ./"+config.FileName+"，不存在则忽略）")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "输出 debug 日志")

	root.Flags().StringVar(&c.classifier, "classifier", config.DefaultClassifier, "图片分类方式：filename|text")
	root.Flags().StringVar(&c.dataDir, "data", config.DefaultDataDir, "照片目录")
	root.Flags().StringVar(&c.resultDir, "result", config.DefaultResultDir, "输出目录")
	root.Flags().BoolVar(&c.skipExtract, "skip-extract", false, "跳过 ZIP 解压")

	root.AddCommand(c.newExtractCmd(), c.newDevicesCmd())
	return root
}

func (c *cli) validateArgs(_ *cobra.Command, args []string) error {
	switch len(args) {
	case 0:
		// 无参数：显示帮助。
		return nil
	case 2:
	default:
		return usageError{fmt.Errorf("需要 2 个参数 <device> <input.xlsx>，实际 %d 个", len(args))}
	}
	if _, err := domain.ParseDevice(args[0]); err != nil {
		return usageError{err}
	}
	return nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

func (c *cli) runReport(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("读取当前目录失败：%w", err)
	}
	cwdAbs, _ := filepath.Abs(cwd)

	flags := cmd.Flags()
	eff, err := config.LoadEffective(cwdAbs, config.CLIArgs{
		Device:         args[0],
		Input:          args[1],
		ConfigFile:     c.configFile,
		Classifier:     c.classifier,
		ClassifierSet:  flags.Changed("classifier"),
		DataDir:        c.dataDir,
		DataDirSet:     flags.Changed("data"),
		ResultDir:      c.resultDir,
		ResultDirSet:   flags.Changed("result"),
		SkipExtract:    c.skipExtract,
		SkipExtractSet: flags.Changed("skip-extract"),
		Debug:          c.debug,
	})
	if err != nil {
		code := config.Code(err)
		if code == "" {
			code = domain.ErrCodeConfigInvalid
		}
		c.emitReport(failureReport(args, code, err))
		return exitError{1}
	}

	runID := uuid.NewString()
	log, err := logger.New(logger.Config{Level: eff.LogLevel, Console: isTTY(c.stderr)})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.With(logger.String("run_id", runID))

	ctx := cmd.Context()
	if !eff.SkipExtract {
		extractArchives(ctx, archive.Extractor{Cwd: cwdAbs, ZipDir: eff.ZipDir, DataDir: eff.DataDir, Log: log}, log)
	}

	clf, err := newClassifier(eff, log)
	if err != nil {
		rr := failureReport(args, domain.ErrCodeOCRMissing, err)
		rr.RunID = runID
		c.emitReport(rr)
		return exitError{1}
	}

	var obs run.Observer
	progressW, interactive := pickProgressWriter(c.stdout, c.stderr)
	if interactive {
		obs = newProgressUI(progressW)
	}

	rr := run.Execute(ctx, eff, run.Deps{Classifier: clf, Log: log, RunID: runID}, obs)

	reportPath := filepath.Join(eff.ResultDir, ReportFile)
	if err := writeReportFile(eff.ResultDir, rr); err != nil {
		log.Error("写入 report.json 失败", logger.String("path", reportPath), logger.Error(err))
		reportPath = ""
	}

	c.emitReport(rr)
	if interactive {
		emitLocations(progressW, rr.Output, reportPath)
	}
	if rr.ErrorCode != "" || rr.Summary.Failed > 0 {
		return exitError{1}
	}
	return nil
}

// extractArchives 执行解压；解压问题只记录日志，不阻止后续处理。
func extractArchives(ctx context.Context, x archive.Extractor, log logger.Logger) {
	res, err := x.Run(ctx)
	switch {
	case errors.Is(err, archive.ErrNoArchives):
		log.Info("没有需要解压的 ZIP 文件", logger.String("zip_dir", x.ZipDir))
	case err != nil:
		log.Warn("解压失败，继续使用已有照片目录", logger.Error(err))
	default:
		log.Info("解压完成",
			logger.Int("moved", res.Moved),
			logger.Int("extracted", res.Extracted),
			logger.Int("macosx_removed", res.MacOSXRemoved),
			logger.Int("zips_removed", res.ZipsRemoved),
			logger.Strings("failed", res.Failed),
		)
	}
}

func newClassifier(eff config.EffectiveConfig, log logger.Logger) (classify.Classifier, error) {
	if eff.Classifier != config.ClassifierText {
		return classify.Filename{}, nil
	}
	path, err := ocr.Precheck(eff.TesseractPath)
	if err != nil {
		return nil, err
	}
	log.Debug("使用 tesseract", logger.String("path", path))
	return classify.NewText(
		ocr.Tesseract{Path: path, Lang: eff.TesseractLang},
		classify.TextOptions{
			BlankVariance:     eff.BlankVariance,
			BlankDominance:    eff.BlankDominance,
			BinarizeThreshold: uint8(eff.BinarizeThreshold),
			MinConfidence:     eff.MinConfidence,
		},
		log,
	), nil
}

// failureReport 为尚未进入执行阶段的致命错误构造报告。
func failureReport(args []string, code string, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		StartedAt:  now,
		FinishedAt: now,
		ErrorCode:  code,
		ErrorMsg:   err.Error(),
	}
	if len(args) == 2 {
		if d, e := domain.ParseDevice(args[0]); e == nil {
			rr.Device = string(d)
			rr.Policy = string(d.Policy())
		}
		if abs, e := filepath.Abs(args[1]); e == nil {
			rr.Input = abs
		}
	}
	rr.Finalize()
	return rr
}

func (c *cli) emitReport(rr domain.RunReport) {
	summary := fmt.Sprintf("完成：rows=%d ok=%d remark=%d failed=%d skipped=%d",
		rr.Summary.Rows, rr.Summary.OK, rr.Summary.Remark, rr.Summary.Failed, rr.Summary.Skipped,
	)

	if isTTY(c.stdout) {
		if rr.ErrorCode != "" {
			fmt.Fprintf(c.stderr, "%s: %s\n", rr.ErrorCode, rr.ErrorMsg)
		}
		fmt.Fprintln(c.stdout, summary)
		renderIssues(c.stdout, rr.Items)
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(c.stdout)
	_ = enc.Encode(rr)
	if rr.ErrorCode != "" {
		fmt.Fprintf(c.stderr, "%s: %s\n", rr.ErrorCode, rr.ErrorMsg)
	}
	fmt.Fprintln(c.stderr, summary)
}

// renderIssues 以表格列出带备注或失败的行；没有则不输出。
func renderIssues(w io.Writer, items []domain.RowResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"行", "SN", "状态", "备注/错误"})

	n := 0
	for _, it := range items {
		var msg string
		switch it.Status {
		case domain.StatusRemark:
			msg = it.Remark
		case domain.StatusFailed:
			msg = it.ErrorMsg
		default:
			continue
		}
		t.AppendRow(table.Row{it.Row, it.SN, it.Status, truncate(msg, 80)})
		n++
	}
	if n == 0 {
		return
	}
	t.Render()
}

func writeReportFile(resultDir string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(resultDir, ReportFile, b)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(stderr) {
		return stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, output, report string) {
	if w == nil {
		return
	}
	if output != "" {
		fmt.Fprintf(w, "out: %s\n", output)
	}
	if report != "" {
		fmt.Fprintf(w, "report: %s\n", report)
	}
}
