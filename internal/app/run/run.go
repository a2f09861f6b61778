package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/ngreport/internal/app"
	"github.com/John-Robertt/ngreport/internal/classify"
	"github.com/John-Robertt/ngreport/internal/config"
	"github.com/John-Robertt/ngreport/internal/domain"
	"github.com/John-Robertt/ngreport/internal/evidence"
	"github.com/John-Robertt/ngreport/internal/infra/fsx"
	"github.com/John-Robertt/ngreport/internal/locate"
	"github.com/John-Robertt/ngreport/internal/logger"
	"github.com/John-Robertt/ngreport/internal/scan"
	"github.com/John-Robertt/ngreport/internal/sheet"
)

// ImagesDir 是结果目录下存放已选图片副本的子目录。
const ImagesDir = "images"

// Deps 是一次运行依赖的外部组件。
type Deps struct {
	Classifier classify.Classifier
	// NewWriter 创建输出表；nil 时使用 sheet.NewWriter。
	NewWriter func(dir string, opts sheet.WriterOptions) (sheet.Writer, error)
	Log       logger.Logger
	RunID     string
}

// Execute 逐行处理源表并写出汇总表，返回对外稳定的 RunReport。
//
// 源表/输出无法打开属于致命错误（RunReport.ErrorCode 非空，不处理任何行）；
// 单行失败只影响该行：记录为 failed，行本身仍会写出。
// ctx 取消后不再开始新行，已处理的行照常保存。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.RunReport {
	started := time.Now().UTC()
	if obs != nil {
		obs.OnStart(eff)
	}

	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	clf := deps.Classifier
	if clf == nil {
		clf = classify.Filename{}
	}
	newWriter := deps.NewWriter
	if newWriter == nil {
		newWriter = func(dir string, opts sheet.WriterOptions) (sheet.Writer, error) {
			return sheet.NewWriter(dir, opts)
		}
	}

	rr := domain.RunReport{
		RunID:      deps.RunID,
		Input:      eff.Input,
		Device:     string(eff.Device),
		Policy:     string(eff.Device.Policy()),
		Classifier: clf.Name(),
		StartedAt:  started,
		Items:      make([]domain.RowResult, 0, 128),
	}
	fail := func(code, msg string) domain.RunReport {
		rr.ErrorCode = code
		rr.ErrorMsg = msg
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	readStarted := time.Now()
	reader, err := sheet.Open(eff.Input)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return fail(domain.ErrCodeInputNotFound, fmt.Sprintf("输入文件不存在：%s", eff.Input))
		case sheet.IsSchemaError(err):
			return fail(domain.ErrCodeSchema, err.Error())
		default:
			return fail(domain.ErrCodeIOFailed, err.Error())
		}
	}
	rr.Sheet = reader.Sheet()
	rows, err := reader.Rows()
	_ = reader.Close()
	if err != nil {
		return fail(domain.ErrCodeIOFailed, err.Error())
	}
	if obs != nil {
		obs.OnPhaseDone("read", map[string]any{"sheet": rr.Sheet, "rows": len(rows)}, time.Since(readStarted))
	}

	scanStarted := time.Now()
	corpus, err := scan.ScanImages(eff.DataDir, eff.Extensions)
	if err != nil {
		// 照片目录缺失不是致命错误：每行都会得到“未找到”备注。
		log.Warn("照片目录不可用，跳过图片搜索", logger.String("data_dir", eff.DataDir), logger.Error(err))
		corpus = scan.Corpus{Root: eff.DataDir}
	}
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"files": len(corpus.Files), "dirs": len(corpus.Dirs)}, time.Since(scanStarted))
	}

	w, err := newWriter(eff.ResultDir, sheet.WriterOptions{ImageHeight: eff.ImageHeight, ImageMargin: eff.ImageMargin})
	if err != nil {
		return fail(domain.ErrCodeIOFailed, fmt.Sprintf("创建输出表失败：%v", err))
	}

	ex := &executor{
		policy:    eff.Device.Policy(),
		clf:       clf,
		loc:       locate.New(corpus, eff.MinFileSize, log),
		imagesDir: filepath.Join(eff.ResultDir, ImagesDir),
		staged:    make(map[string]string, 64),
		log:       log,
	}

	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{"total_rows": len(rows), "classifier": clf.Name()}, 0)
	}

	for i := range rows {
		if err := ctx.Err(); err != nil {
			log.Warn("运行已取消，保存已处理的行", logger.Int("done", i), logger.Int("total", len(rows)))
			rr.ErrorCode = domain.ErrCodeCanceled
			rr.ErrorMsg = fmt.Sprintf("已取消：处理了 %d/%d 行", i, len(rows))
			break
		}

		oneStarted := time.Now()
		row := rows[i]
		res := ex.processRow(ctx, &row)
		if err := w.WriteRow(row); err != nil {
			log.Error("写入行失败", logger.Int("row", row.SourceRow), logger.String("sn", row.SN), logger.Error(err))
			res.Status = domain.StatusFailed
			res.ErrorMsg = joinMsg(res.ErrorMsg, err.Error())
		}
		rr.Items = append(rr.Items, res)
		if obs != nil {
			obs.OnRowDone(i+1, len(rows), res, time.Since(oneStarted))
		}
	}

	writeStarted := time.Now()
	out, err := w.Finish()
	if err != nil {
		rr.ErrorCode = domain.ErrCodeIOFailed
		rr.ErrorMsg = joinMsg(rr.ErrorMsg, fmt.Sprintf("保存输出表失败：%v", err))
	} else {
		rr.Output = out
	}
	if obs != nil {
		obs.OnPhaseDone("write", map[string]any{"output": rr.Output}, time.Since(writeStarted))
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

type executor struct {
	policy    domain.Policy
	clf       classify.Classifier
	loc       *locate.Locator
	imagesDir string
	// staged 记录源图 -> 结果目录副本，同一张图被多行引用时只复制一次。
	staged map[string]string
	log    logger.Logger
}

// processRow 为一行解析证据并写回 row；返回该行的结果条目。
func (e *executor) processRow(ctx context.Context, row *domain.Row) domain.RowResult {
	res := domain.RowResult{Row: row.SourceRow, SN: row.SN, Station: row.Station}
	if row.SN == "" {
		res.Status = domain.StatusSkipped
		return res
	}
	log := e.log.With(logger.Int("row", row.SourceRow), logger.String("sn", row.SN))

	cands, err := e.loc.Locate(row.SN)
	if err != nil {
		var ae *locate.AmbiguousError
		if errors.As(err, &ae) {
			log.Warn("SN 匹配到多个目录", logger.Strings("dirs", ae.Dirs))
			row.Remark = err.Error()
			res.Status = domain.StatusRemark
			res.Remark = row.Remark
			return res
		}
		log.Error("查找图片失败", logger.Error(err))
		res.Status = domain.StatusFailed
		res.ErrorMsg = err.Error()
		return res
	}

	classified := make([]domain.Classified, 0, len(cands))
	for _, c := range cands {
		cl := e.clf.Classify(ctx, c)
		log.Debug("图片分类", logger.String("path", c.RelPath), logger.String("label", string(cl.Label)), logger.String("reason", cl.Reason))
		classified = append(classified, cl)
	}
	set, unlabeled := app.GroupByLabel(classified)
	if len(unlabeled) > 0 {
		log.Debug("未标记的图片", logger.Int("count", len(unlabeled)))
	}

	bundle := evidence.Select(e.policy, set)
	if err := e.stage(&bundle); err != nil {
		log.Error("复制图片到结果目录失败", logger.Error(err))
		row.Remark = bundle.Remark
		res.Status = domain.StatusFailed
		res.Remark = bundle.Remark
		res.ErrorMsg = err.Error()
		return res
	}
	bundle.Apply(row)

	res.Remark = row.Remark
	res.NG = make([]string, 0, len(row.NG))
	for _, ng := range row.NG {
		res.NG = append(res.NG, ng.Name)
	}
	if row.Locate != nil {
		res.Locate = row.Locate.Name
	}
	res.Status = domain.StatusOK
	if row.Remark != "" {
		res.Status = domain.StatusRemark
	}
	return res
}

// stage 把选中的图片复制到结果目录，并把 bundle 中的路径替换为副本路径。
func (e *executor) stage(b *domain.Bundle) error {
	for i := range b.NG {
		p, err := e.stageOne(b.NG[i].AbsPath)
		if err != nil {
			return err
		}
		b.NG[i].AbsPath = p
	}
	if b.Locate != nil {
		p, err := e.stageOne(b.Locate.AbsPath)
		if err != nil {
			return err
		}
		loc := *b.Locate
		loc.AbsPath = p
		b.Locate = &loc
	}
	return nil
}

func (e *executor) stageOne(src string) (string, error) {
	if p, ok := e.staged[src]; ok {
		return p, nil
	}
	p, err := fsx.StageFile(src, e.imagesDir)
	if err != nil {
		return "", err
	}
	e.staged[src] = p
	return p, nil
}

func joinMsg(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
