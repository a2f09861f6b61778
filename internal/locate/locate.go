package locate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/ngreport/internal/domain"
	"github.com/John-Robertt/ngreport/internal/infra/imgx"
	"github.com/John-Robertt/ngreport/internal/logger"
	"github.com/John-Robertt/ngreport/internal/scan"
)

// AmbiguousError 表示同一个 SN 命中了多个互不嵌套的目录，无法确定证据集。
type AmbiguousError struct {
	SN string
	// Dirs 为命中的目录（相对照片根目录，已排序，保证稳定）。
	Dirs []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("SN %s 匹配到多个目录（ambiguous）：%s", e.SN, strings.Join(e.Dirs, ", "))
}

// 校验失败原因（写入 warn 日志）。
const (
	RejectTooSmall     = "too_small"
	RejectDecodeFailed = "decode_failed"
)

// Locator 在一次性扫描得到的照片索引上按 SN 查找候选图片。
type Locator struct {
	corpus  scan.Corpus
	minSize int64
	log     logger.Logger

	// validate 完整解码图片；测试可替换。
	validate func(path string) error
}

func New(corpus scan.Corpus, minSize int64, log logger.Logger) *Locator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Locator{
		corpus:  corpus,
		minSize: minSize,
		log:     log,
		validate: func(path string) error {
			_, _, err := imgx.Decode(path)
			return err
		},
	}
}

// Locate 返回 SN 的有效候选图片（按 RelPath 排序）。
//
// 两种策略取并集：文件名包含 SN；所在目录名包含 SN（目录下全部图片）。
// 空 SN 或无候选返回空结果且无错误；目录命中不唯一返回 *AmbiguousError。
func (l *Locator) Locate(sn string) ([]domain.Candidate, error) {
	sn = strings.TrimSpace(sn)
	if sn == "" {
		return nil, nil
	}
	needle := strings.ToLower(sn)

	seen := make(map[string]struct{}, 16)
	out := make([]domain.Candidate, 0, 8)
	add := func(c domain.Candidate) {
		if _, ok := seen[c.AbsPath]; ok {
			return
		}
		seen[c.AbsPath] = struct{}{}
		out = append(out, c)
	}

	for _, f := range l.corpus.Files {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			add(f)
		}
	}

	dirs := l.matchDirs(needle)
	if len(dirs) > 1 {
		rels := make([]string, 0, len(dirs))
		for _, d := range dirs {
			rels = append(rels, l.rel(d))
		}
		sort.Strings(rels)
		return nil, &AmbiguousError{SN: sn, Dirs: rels}
	}
	if len(dirs) == 1 {
		for _, f := range l.corpus.Under(dirs[0]) {
			add(f)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })

	valid := out[:0]
	for _, c := range out {
		if reason, err := l.check(c); reason != "" {
			fields := []logger.Field{
				logger.String("sn", sn),
				logger.String("path", c.RelPath),
				logger.String("reason", reason),
			}
			if err != nil {
				fields = append(fields, logger.Error(err))
			}
			l.log.Warn("丢弃无效图片", fields...)
			continue
		}
		valid = append(valid, c)
	}
	return valid, nil
}

// matchDirs 返回名称包含 SN 的目录，嵌套命中只保留最外层。
func (l *Locator) matchDirs(needle string) []string {
	hits := make([]string, 0, 2)
	for _, d := range l.corpus.Dirs {
		if strings.Contains(strings.ToLower(filepath.Base(d)), needle) {
			hits = append(hits, d)
		}
	}
	// corpus.Dirs 已排序：父目录总是排在其子目录之前。
	outer := hits[:0]
	for _, d := range hits {
		nested := false
		for _, o := range outer {
			if d == o || strings.HasPrefix(d, o+string(filepath.Separator)) {
				nested = true
				break
			}
		}
		if !nested {
			outer = append(outer, d)
		}
	}
	return outer
}

func (l *Locator) check(c domain.Candidate) (string, error) {
	size := c.Size
	if st, err := os.Stat(c.AbsPath); err == nil {
		size = st.Size()
	}
	if size < l.minSize {
		return RejectTooSmall, nil
	}
	if err := l.validate(c.AbsPath); err != nil {
		return RejectDecodeFailed, err
	}
	return "", nil
}

func (l *Locator) rel(abs string) string {
	r, err := filepath.Rel(l.corpus.Root, abs)
	if err != nil {
		return abs
	}
	return r
}
