package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/John-Robertt/ngreport/internal/infra/fsx"
	"github.com/John-Robertt/ngreport/internal/logger"
)

const macOSXDir = "__MACOSX"

var (
	// ErrNoArchives 表示 zip 目录中没有任何 ZIP 文件。
	ErrNoArchives = errors.New("zip 目录中没有找到任何 ZIP 文件，请将 ZIP 文件放入 zip 目录")
	// ErrUnsafePath 表示压缩包条目试图写出目标目录（zip-slip）。
	ErrUnsafePath = errors.New("压缩包条目路径越界")
)

// Error 是解压阶段的结构化错误。
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result 汇总一次解压。
type Result struct {
	Moved         int
	Extracted     int
	MacOSXRemoved int
	ZipsRemoved   int
	// Failed 是处理失败的压缩包（相对 zip 目录）。单个失败不会中断整体流程。
	Failed []string
}

// Extractor 把 cwd 下的 ZIP 移入 zipDir，并递归解压到 dataDir。
type Extractor struct {
	Cwd     string
	ZipDir  string
	DataDir string
	Log     logger.Logger
}

// Run 执行完整的解压流程：
//  1. cwd 下的 *.zip 移入 zipDir
//  2. zipDir 中的每个 ZIP 解压到 dataDir 下对应位置的 <文件名> 目录，嵌套 ZIP 继续解压
//  3. 删除 dataDir 中全部 __MACOSX 目录与 ZIP 文件
func (x Extractor) Run(ctx context.Context) (Result, error) {
	log := x.Log
	if log == nil {
		log = logger.NewNop()
	}
	var res Result

	for _, d := range []string{x.ZipDir, x.DataDir} {
		if err := fsx.EnsureDir(d); err != nil {
			return res, err
		}
	}

	moved, err := x.moveStrayZips(log)
	res.Moved = moved
	if err != nil {
		return res, err
	}

	n, err := countZips(x.ZipDir)
	if err != nil {
		return res, err
	}
	if n == 0 {
		return res, ErrNoArchives
	}
	log.Info("找到 ZIP 文件", logger.Int("count", n), logger.String("zip_dir", x.ZipDir))

	if err := x.unzipTree(ctx, log, x.ZipDir, x.DataDir, &res); err != nil {
		return res, err
	}

	removed, err := removeMacOSX(x.DataDir)
	res.MacOSXRemoved += removed
	if err != nil {
		return res, err
	}
	res.ZipsRemoved, err = removeZips(x.DataDir)
	return res, err
}

func (x Extractor) moveStrayZips(log logger.Logger) (int, error) {
	cwd, zipDir := filepath.Clean(x.Cwd), filepath.Clean(x.ZipDir)
	if cwd == zipDir {
		return 0, nil
	}
	entries, err := os.ReadDir(cwd)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, e := range entries {
		if e.IsDir() || !isZip(e.Name()) {
			continue
		}
		src := filepath.Join(cwd, e.Name())
		dst := filepath.Join(zipDir, e.Name())
		if err := fsx.Rename(src, dst); err != nil {
			if fsx.IsCrossDevice(err) {
				// 保留原位，其余 ZIP 照常处理。
				log.Warn("ZIP 与 zip 目录不在同一文件系统，跳过移动", logger.String("file", e.Name()), logger.Error(err))
				continue
			}
			return moved, &Error{Op: "move", Path: src, Err: err}
		}
		log.Info("已将 ZIP 移动到 zip 目录", logger.String("file", e.Name()))
		moved++
	}
	return moved, nil
}

// unzipTree 把 src 下的 ZIP 解压到 dst 对应位置；src 与 dst 可以相同（处理嵌套 ZIP）。
func (x Extractor) unzipTree(ctx context.Context, log logger.Logger, src, dst string, res *Result) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		srcPath := filepath.Join(src, e.Name())

		if e.IsDir() {
			if e.Name() == macOSXDir {
				continue
			}
			dstPath := filepath.Join(dst, e.Name())
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return err
			}
			if err := x.unzipTree(ctx, log, srcPath, dstPath, res); err != nil {
				return err
			}
			continue
		}
		if !isZip(e.Name()) {
			continue
		}

		target := filepath.Join(dst, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		rel := x.rel(srcPath)
		log.Info("解压", logger.String("archive", rel), logger.String("to", target))

		if err := Unzip(srcPath, target); err != nil {
			log.Warn("解压失败", logger.String("archive", rel), logger.Error(err))
			res.Failed = append(res.Failed, rel)
			continue
		}
		res.Extracted++

		removed, err := removeMacOSX(target)
		res.MacOSXRemoved += removed
		if err != nil {
			return err
		}
		if err := x.unzipTree(ctx, log, target, target, res); err != nil {
			return err
		}
	}
	return nil
}

func (x Extractor) rel(p string) string {
	if r, err := filepath.Rel(x.ZipDir, p); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return p
}

// Unzip 把 path 解压到 dest。任何条目越出 dest 都会使整个压缩包失败（*Error{Err: ErrUnsafePath}）。
func Unzip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close()
		return &Error{Op: "extract", Path: path, Err: ErrUnsafePath}
	}
	if err != nil {
		return &Error{Op: "open", Path: path, Err: err}
	}
	defer zr.Close()

	dest = filepath.Clean(dest)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	for _, f := range zr.File {
		name := entryName(f)
		out, err := safeJoin(dest, name)
		if err != nil {
			return &Error{Op: "extract", Path: name, Err: err}
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeEntry(f, out); err != nil {
			return &Error{Op: "extract", Path: name, Err: err}
		}
	}
	return nil
}

// entryName 返回条目名。未标记 UTF-8 且不是合法 UTF-8 的名称按 GBK 解码（Windows 中文系统打包）。
func entryName(f *zip.File) string {
	name := f.Name
	if f.NonUTF8 && !utf8.ValidString(name) {
		if decoded, err := simplifiedchinese.GBK.NewDecoder().String(name); err == nil {
			name = decoded
		}
	}
	return strings.ReplaceAll(name, `\`, "/")
}

func safeJoin(dest, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", ErrUnsafePath
	}
	out := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, out)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return out, nil
}

func writeEntry(f *zip.File, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if mt := f.Modified; !mt.IsZero() {
		_ = os.Chtimes(out, mt, mt)
	}
	return nil
}

func isZip(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

func countZips(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isZip(d.Name()) {
			n++
		}
		return nil
	})
	return n, err
}

func removeMacOSX(dir string) (int, error) {
	var hits []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == macOSXDir {
			hits = append(hits, p)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i, p := range hits {
		if err := os.RemoveAll(p); err != nil {
			return i, err
		}
	}
	return len(hits), nil
}

func removeZips(dir string) (int, error) {
	var hits []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isZip(d.Name()) {
			hits = append(hits, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i, p := range hits {
		if err := os.Remove(p); err != nil {
			return i, err
		}
	}
	return len(hits), nil
}
