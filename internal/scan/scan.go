package scan

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/ngreport/internal/domain"
)

// Corpus 是照片目录的一次性索引：全部图片文件 + 全部子目录。
type Corpus struct {
	Root  string
	Files []domain.Candidate
	// Dirs 是 root 下的全部子目录（绝对路径，不含 root 本身）。
	Dirs []string
}

// ScanImages 扫描 root 下扩展名属于 exts 的图片文件与全部子目录。
//
// 注意：扫描阶段只做 stat（DirEntry.Info），不读文件内容。
// root 不存在时返回错误，由调用方决定是否降级。
func ScanImages(root string, exts []string) (Corpus, error) {
	root = filepath.Clean(root)
	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = struct{}{}
	}

	c := Corpus{
		Root:  root,
		Files: make([]domain.Candidate, 0, 256),
		Dirs:  make([]string, 0, 64),
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			// 解压残留的 macOS 元数据目录不是证据。
			if d.Name() == "__MACOSX" {
				return filepath.SkipDir
			}
			if path != root {
				c.Dirs = append(c.Dirs, path)
			}
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, "._") {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := allowed[ext]; !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		c.Files = append(c.Files, domain.Candidate{
			AbsPath: path,
			RelPath: rel,
			Name:    name,
			Base:    strings.TrimSuffix(name, filepath.Ext(name)),
			Ext:     ext,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return Corpus{}, err
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(c.Files, func(i, j int) bool { return c.Files[i].RelPath < c.Files[j].RelPath })
	sort.Strings(c.Dirs)
	return c, nil
}

// Under 返回位于 dir 之下（任意深度）的图片文件。
func (c Corpus) Under(dir string) []domain.Candidate {
	dir = filepath.Clean(dir)
	out := make([]domain.Candidate, 0, 8)
	for _, f := range c.Files {
		if isUnder(f.AbsPath, dir) {
			out = append(out, f)
		}
	}
	return out
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
