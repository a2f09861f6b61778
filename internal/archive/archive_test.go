package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/ngreport/internal/logger"
)

// zipBytes 生成一个内存 ZIP：name -> content。
func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func TestExtractor_Run_NestedAndCleanup(t *testing.T) {
	cwd := t.TempDir()
	zipDir := filepath.Join(cwd, "zip")
	dataDir := filepath.Join(cwd, "data")

	inner := zipBytes(t, map[string][]byte{"SN001_NG.jpg": []byte("ng")})
	outer := zipBytes(t, map[string][]byte{
		"photos/SN001_OK.jpg":            []byte("ok"),
		"photos/inner.zip":               inner,
		"__MACOSX/photos/._SN001_OK.jpg": []byte("meta"),
	})
	writeFile(t, filepath.Join(cwd, "batch1.zip"), outer)
	writeFile(t, filepath.Join(zipDir, "line2", "batch2.ZIP"), zipBytes(t, map[string][]byte{"a.png": []byte("a")}))

	res, err := Extractor{Cwd: cwd, ZipDir: zipDir, DataDir: dataDir, Log: logger.NewNop()}.Run(context.Background())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Moved != 1 || res.Extracted != 3 || len(res.Failed) != 0 {
		t.Fatalf("统计不正确：%+v", res)
	}
	if exists(filepath.Join(cwd, "batch1.zip")) || !exists(filepath.Join(zipDir, "batch1.zip")) {
		t.Fatalf("cwd 下的 ZIP 应移动到 zip 目录")
	}

	want := []string{
		filepath.Join(dataDir, "batch1", "photos", "SN001_OK.jpg"),
		filepath.Join(dataDir, "batch1", "photos", "inner", "SN001_NG.jpg"),
		filepath.Join(dataDir, "line2", "batch2", "a.png"),
	}
	for _, p := range want {
		if !exists(p) {
			t.Fatalf("缺少解压结果：%s", p)
		}
	}
	if exists(filepath.Join(dataDir, "batch1", "__MACOSX")) {
		t.Fatalf("__MACOSX 应被删除")
	}
	if exists(filepath.Join(dataDir, "batch1", "photos", "inner.zip")) {
		t.Fatalf("嵌套 ZIP 应在解压后删除")
	}
	if res.MacOSXRemoved != 1 || res.ZipsRemoved != 1 {
		t.Fatalf("清理统计不正确：%+v", res)
	}
}

func TestExtractor_Run_NoArchives(t *testing.T) {
	cwd := t.TempDir()
	_, err := Extractor{Cwd: cwd, ZipDir: filepath.Join(cwd, "zip"), DataDir: filepath.Join(cwd, "data")}.Run(context.Background())
	if !errors.Is(err, ErrNoArchives) {
		t.Fatalf("期望 ErrNoArchives，实际 %v", err)
	}
}

func TestExtractor_Run_BadArchiveIsRecorded(t *testing.T) {
	cwd := t.TempDir()
	zipDir := filepath.Join(cwd, "zip")
	writeFile(t, filepath.Join(zipDir, "broken.zip"), []byte("not a zip"))
	writeFile(t, filepath.Join(zipDir, "good.zip"), zipBytes(t, map[string][]byte{"x.jpg": []byte("x")}))

	res, err := Extractor{Cwd: cwd, ZipDir: zipDir, DataDir: filepath.Join(cwd, "data")}.Run(context.Background())
	if err != nil {
		t.Fatalf("单个压缩包失败不应中断：%v", err)
	}
	if res.Extracted != 1 || len(res.Failed) != 1 || res.Failed[0] != "broken.zip" {
		t.Fatalf("统计不正确：%+v", res)
	}
}

func TestUnzip_RejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "evil.zip")
	writeFile(t, p, zipBytes(t, map[string][]byte{"../../escape.txt": []byte("x")}))

	dest := filepath.Join(dir, "out")
	err := Unzip(p, dest)
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("期望 ErrUnsafePath，实际 %v", err)
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Op != "extract" {
		t.Fatalf("期望 *Error{Op: extract}，实际 %v", err)
	}
	if exists(filepath.Join(dir, "escape.txt")) || exists(filepath.Join(filepath.Dir(dir), "escape.txt")) {
		t.Fatalf("越界文件不应被写出")
	}
}

func TestSafeJoin(t *testing.T) {
	dest := filepath.Join(string(filepath.Separator), "tmp", "out")
	for _, name := range []string{"../x", "/etc/passwd", "a/../../x", ""} {
		if _, err := safeJoin(dest, name); !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("%q 应被拒绝", name)
		}
	}
	got, err := safeJoin(dest, "a/b/../c.jpg")
	if err != nil || got != filepath.Join(dest, "a", "c.jpg") {
		t.Fatalf("合法路径：%q %v", got, err)
	}
}
