package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/ngreport/internal/domain"
)

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{Device: "aoi", Input: "in.xlsx"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Device != domain.DeviceAOI {
		t.Fatalf("期望 device=AOI，实际=%q", eff.Device)
	}
	if eff.Input != filepath.Join(cwd, "in.xlsx") {
		t.Fatalf("input 应相对 cwd 解析：%q", eff.Input)
	}
	if eff.DataDir != filepath.Join(cwd, DefaultDataDir) || eff.ResultDir != filepath.Join(cwd, DefaultResultDir) {
		t.Fatalf("目录默认值不正确：data=%q result=%q", eff.DataDir, eff.ResultDir)
	}
	if eff.Classifier != ClassifierFilename || eff.MinFileSize != DefaultMinFileSize || eff.ImageHeight != DefaultImageHeight {
		t.Fatalf("默认值不正确：%+v", eff)
	}
	if eff.BlankVariance != DefaultBlankVariance || eff.BlankDominance != DefaultBlankDominance {
		t.Fatalf("空白阈值默认值不正确：%+v", eff)
	}
	if len(eff.Extensions) != 3 {
		t.Fatalf("默认扩展名应为 3 个，实际 %v", eff.Extensions)
	}
	if eff.ConfigFile != "" {
		t.Fatalf("未提供配置文件时 ConfigFile 应为空：%q", eff.ConfigFile)
	}
}

func TestLoadEffective_FileThenCLIOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte("classifier: text\ndata_dir: photos\nimage_height: 90\nextensions: [JPG, \".bmp\"]\n"))

	eff, err := LoadEffective(cwd, CLIArgs{Device: "RBT", Input: "in.xlsx"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Classifier != ClassifierText || eff.ImageHeight != 90 {
		t.Fatalf("配置文件未生效：%+v", eff)
	}
	if eff.DataDir != filepath.Join(cwd, "photos") {
		t.Fatalf("data_dir 不正确：%q", eff.DataDir)
	}
	if len(eff.Extensions) != 2 || eff.Extensions[0] != ".jpg" || eff.Extensions[1] != ".bmp" {
		t.Fatalf("扩展名规范化不正确：%v", eff.Extensions)
	}
	if eff.ConfigFile != filepath.Join(cwd, FileName) {
		t.Fatalf("ConfigFile 不正确：%q", eff.ConfigFile)
	}

	eff2, err := LoadEffective(cwd, CLIArgs{
		Device:        "RBT",
		Input:         "in.xlsx",
		Classifier:    ClassifierFilename,
		ClassifierSet: true,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff2.Classifier != ClassifierFilename {
		t.Fatalf("CLI 应覆盖配置文件：%q", eff2.Classifier)
	}
}

func TestLoadEffective_EnvOverridesFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte("min_file_size: 100\n"))
	t.Setenv("NGREPORT_MIN_FILE_SIZE", "2048")

	eff, err := LoadEffective(cwd, CLIArgs{Device: "VIS", Input: "in.xlsx"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.MinFileSize != 2048 {
		t.Fatalf("环境变量应覆盖配置文件：%d", eff.MinFileSize)
	}
}

func TestLoadEffective_DotEnv(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ".env"), []byte("NGREPORT_RESULT_DIR=out\n"))
	t.Setenv("NGREPORT_RESULT_DIR", "")
	os.Unsetenv("NGREPORT_RESULT_DIR")

	eff, err := LoadEffective(cwd, CLIArgs{Device: "VIS", Input: "in.xlsx"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ResultDir != filepath.Join(cwd, "out") {
		t.Fatalf(".env 未生效：%q", eff.ResultDir)
	}
}

func TestLoadEffective_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{Device: "AOI", Input: "in.xlsx", ConfigFile: "nope.yaml"})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		cli  CLIArgs
	}{
		{"unknown device", "", CLIArgs{Device: "XYZ", Input: "in.xlsx"}},
		{"missing input", "", CLIArgs{Device: "AOI"}},
		{"bad classifier", "classifier: magic\n", CLIArgs{Device: "AOI", Input: "in.xlsx"}},
		{"bad height", "image_height: 0\n", CLIArgs{Device: "AOI", Input: "in.xlsx"}},
		{"bad dominance", "blank_dominance: 1.5\n", CLIArgs{Device: "AOI", Input: "in.xlsx"}},
		{"bad threshold", "binarize_threshold: 300\n", CLIArgs{Device: "AOI", Input: "in.xlsx"}},
		{"broken yaml", "classifier: [\n", CLIArgs{Device: "AOI", Input: "in.xlsx"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cwd := t.TempDir()
			if c.yaml != "" {
				writeFile(t, filepath.Join(cwd, FileName), []byte(c.yaml))
			}
			_, err := LoadEffective(cwd, c.cli)
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}

func TestLoadExtract_FileThenCLIOverride(t *testing.T) {
	cwd := t.TempDir()
	if err := os.WriteFile(filepath.Join(cwd, FileName), []byte("zip_dir: archives\ndata_dir: photos\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}

	xc, err := LoadExtract(cwd, ExtractArgs{DataDir: "override", DataDirSet: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if xc.Cwd != cwd {
		t.Fatalf("cwd=%q", xc.Cwd)
	}
	if xc.ZipDir != filepath.Join(cwd, "archives") {
		t.Fatalf("zip_dir 应来自配置文件：%q", xc.ZipDir)
	}
	if xc.DataDir != filepath.Join(cwd, "override") {
		t.Fatalf("data_dir 应被 CLI 覆盖：%q", xc.DataDir)
	}
}
