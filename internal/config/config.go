package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/John-Robertt/ngreport/internal/domain"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// FileName 是 cwd 下自动发现的配置文件名（可选）。
	FileName = "ngreport.yaml"
	// EnvPrefix 是环境变量前缀，例如 NGREPORT_DATA_DIR。
	EnvPrefix = "NGREPORT"

	ClassifierFilename = "filename"
	ClassifierText     = "text"
)

// 内置默认值。
const (
	DefaultDataDir           = "data"
	DefaultZipDir            = "zip"
	DefaultResultDir         = "result"
	DefaultClassifier        = ClassifierFilename
	DefaultMinFileSize       = 10 * 1024
	DefaultImageHeight       = 120
	DefaultImageMargin       = 15
	DefaultBlankVariance     = 100.0
	DefaultBlankDominance    = 0.95
	DefaultBinarizeThreshold = 150
	DefaultMinConfidence     = 60.0
	DefaultTesseractLang     = "eng"
	DefaultLogLevel          = "info"
)

// DefaultExtensions 是默认接受的图片扩展名。
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// CLIArgs 是 CLI 暴露的入口，并保留“是否显式指定”的信息，保证 flag 能覆盖配置文件。
type CLIArgs struct {
	Device string
	Input  string

	ConfigFile string

	Classifier    string
	ClassifierSet bool

	DataDir    string
	DataDirSet bool

	ResultDir    string
	ResultDirSet bool

	SkipExtract    bool
	SkipExtractSet bool

	Debug bool
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Device domain.Device
	Input  string

	DataDir     string
	ZipDir      string
	ResultDir   string
	SkipExtract bool

	Classifier  string
	MinFileSize int64
	Extensions  []string

	ImageHeight int
	ImageMargin int

	BlankVariance     float64
	BlankDominance    float64
	BinarizeThreshold int
	MinConfidence     float64

	TesseractPath string
	TesseractLang string

	LogLevel string
	// ConfigFile 是实际读取的配置文件路径（未读取则为空）。
	ConfigFile string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path != "" {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取配置并与 CLI 参数合并为最终配置。
//
// 覆盖优先级（固定）：CLI flag > 环境变量（NGREPORT_*，含 <cwd>/.env）> 配置文件 > 内置默认。
//
// 配置文件发现：--config 指定时必须存在；否则 <cwd>/ngreport.yaml 可选。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, v, cfgPath, err := load(cwd, cli.ConfigFile)
	if err != nil {
		return EffectiveConfig{}, err
	}

	if cli.ClassifierSet {
		v.Set("classifier", cli.Classifier)
	}
	if cli.DataDirSet {
		v.Set("data_dir", cli.DataDir)
	}
	if cli.ResultDirSet {
		v.Set("result_dir", cli.ResultDir)
	}
	if cli.SkipExtractSet {
		v.Set("skip_extract", cli.SkipExtract)
	}
	if cli.Debug {
		v.Set("log_level", "debug")
	}

	return merge(cwdAbs, cli, v, cfgPath)
}

// ExtractArgs 是 extract 子命令的 CLI 入口。
type ExtractArgs struct {
	ConfigFile string

	ZipDir    string
	ZipDirSet bool

	DataDir    string
	DataDirSet bool

	Debug bool
}

// ExtractConfig 是 extract 子命令的最终配置。
type ExtractConfig struct {
	Cwd      string
	ZipDir   string
	DataDir  string
	LogLevel string
}

// LoadExtract 与 LoadEffective 使用相同的来源与优先级，只解析解压相关字段。
func LoadExtract(cwd string, cli ExtractArgs) (ExtractConfig, error) {
	cwdAbs, v, _, err := load(cwd, cli.ConfigFile)
	if err != nil {
		return ExtractConfig{}, err
	}
	if cli.ZipDirSet {
		v.Set("zip_dir", cli.ZipDir)
	}
	if cli.DataDirSet {
		v.Set("data_dir", cli.DataDir)
	}
	if cli.Debug {
		v.Set("log_level", "debug")
	}

	out := ExtractConfig{
		Cwd:      cwdAbs,
		ZipDir:   absCleanFrom(cwdAbs, v.GetString("zip_dir")),
		DataDir:  absCleanFrom(cwdAbs, v.GetString("data_dir")),
		LogLevel: v.GetString("log_level"),
	}
	if out.ZipDir == "" || out.DataDir == "" {
		return ExtractConfig{}, &Error{Code: ErrCodeInvalid, Err: errors.New("zip_dir 与 data_dir 不能为空")}
	}
	return out, nil
}

// load 加载 .env、环境变量与配置文件，返回已设置默认值的 viper 实例。
func load(cwd, configFile string) (string, *viper.Viper, string, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return "", nil, "", &Error{Code: ErrCodeInvalid, Err: err}
	}

	// .env 不存在是常态；godotenv 不会覆盖已存在的环境变量。
	if err := godotenv.Load(filepath.Join(cwdAbs, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", nil, "", &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, ".env"), Err: err}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfgPath := ""
	if strings.TrimSpace(configFile) != "" {
		cfgPath = absCleanFrom(cwdAbs, configFile)
		if _, err := os.Stat(cfgPath); err != nil {
			if os.IsNotExist(err) {
				return "", nil, "", &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: err}
			}
			return "", nil, "", &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	} else if _, err := os.Stat(filepath.Join(cwdAbs, FileName)); err == nil {
		cfgPath = filepath.Join(cwdAbs, FileName)
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return "", nil, "", &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}
	return cwdAbs, v, cfgPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("zip_dir", DefaultZipDir)
	v.SetDefault("result_dir", DefaultResultDir)
	v.SetDefault("skip_extract", false)
	v.SetDefault("classifier", DefaultClassifier)
	v.SetDefault("min_file_size", DefaultMinFileSize)
	v.SetDefault("extensions", DefaultExtensions)
	v.SetDefault("image_height", DefaultImageHeight)
	v.SetDefault("image_margin", DefaultImageMargin)
	v.SetDefault("blank_variance", DefaultBlankVariance)
	v.SetDefault("blank_dominance", DefaultBlankDominance)
	v.SetDefault("binarize_threshold", DefaultBinarizeThreshold)
	v.SetDefault("min_confidence", DefaultMinConfidence)
	v.SetDefault("tesseract_path", "")
	v.SetDefault("tesseract_lang", DefaultTesseractLang)
	v.SetDefault("log_level", DefaultLogLevel)
}

func merge(cwdAbs string, cli CLIArgs, v *viper.Viper, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	dev, err := domain.ParseDevice(cli.Device)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
	}

	classifier := strings.ToLower(strings.TrimSpace(v.GetString("classifier")))
	switch classifier {
	case ClassifierFilename, ClassifierText:
	default:
		return EffectiveConfig{}, invalid(fmt.Errorf("classifier 只能是 filename 或 text，实际是 %q", classifier))
	}

	minSize := v.GetInt64("min_file_size")
	if minSize < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("min_file_size 不能为负数：%d", minSize))
	}

	height := v.GetInt("image_height")
	if height <= 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("image_height 必须为正数：%d", height))
	}
	margin := v.GetInt("image_margin")
	if margin < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("image_margin 不能为负数：%d", margin))
	}

	dominance := v.GetFloat64("blank_dominance")
	if dominance <= 0 || dominance > 1 {
		return EffectiveConfig{}, invalid(fmt.Errorf("blank_dominance 必须在 (0, 1] 范围内：%v", dominance))
	}
	threshold := v.GetInt("binarize_threshold")
	if threshold < 0 || threshold > 255 {
		return EffectiveConfig{}, invalid(fmt.Errorf("binarize_threshold 必须在 [0, 255] 范围内：%d", threshold))
	}

	exts, err := normalizeExts(v.GetStringSlice("extensions"))
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}

	input := strings.TrimSpace(cli.Input)
	if input == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: errors.New("缺少输入文件路径")}
	}

	tess := strings.TrimSpace(v.GetString("tesseract_path"))
	if tess != "" {
		tess = absCleanFrom(cwdAbs, tess)
	}

	return EffectiveConfig{
		Device:            dev,
		Input:             absCleanFrom(cwdAbs, input),
		DataDir:           absCleanFrom(cwdAbs, v.GetString("data_dir")),
		ZipDir:            absCleanFrom(cwdAbs, v.GetString("zip_dir")),
		ResultDir:         absCleanFrom(cwdAbs, v.GetString("result_dir")),
		SkipExtract:       v.GetBool("skip_extract"),
		Classifier:        classifier,
		MinFileSize:       minSize,
		Extensions:        exts,
		ImageHeight:       height,
		ImageMargin:       margin,
		BlankVariance:     v.GetFloat64("blank_variance"),
		BlankDominance:    dominance,
		BinarizeThreshold: threshold,
		MinConfidence:     v.GetFloat64("min_confidence"),
		TesseractPath:     tess,
		TesseractLang:     strings.TrimSpace(v.GetString("tesseract_lang")),
		LogLevel:          v.GetString("log_level"),
		ConfigFile:        cfgPath,
	}, nil
}

func normalizeExts(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, errors.New("extensions 不能为空")
	}
	return out, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
