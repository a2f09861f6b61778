package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/ngreport/internal/app/run"
	"github.com/John-Robertt/ngreport/internal/config"
	"github.com/John-Robertt/ngreport/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：文字识别较慢时，长时间无行完成也会定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total  int
	done   int
	ok     int
	remark int
	fail   int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	fmt.Fprintf(p.w, "[%s] ngreport %s (策略 %s)\n", now.Format("15:04:05"), eff.Device, eff.Device.Policy())
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  input: %s\n", eff.Input)
	fmt.Fprintf(p.w, "  data: %s\n", eff.DataDir)
	fmt.Fprintf(p.w, "  classifier: %s\n", eff.Classifier)
	fmt.Fprintf(p.w, "  extensions: %s\n", strings.Join(eff.Extensions, " "))
	fmt.Fprintf(p.w, "  min_file_size: %s\n", formatBytes(eff.MinFileSize))
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  result: %s\n", eff.ResultDir)
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "read":
		fmt.Fprintf(p.w, "读取: sheet=%s rows=%d (%s)\n",
			stringField(fields, "sheet"), intField(fields, "rows"), formatShortDuration(dur),
		)
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d dirs=%d (%s)\n",
			intField(fields, "files"), intField(fields, "dirs"), formatShortDuration(dur),
		)
	case "exec":
		p.total = intField(fields, "total_rows")
		fmt.Fprintf(p.w, "执行: rows=%d classifier=%s\n\n", p.total, stringField(fields, "classifier"))
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "write":
		p.stopTickerLocked()
		fmt.Fprintf(p.w, "\n写出: %s (%s)\n", stringField(fields, "output"), formatShortDuration(dur))
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnRowDone(idx, total int, res domain.RowResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	sn := res.SN
	if sn == "" {
		sn = "<空SN>"
	}

	switch res.Status {
	case domain.StatusOK:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK ng=%d locate=%s (%s)\n",
			idx, total, sn, len(res.NG), orDash(res.Locate), formatShortDuration(dur),
		)
	case domain.StatusRemark:
		p.remark++
		fmt.Fprintf(p.w, "[%d/%d] %s REMARK ng=%d: %s (%s)\n",
			idx, total, sn, len(res.NG), truncate(res.Remark, 120), formatShortDuration(dur),
		)
	case domain.StatusFailed:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL: %s (%s)\n",
			idx, total, sn, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "[%d/%d] 第 %d 行 SKIP (SN 为空，不搜索图片)\n", idx, total, res.Row)
	}

	p.lastPrinted = time.Now()

	// 最后一行完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

func (p *progressUI) OnProgress(done, total, ok, remark, fail int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printProgressLocked(done, total, ok, remark, fail, elapsed)
}

func (p *progressUI) printProgressLocked(done, total, ok, remark, fail int, elapsed time.Duration) {
	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d remark=%d fail=%d elapsed=%s\n",
		done, total, ok, remark, fail, formatElapsed(elapsed),
	)
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}
	stop := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					p.printProgressLocked(p.done, p.total, p.ok, p.remark, p.fail, time.Since(p.startedAt))
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.0fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}
