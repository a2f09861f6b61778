package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/ngreport/internal/domain"
)

var policyDescriptions = map[domain.Policy]string{
	domain.PolicyA: "前缀 <14位时间戳>_<工位>：最新两张 NG，OK 需同前缀",
	domain.PolicyB: "前缀 P<姿态>_<12位时间戳>：最新两张 NG，OK 需同前缀",
	domain.PolicyC: "不匹配前缀：最新两张 NG + 首张 OK",
}

func (c *cli) newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "列出支持的设备类型及其选择规则",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := table.NewWriter()
			t.SetOutputMirror(c.stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"设备", "策略", "说明"})
			for _, d := range domain.Devices() {
				p := d.Policy()
				t.AppendRow(table.Row{string(d), string(p), policyDescriptions[p]})
			}
			t.Render()
			return nil
		},
	}
}
