package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"unicode/utf8"

	"github.com/waqasmani/autopunch/internal/shared/domain"
)

const previewRunes = 50

var outcomeEmoji = map[domain.Outcome]string{
	domain.OutcomeSubmitted:          "✅",
	domain.OutcomeFailed:             "❌",
	domain.OutcomeSkippedNotDue:      "⏭️",
	domain.OutcomeSkippedAlreadyDone: "⏭️",
}

var kindLabel = map[domain.Kind]string{
	domain.KindClockIn:       "打卡",
	domain.KindDailyReport:   "日报提交",
	domain.KindWeeklyReport:  "周报提交",
	domain.KindMonthlyReport: "月报提交",
}

// Message is one notification rendered for every channel format.
type Message struct {
	Title    string
	Markdown string
	HTML     string
}

func Render(result domain.RunResult) Message {
	return Message{
		Title:    Title(result),
		Markdown: RenderMarkdown(result),
		HTML:     RenderHTML(result),
	}
}

type tally struct {
	total, submitted, failed, skipped int
}

func count(result domain.RunResult) tally {
	c := result.Counts()
	return tally{
		total:     len(result.Attempts),
		submitted: c[domain.OutcomeSubmitted],
		failed:    c[domain.OutcomeFailed],
		skipped:   c[domain.OutcomeSkippedNotDue] + c[domain.OutcomeSkippedAlreadyDone],
	}
}

func Title(result domain.RunResult) string {
	t := count(result)
	emoji := "📊"
	if result.Status == domain.StatusCompleted {
		emoji = "🎉"
	}
	name := ""
	if result.DisplayName != "" {
		name = " " + domain.MaskName(result.DisplayName)
	}
	return fmt.Sprintf("%s 工学云报告%s (%d/%d)", emoji, name, t.submitted+t.skipped, t.total)
}

// Preview returns the first runes of a report body.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "..."
}

func label(kind domain.Kind) string {
	if l, ok := kindLabel[kind]; ok {
		return l
	}
	return string(kind)
}

func emoji(outcome domain.Outcome) string {
	if e, ok := outcomeEmoji[outcome]; ok {
		return e
	}
	return "❓"
}

func hasReport(a domain.Attempt) bool {
	return a.Outcome == domain.OutcomeSubmitted && a.Kind != domain.KindClockIn && a.Content != ""
}

func RenderMarkdown(result domain.RunResult) string {
	t := count(result)
	var b strings.Builder

	b.WriteString("# 工学云任务执行报告\n\n")
	if result.Error != "" {
		fmt.Fprintf(&b, "> ❌ %s\n\n", result.Error)
	}

	b.WriteString("## 📊 执行统计\n\n")
	fmt.Fprintf(&b, "- 总任务数：%d\n", t.total)
	fmt.Fprintf(&b, "- 成功：%d\n", t.submitted)
	fmt.Fprintf(&b, "- 失败：%d\n", t.failed)
	fmt.Fprintf(&b, "- 跳过：%d\n\n", t.skipped)

	b.WriteString("## 📝 详细任务报告\n\n")
	for _, a := range result.Attempts {
		fmt.Fprintf(&b, "### %s %s\n\n", emoji(a.Outcome), label(a.Kind))
		fmt.Fprintf(&b, "**状态**：%s\n\n", a.Outcome)
		if a.Detail != "" {
			fmt.Fprintf(&b, "**结果**：%s\n\n", a.Detail)
		}
		if hasReport(a) {
			fmt.Fprintf(&b, "**报告预览**：\n\n%s\n\n", Preview(a.Content))
			b.WriteString("<details>\n<summary>点击查看完整报告</summary>\n\n")
			fmt.Fprintf(&b, "```\n%s\n```\n</details>\n\n", a.Content)
		}
		b.WriteString("---\n\n")
	}
	return b.String()
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"emoji":   emoji,
	"label":   label,
	"preview": Preview,
	"report":  hasReport,
}).Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="UTF-8">
<title>工学云任务执行报告</title>
<style>
body { font-family: 'Segoe UI', Tahoma, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; }
.stats { display: flex; justify-content: space-around; flex-wrap: wrap; }
.stat-item, .task { background: #f5f7fa; border-radius: 10px; padding: 15px; margin: 10px; }
.report-preview { font-style: italic; }
</style>
</head>
<body>
<h1>工学云任务执行报告</h1>
{{- if .Error}}
<p class="error">❌ {{.Error}}</p>
{{- end}}
<div class="stats">
<div class="stat-item"><h3>总任务数</h3><p>{{.Tally.total}}</p></div>
<div class="stat-item"><h3>成功</h3><p>{{.Tally.submitted}}</p></div>
<div class="stat-item"><h3>失败</h3><p>{{.Tally.failed}}</p></div>
<div class="stat-item"><h3>跳过</h3><p>{{.Tally.skipped}}</p></div>
</div>
<h2>详细任务报告</h2>
{{- range .Attempts}}
<div class="task">
<h3>{{emoji .Outcome}} {{label .Kind}}</h3>
<p><strong>状态：</strong>{{.Outcome}}</p>
{{- if .Detail}}
<p><strong>结果：</strong>{{.Detail}}</p>
{{- end}}
{{- if report .}}
<div class="report-preview"><p><strong>报告预览：</strong>{{preview .Content}}</p></div>
<details><summary>查看完整报告</summary><pre>{{.Content}}</pre></details>
{{- end}}
</div>
{{- end}}
</body>
</html>
`))

func RenderHTML(result domain.RunResult) string {
	t := count(result)
	data := struct {
		Error    string
		Tally    map[string]int
		Attempts []domain.Attempt
	}{
		Error: result.Error,
		Tally: map[string]int{
			"total":     t.total,
			"submitted": t.submitted,
			"failed":    t.failed,
			"skipped":   t.skipped,
		},
		Attempts: result.Attempts,
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return "<pre>" + template.HTMLEscapeString(RenderMarkdown(result)) + "</pre>"
	}
	return buf.String()
}
