package notify

import (
	"fmt"
	"strings"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// Router decides which channels one analyzed notice goes to. Every notice
// goes to its district channel and the consolidated channel; test mode
// collapses everything onto the consolidated channel so real subscribers
// see nothing during rehearsals.
type Router struct {
	ConsolidatedID string
	OpsID          string
	TestMode       bool
}

// ChannelsFor returns the delivery targets for one district, deduplicated,
// in send order.
func (r Router) ChannelsFor(d notice.District) []string {
	if r.TestMode {
		if r.ConsolidatedID == "" {
			return nil
		}
		return []string{r.ConsolidatedID}
	}
	var out []string
	if d.ChannelID != "" {
		out = append(out, d.ChannelID)
	}
	if r.ConsolidatedID != "" && r.ConsolidatedID != d.ChannelID {
		out = append(out, r.ConsolidatedID)
	}
	return out
}

// AlertChannel returns the operational alert target. In test mode alerts are
// folded onto the consolidated channel too.
func (r Router) AlertChannel() string {
	if r.TestMode || r.OpsID == "" {
		return r.ConsolidatedID
	}
	return r.OpsID
}

var fieldLabels = []struct {
	label string
	pick  func(notice.NoticeFields) string
}{
	{"이름", func(f notice.NoticeFields) string { return f.Name }},
	{"생년월일", func(f notice.NoticeFields) string { return f.BirthDate }},
	{"거주지", func(f notice.NoticeFields) string { return f.Residence }},
	{"사망일시", func(f notice.NoticeFields) string { return f.DeathDatetime }},
	{"사망장소", func(f notice.NoticeFields) string { return f.DeathPlace }},
	{"장례일정", func(f notice.NoticeFields) string { return f.FuneralSchedule }},
	{"장례장소", func(f notice.NoticeFields) string { return f.FuneralPlace }},
	{"발인일시", func(f notice.NoticeFields) string { return f.DepartureDatetime }},
	{"화장일시", func(f notice.NoticeFields) string { return f.CremationDatetime }},
}

// Format renders one analyzed notice as a Telegram message. Empty fields are
// omitted; the rendering is deterministic for a given record.
func Format(rec notice.AnalyzedRecord, districtName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] 부고 알림\n", districtName)
	if rec.Status == notice.AnalysisNeedsReview {
		b.WriteString("(자동 분석 실패 - 원문 확인 필요)\n")
	}
	for _, fl := range fieldLabels {
		if v := strings.TrimSpace(fl.pick(rec.Fields)); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", fl.label, v)
		}
	}
	if rec.URL != "" {
		b.WriteString("\n원문: " + rec.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
