// Package notice defines core types shared across subsystems.
package notice

import (
	"time"
)

// DistrictCode identifies one of the municipal district sites.
type DistrictCode string

// The sixteen district codes served by the pipeline.
const (
	Bukgu     DistrictCode = "BUKGU"
	Donggu    DistrictCode = "DONGGU"
	Dongnae   DistrictCode = "DONGNAE"
	Gangseo   DistrictCode = "GANGSEO"
	Geumjeong DistrictCode = "GEUMJEONG"
	Gijang    DistrictCode = "GIJANG"
	Haeundae  DistrictCode = "HAEUNDAE"
	Jingu     DistrictCode = "JINGU"
	Junggu    DistrictCode = "JUNGGU"
	Namgu     DistrictCode = "NAMGU"
	Saha      DistrictCode = "SAHA"
	Sasang    DistrictCode = "SASANG"
	Seogu     DistrictCode = "SEOGU"
	Suyeong   DistrictCode = "SUYEONG"
	Yeongdogu DistrictCode = "YEONGDOGU"
	Yeonje    DistrictCode = "YEONJE"
)

// BlockSignature describes how a district's server announces that it has
// refused the direct transport. Zero-valued fields are not checked.
type BlockSignature struct {
	StatusCode      int    `mapstructure:"status_code" json:"status_code,omitempty"`
	BodyPattern     string `mapstructure:"body_pattern" json:"body_pattern,omitempty"`
	RedirectPattern string `mapstructure:"redirect_pattern" json:"redirect_pattern,omitempty"`
}

// Empty reports whether the signature checks nothing.
func (s BlockSignature) Empty() bool {
	return s.StatusCode == 0 && s.BodyPattern == "" && s.RedirectPattern == ""
}

// District is one static site-registry entry.
type District struct {
	Code          DistrictCode   `mapstructure:"code" json:"code"`
	Name          string         `mapstructure:"name" json:"name"`
	BaseURL       string         `mapstructure:"base_url" json:"base_url"`
	ChannelID     string         `mapstructure:"channel_id" json:"channel_id"`
	RequiresProxy bool           `mapstructure:"requires_proxy" json:"requires_proxy"`
	Block         BlockSignature `mapstructure:"block" json:"block,omitempty"`
}

// RawCandidate is one announcement extracted by a site adapter, before
// deduplication or persistence.
type RawCandidate struct {
	District DistrictCode
	URL      string
	RawText  string
}

// RawRecord is a persisted announcement. Immutable once written.
type RawRecord struct {
	ID          string       `json:"id"`
	District    DistrictCode `json:"district"`
	URL         string       `json:"url"`
	RawText     string       `json:"raw_text"`
	Fingerprint string       `json:"fingerprint"`
	CapturedAt  time.Time    `json:"captured_at"`
}

// AnalysisStatus marks the outcome of the structured-extraction step.
type AnalysisStatus string

// Analysis status values persisted with each analyzed record.
const (
	AnalysisOK          AnalysisStatus = "ok"
	AnalysisNeedsReview AnalysisStatus = "needs-review"
)

// NoticeFields holds the structured fields extracted from one announcement.
// Every field is optional; extraction quality varies by district.
type NoticeFields struct {
	Name              string `json:"name,omitempty"`
	BirthDate         string `json:"birth_date,omitempty"`
	Residence         string `json:"residence,omitempty"`
	DeathDatetime     string `json:"death_datetime,omitempty"`
	DeathPlace        string `json:"death_place,omitempty"`
	FuneralSchedule   string `json:"funeral_schedule,omitempty"`
	FuneralPlace      string `json:"funeral_place,omitempty"`
	DepartureDatetime string `json:"departure_datetime,omitempty"`
	CremationDatetime string `json:"cremation_datetime,omitempty"`
}

// AnalyzedRecord is the structured counterpart of exactly one RawRecord.
type AnalyzedRecord struct {
	ID         string         `json:"id"`
	RawID      string         `json:"raw_id"`
	District   DistrictCode   `json:"district"`
	URL        string         `json:"url"`
	Fields     NoticeFields   `json:"fields"`
	Status     AnalysisStatus `json:"status"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
}

// SentRecord marks one AnalyzedRecord as delivered to every required channel.
type SentRecord struct {
	ID         string    `json:"id"`
	AnalyzedID string    `json:"analyzed_id"`
	ChannelIDs []string  `json:"channel_ids"`
	SentAt     time.Time `json:"sent_at"`
}

// ExecutionLog is one append-only pipeline log line persisted for auditing.
type ExecutionLog struct {
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	Stage      string    `json:"stage,omitempty"`
	District   string    `json:"district,omitempty"`
	ErrorTrace string    `json:"error_trace,omitempty"`
	LoggedAt   time.Time `json:"logged_at"`
}

// DistrictResult captures one district's collection outcome within a run.
type DistrictResult struct {
	District  DistrictCode  `json:"district"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Fetched   int           `json:"fetched"`
	New       int           `json:"new"`
	Duplicate int           `json:"duplicate"`
	UsedProxy bool          `json:"used_proxy"`
}

// ExecutionMetric is the per-run metrics row persisted by the coordinator.
type ExecutionMetric struct {
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          time.Time        `json:"ended_at"`
	CollectDuration  time.Duration    `json:"collect_duration"`
	AnalyzeDuration  time.Duration    `json:"analyze_duration"`
	SendDuration     time.Duration    `json:"send_duration"`
	ItemsCollected   int              `json:"items_collected"`
	ItemsAnalyzed    int              `json:"items_analyzed"`
	ItemsSent        int              `json:"items_sent"`
	ProxyFallbacks   int              `json:"proxy_fallbacks"`
	DistrictResults  []DistrictResult `json:"district_results"`
	DistrictFailures int              `json:"district_failures"`
	FatalError       string           `json:"fatal_error,omitempty"`
}

// RunMode selects which stages a pipeline invocation executes.
type RunMode string

// Supported run modes.
const (
	RunFull           RunMode = "full"
	RunSkipCollection RunMode = "skip-collection"
)

// RunContext carries per-invocation knobs into the coordinator. It replaces
// process-wide scheduler state.
type RunContext struct {
	Mode               RunMode
	Deadline           time.Duration
	CollectConcurrency int
	AnalyzeConcurrency int
	IncludeNeedsReview bool
}
