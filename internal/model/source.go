// Package model はドメインモデルを定義する。
package model

import (
	"strconv"
	"time"
)

// SourceKind はデータソースの取得方式を表す。
type SourceKind string

const (
	// SourceKindRSS はRSS/Atomフィード。
	SourceKindRSS SourceKind = "rss"
	// SourceKindWeb は任意のWebページ（単一ページまたは一覧ページ）。
	SourceKindWeb SourceKind = "web"
	// SourceKindAPI は外部API。現時点では取得未対応。
	SourceKindAPI SourceKind = "api"
)

// Valid は既知の取得方式かを返す。
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindRSS, SourceKindWeb, SourceKindAPI:
		return true
	}
	return false
}

// DefaultFetchInterval はfetch_intervalが未指定の場合の取得間隔（1時間）。
const DefaultFetchInterval = time.Hour

// Source は定期取得の対象となるデータソースを表す。
// 統計カラム（FetchCount以降）はStatsRecorder以外から更新してはならない。
type Source struct {
	ID            string
	Name          string
	Description   string
	Kind          SourceKind
	URL           string
	Config        SourceConfig
	FetchInterval time.Duration
	IsActive      bool

	FetchCount   int64
	SuccessCount int64
	ErrorCount   int64
	LastFetch    *time.Time
	LastSuccess  *time.Time
	LastError    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDue はnow時点で取得対象かを判定する。
// 非アクティブなソースは常にfalse。一度も取得していない場合はtrue。
func (s *Source) IsDue(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.LastFetch == nil {
		return true
	}
	interval := s.FetchInterval
	if interval <= 0 {
		interval = DefaultFetchInterval
	}
	return now.Sub(*s.LastFetch) >= interval
}

// SourceStats はデータソース全体の集計値。
type SourceStats struct {
	Total        int64            `json:"total"`
	Active       int64            `json:"active"`
	ByKind       map[string]int64 `json:"by_kind"`
	FetchCount   int64            `json:"fetch_count"`
	SuccessCount int64            `json:"success_count"`
	ErrorCount   int64            `json:"error_count"`
}

// SourceConfig はソースごとの取得設定（自由形式のJSONオブジェクト）。
// 未知のキーもそのまま保持する。
type SourceConfig map[string]any

// 既知の設定キー
const (
	ConfigTitleSelector   = "title_selector"
	ConfigContentSelector = "content_selector"
	ConfigListMode        = "list_mode"
	ConfigLinkSelector    = "link_selector"
	ConfigMaxLinks        = "max_links"
	ConfigUseAgent        = "use_agent"
	ConfigAgentQuery      = "agent_query"
	ConfigRespectRobots   = "respect_robots"
	ConfigDelaySeconds    = "delay_seconds"
)

// String は文字列設定値を返す。未設定または型不一致の場合は空文字列。
func (c SourceConfig) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Bool は真偽値設定値を返す。文字列の "true"/"1" も真として扱う。
func (c SourceConfig) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return def
}

// Int は整数設定値を返す。JSON由来のfloat64も受け付ける。
func (c SourceConfig) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return i
	}
	return def
}

// Float は浮動小数点の設定値を返す。
func (c SourceConfig) Float(key string, def float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def
		}
		return f
	}
	return def
}
