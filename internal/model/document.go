package model

import "time"

// Article はフェッチャーが返す正規化済みの記事。永続化前の一時的な値。
type Article struct {
	Title       string
	Content     string
	Summary     string
	Link        string
	PublishedAt *time.Time
	Published   string
	Author      string
	Tags        []string
	Metadata    map[string]any
}

// Document は永続化された記事。SourceURLが重複排除のキーとなる。
// IsProcessed/IsVectorizedは下流処理の所有で、取り込み処理は常にfalseで作成する。
type Document struct {
	ID           string
	Title        string
	Content      string
	Summary      string
	SourceType   string
	SourceURL    string
	SourceName   string
	Tags         []string
	Metadata     map[string]any
	IsProcessed  bool
	IsVectorized bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
