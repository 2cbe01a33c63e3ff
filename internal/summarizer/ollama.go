// Package summarizer はリモートの言語モデル（Ollama）による要約取得を提供する。
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	// MaxPromptRunes はプロンプトに埋め込む本文の最大文字数。
	MaxPromptRunes = 2000
	// MaxSummaryRunes は要約の最大文字数。
	MaxSummaryRunes = 200
)

// Summary はモデルから得た要約とキーワード、固有表現。
type Summary struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Entities []string `json:"entities"`
}

// Fallback はモデルが利用できない場合の簡易要約を返す。
// 本文の先頭MaxSummaryRunes文字に "..." を付けたもので、キーワードと固有表現は空。
func Fallback(content string) *Summary {
	return &Summary{
		Summary:  Truncate(content, MaxSummaryRunes) + "...",
		Keywords: []string{},
		Entities: []string{},
	}
}

// Truncate はsを先頭n文字（rune単位）に切り詰める。
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// generateRequest はOllamaの /api/generate へのリクエスト。
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

// generateResponse は /api/generate のレスポンスのうち利用するフィールド。
type generateResponse struct {
	Response string `json:"response"`
}

// OllamaClient はOllama互換APIのクライアント。
type OllamaClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	model      string
}

// NewOllamaClient はOllamaClientの新しいインスタンスを生成する。
// タイムアウトはhttpClient側で設定する。
func NewOllamaClient(httpClient *http.Client, baseURL, model string, logger *slog.Logger) *OllamaClient {
	return &OllamaClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

// Summarize は本文の要約を取得する。queryが空でなければqueryに関連する情報を抽出させる。
// モデルの応答がJSONとして解釈できない場合は応答テキストの先頭を要約として扱う。
// 呼び出しや応答自体の失敗はエラーとして返し、代替要約の判断は呼び出し元に任せる。
func (c *OllamaClient) Summarize(ctx context.Context, content, query string) (*Summary, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(content, query),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("要約APIの呼び出しに失敗しました",
			slog.String("model", c.model),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("要約APIがエラーステータスを返しました",
			slog.String("model", c.model),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("要約APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var gen generateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	text := strings.TrimSpace(gen.Response)
	if text == "" {
		return nil, fmt.Errorf("要約APIの応答が空です")
	}

	return parseSummary(text), nil
}

// parseSummary はモデルの応答テキストを解釈する。
func parseSummary(text string) *Summary {
	var s Summary
	if err := json.Unmarshal([]byte(text), &s); err == nil && strings.TrimSpace(s.Summary) != "" {
		s.Summary = Truncate(strings.TrimSpace(s.Summary), MaxSummaryRunes)
		if s.Keywords == nil {
			s.Keywords = []string{}
		}
		if s.Entities == nil {
			s.Entities = []string{}
		}
		return &s
	}

	return &Summary{
		Summary:  Truncate(text, MaxSummaryRunes),
		Keywords: []string{},
		Entities: []string{},
	}
}

func buildPrompt(content, query string) string {
	body := Truncate(content, MaxPromptRunes)

	var b strings.Builder
	if query != "" {
		fmt.Fprintf(&b, "Extract the key information related to %q from the following article.\n\n", query)
	} else {
		b.WriteString("Summarize the following article and extract its keywords.\n\n")
	}
	b.WriteString("Article:\n")
	b.WriteString(body)
	b.WriteString("\n\nAnswer in the article's language as a JSON object with the fields ")
	b.WriteString(`"summary" (at most 200 characters), "keywords" (array of strings) and "entities" (array of strings).`)
	return b.String()
}
