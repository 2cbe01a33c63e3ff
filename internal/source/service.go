// Package source はデータソースの登録・参照と取得統計の更新を提供する。
package source

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/repository"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// URLValidator はデータソースURLの検証を行う。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// CreateParams はデータソース作成時の入力。
type CreateParams struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Kind        model.SourceKind   `yaml:"kind"`
	URL         string             `yaml:"url"`
	Config      model.SourceConfig `yaml:"config"`
	Inactive    bool               `yaml:"inactive"`

	// FetchInterval が0の場合はIntervalSeconds、それも0なら既定値を使う
	FetchInterval   time.Duration `yaml:"-"`
	IntervalSeconds int           `yaml:"fetch_interval_seconds"`
}

func (p CreateParams) interval() time.Duration {
	if p.FetchInterval > 0 {
		return p.FetchInterval
	}
	if p.IntervalSeconds > 0 {
		return time.Duration(p.IntervalSeconds) * time.Second
	}
	return model.DefaultFetchInterval
}

type defaultsFile struct {
	Sources []CreateParams `yaml:"sources"`
}

// LoadDefaults は組み込みの既定データソース一覧を返す。
func LoadDefaults() ([]CreateParams, error) {
	var f defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &f); err != nil {
		return nil, fmt.Errorf("既定データソースの読み込みに失敗しました: %w", err)
	}
	return f.Sources, nil
}

// Service はデータソースの登録・参照を行うサービス層。
type Service struct {
	store     repository.Store
	validator URLValidator
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store, validator URLValidator, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		validator: validator,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Create はデータソースを登録する。
// URLが登録済みの場合はmodel.ErrDuplicateSourceURLを返す。
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Source, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.URL = strings.TrimSpace(p.URL)

	if p.Name == "" {
		return nil, fmt.Errorf("データソース名が空です")
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedKind, p.Kind)
	}
	if err := s.validator.ValidateURL(p.URL); err != nil {
		return nil, fmt.Errorf("データソースURLが不正です: %w", err)
	}

	existing, err := s.store.Sources().FindByURL(ctx, p.URL)
	if err != nil {
		return nil, fmt.Errorf("データソースの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.ErrDuplicateSourceURL
	}

	now := s.now().UTC()
	src := &model.Source{
		ID:            s.newID(),
		Name:          p.Name,
		Description:   p.Description,
		Kind:          p.Kind,
		URL:           p.URL,
		Config:        p.Config,
		FetchInterval: p.interval(),
		IsActive:      !p.Inactive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Sources().Create(ctx, src); err != nil {
		return nil, err
	}

	s.logger.Info("データソースを登録しました",
		slog.String("source_id", src.ID),
		slog.String("source_kind", string(src.Kind)),
		slog.String("source_url", src.URL),
	)
	return src, nil
}

// Seed は組み込みの既定データソースのうち未登録のものを登録し、登録件数を返す。
// 何度実行しても同じ結果になる。
func (s *Service) Seed(ctx context.Context) (int, error) {
	defaults, err := LoadDefaults()
	if err != nil {
		return 0, err
	}

	created := 0
	for _, p := range defaults {
		_, err := s.Create(ctx, p)
		if errors.Is(err, model.ErrDuplicateSourceURL) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("既定データソース %q の登録に失敗しました: %w", p.Name, err)
		}
		created++
	}
	return created, nil
}

// Get は指定IDのデータソースを返す。存在しない場合はmodel.ErrSourceNotFoundを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Source, error) {
	src, err := s.store.Sources().FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("データソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return nil, model.ErrSourceNotFound
	}
	return src, nil
}

// List は全データソースを返す。
func (s *Service) List(ctx context.Context) ([]*model.Source, error) {
	return s.store.Sources().ListAll(ctx)
}

// SetActive はデータソースの有効・無効を切り替える。
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	src, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	src.IsActive = active
	src.UpdatedAt = s.now().UTC()
	return s.store.Sources().Update(ctx, src)
}

// Stats は全データソースの集計値を返す。
func (s *Service) Stats(ctx context.Context) (*model.SourceStats, error) {
	return s.store.Sources().Stats(ctx)
}
