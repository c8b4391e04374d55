// Package settings 以单个 JSON 文档持久化用户设置，并在修改后发布通知。
package settings

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"

	"goldlens/internal/exclusion"
	"goldlens/internal/logger"
	"goldlens/internal/storage"
	"goldlens/pkg/model"
)

const docKey = "settings"

var ErrInvalidFormat = errors.New("settings: unknown display format")

// Setting 键值表中的一行
type Setting struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// Publisher 通知发布方
type Publisher interface {
	Publish(model.Notification)
}

// Store 设置存储
type Store struct {
	mu  sync.Mutex
	db  *gorm.DB
	pub Publisher
	log logger.Logger
}

// NewStore 创建存储并迁移表结构，pub 可为 nil
func NewStore(db *gorm.DB, pub Publisher, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if err := db.AutoMigrate(&Setting{}); err != nil {
		return nil, errors.Wrap(err, "migrate settings")
	}
	return &Store{db: db, pub: pub, log: l}, nil
}

// Load 读取设置，缺省字段取默认值
func (s *Store) Load(ctx context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	return decode(doc), nil
}

// SetEnabled 修改开关并发布 toggle-conversion
func (s *Store) SetEnabled(ctx context.Context, enabled bool) error {
	if err := s.update(ctx, "enabled", enabled); err != nil {
		return err
	}
	s.log.Info("转换开关已更新", "enabled", enabled)
	s.publish(model.Notification{Type: model.NotifyToggleConversion, Enabled: enabled})
	return nil
}

// SetDisplayFormat 修改显示格式并发布 display-format-updated
func (s *Store) SetDisplayFormat(ctx context.Context, f model.DisplayFormat) error {
	if f != model.DisplayMetric && f != model.DisplayTroy {
		return errors.Wrapf(ErrInvalidFormat, "%q", f)
	}
	if err := s.update(ctx, "displayFormat", string(f)); err != nil {
		return err
	}
	s.publish(model.Notification{Type: model.NotifyDisplayFormatUpdated, Format: f})
	return nil
}

// SetExclusions 整体替换排除列表，任一规则无效则不做修改
func (s *Store) SetExclusions(ctx context.Context, rules []string) ([]string, error) {
	clean, _, err := s.editExclusions(ctx, func([]string) ([]string, bool) { return rules, true })
	return clean, err
}

// AddExclusion 追加一条排除规则
func (s *Store) AddExclusion(ctx context.Context, pattern string) ([]string, error) {
	clean, _, err := s.editExclusions(ctx, func(cur []string) ([]string, bool) {
		return append(cur, pattern), true
	})
	return clean, err
}

// RemoveExclusion 删除一条排除规则，返回是否存在
func (s *Store) RemoveExclusion(ctx context.Context, pattern string) ([]string, bool, error) {
	pattern = strings.TrimSpace(pattern)
	return s.editExclusions(ctx, func(cur []string) ([]string, bool) {
		kept := make([]string, 0, len(cur))
		found := false
		for _, r := range cur {
			if r == pattern {
				found = true
				continue
			}
			kept = append(kept, r)
		}
		return kept, found
	})
}

// editExclusions 在同一次加锁内读取、修改并写回排除列表；fn 返回 false 时不写入
func (s *Store) editExclusions(ctx context.Context, fn func(cur []string) ([]string, bool)) ([]string, bool, error) {
	var (
		clean   []string
		changed bool
	)
	err := s.updateFn(ctx, func(doc string) (string, error) {
		cur := decode(doc).ExcludedURLs
		next, ok := fn(cur)
		if !ok {
			clean = cur
			return "", nil
		}
		var err error
		if clean, err = normalize(next); err != nil {
			return "", err
		}
		changed = true
		doc, err = sjson.Set(doc, "excludedUrls", clean)
		return doc, errors.Wrap(err, "set excludedUrls")
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.log.Info("排除列表已更新", "count", len(clean))
		s.publish(model.Notification{Type: model.NotifyExclusionsUpdated, Rules: clean})
	}
	return clean, changed, nil
}

func (s *Store) publish(n model.Notification) {
	if s.pub != nil {
		s.pub.Publish(n)
	}
}

func (s *Store) update(ctx context.Context, path string, value any) error {
	return s.updateFn(ctx, func(doc string) (string, error) {
		doc, err := sjson.Set(doc, path, value)
		return doc, errors.Wrapf(err, "set %s", path)
	})
}

// updateFn 持锁执行读-改-写；fn 返回空文档时跳过写入
func (s *Store) updateFn(ctx context.Context, fn func(doc string) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(ctx)
	if err != nil {
		return err
	}
	doc, err = fn(doc)
	if err != nil || doc == "" {
		return err
	}
	row := Setting{Key: docKey, Value: doc}
	if err := s.db.WithContext(storage.WithOp(ctx, "settings.save")).Save(&row).Error; err != nil {
		return errors.Wrap(err, "save settings")
	}
	return nil
}

func (s *Store) read(ctx context.Context) (string, error) {
	var row Setting
	err := s.db.WithContext(storage.WithOp(ctx, "settings.load")).Where(&Setting{Key: docKey}).Limit(1).Find(&row).Error
	if err != nil {
		return "", errors.Wrap(err, "load settings")
	}
	if row.Value == "" {
		return "{}", nil
	}
	return row.Value, nil
}

func decode(doc string) model.Settings {
	out := model.DefaultSettings()
	if v := gjson.Get(doc, "enabled"); v.Exists() {
		out.State.Enabled = v.Bool()
	}
	if v := gjson.Get(doc, "displayFormat"); v.Exists() {
		out.State.DisplayFormat = model.ParseDisplayFormat(v.String())
	}
	gjson.Get(doc, "excludedUrls").ForEach(func(_, v gjson.Result) bool {
		if p := strings.TrimSpace(v.String()); p != "" {
			out.ExcludedURLs = append(out.ExcludedURLs, p)
		}
		return true
	})
	return out
}

// normalize 去空白、去重并校验语法，保持原有顺序
func normalize(rules []string) ([]string, error) {
	out := make([]string, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		if err := exclusion.Validate(r); err != nil {
			return nil, err
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}
