package api

import (
	"context"
	"io"

	"goldlens/internal/config"
	"goldlens/internal/handler"
	"goldlens/internal/logger"
	"goldlens/internal/service"
	"goldlens/pkg/model"
)

// Service 服务接口
type Service interface {
	// Start 启动后台金价刷新
	Start(ctx context.Context)

	// Close 释放全部资源
	Close() error

	// Events 订阅运行事件
	Events() <-chan model.Event

	// Annotate 对单个 HTML 文档执行一次标注
	Annotate(ctx context.Context, url string, r io.Reader, w io.Writer) (handler.Outcome, error)

	// OpenPage 打开页面会话
	OpenPage(ctx context.Context, url string, r io.Reader) (model.SessionID, error)

	// PageHTML 获取会话页面当前内容
	PageHTML(id model.SessionID) (string, error)

	// NavigatePage 修改会话页面 URL
	NavigatePage(id model.SessionID, url string) error

	// ClosePage 关闭页面会话
	ClosePage(id model.SessionID) error

	// CurrentRate 获取当前金价
	CurrentRate(ctx context.Context) (*model.ExchangeRate, error)

	// RefreshRate 强制刷新金价
	RefreshRate(ctx context.Context) (*model.ExchangeRate, error)

	// RateHistory 获取金价历史
	RateHistory(ctx context.Context, limit int) ([]model.ExchangeRate, error)

	// Settings 读取设置
	Settings(ctx context.Context) (model.Settings, error)

	// SetEnabled 开关转换
	SetEnabled(ctx context.Context, enabled bool) error

	// SetDisplayFormat 修改显示格式
	SetDisplayFormat(ctx context.Context, f model.DisplayFormat) error

	// SetExclusions 整体替换排除列表
	SetExclusions(ctx context.Context, rules []string) ([]string, error)

	// AddExclusion 添加排除规则
	AddExclusion(ctx context.Context, pattern string) ([]string, error)

	// RemoveExclusion 删除排除规则
	RemoveExclusion(ctx context.Context, pattern string) ([]string, bool, error)

	// ListTargets 列出浏览器页面
	ListTargets(ctx context.Context) ([]model.TargetInfo, error)

	// AttachTarget 附加浏览器页面
	AttachTarget(ctx context.Context, id model.TargetID) (model.TargetID, error)

	// DetachTarget 断开浏览器页面
	DetachTarget(id model.TargetID) error
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	s, err := service.New(cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
