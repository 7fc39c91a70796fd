// Package plugin 中间件插件的契约与注册表。插件清单在启动时显式给出。
package plugin

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"protorelay/server/pipeline"
)

var ErrDuplicatePlugin = errors.New("duplicate plugin id")

// Info 插件元数据
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	Author      string `json:"author"`
}

// Plugin 一组可独立组合的处理器
type Plugin interface {
	Info() Info
	Register(p *pipeline.Pipeline) error
}

// Registry 保存插件清单并在启动时统一注册
type Registry struct {
	plugins    []Plugin
	ids        map[string]struct{}
	registered []Info
	log        *zap.SugaredLogger
}

func NewRegistry(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{ids: make(map[string]struct{}), log: log}
}

// Add 加入清单；id 重复时返回 ErrDuplicatePlugin
func (r *Registry) Add(plugins ...Plugin) error {
	for _, pl := range plugins {
		info := pl.Info()
		if info.ID == "" {
			return fmt.Errorf("plugin %q: empty id", info.Name)
		}
		if _, dup := r.ids[info.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePlugin, info.ID)
		}
		r.ids[info.ID] = struct{}{}
		r.plugins = append(r.plugins, pl)
	}
	return nil
}

// RegisterAll 按清单顺序注册；任一插件失败即中止并返回错误（调用方应终止启动）
func (r *Registry) RegisterAll(p *pipeline.Pipeline) error {
	for _, pl := range r.plugins {
		info := pl.Info()
		if err := pl.Register(p); err != nil {
			return fmt.Errorf("register plugin %s: %w", info.ID, err)
		}
		r.registered = append(r.registered, info)
		r.log.Infow("plugin registered", "id", info.ID, "name", info.Name, "version", info.Version, "author", info.Author)
	}
	return nil
}

// List 已成功注册的插件
func (r *Registry) List() []Info {
	return append([]Info(nil), r.registered...)
}
