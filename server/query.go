package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"protorelay/server/session"
)

const (
	maxIconBytes = 10 << 20
	iconSize     = 64
)

var (
	ErrIconTooLarge = errors.New("server icon exceeds 10 MB")
	ErrIconSize     = errors.New("server icon must be 64x64")
)

// ServerInfo /query 的响应体；Icon 为 base64 编码的 PNG，没有图标时为 false
type ServerInfo struct {
	Name              string   `json:"Name"`
	Version           string   `json:"Version"`
	Icon              any      `json:"Icon"`
	Description       string   `json:"Description"`
	OnlinePlayers     int      `json:"OnlinePlayers"`
	Rooms             int      `json:"Rooms"`
	MaxPlayers        int      `json:"MaxPlayers"`
	Modded            bool     `json:"Modded"`
	CountryCode       string   `json:"CountryCode"`
	SupportedVersions []string `json:"SupportedVersions"`
}

// LoadIcon 读取并校验服务器图标，返回 base64 文本
func LoadIcon(path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if st.Size() > maxIconBytes {
		return "", ErrIconTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode icon: %w", err)
	}
	if cfg.Width != iconSize || cfg.Height != iconSize {
		return "", fmt.Errorf("%w, got %dx%d", ErrIconSize, cfg.Width, cfg.Height)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Query 服务器信息查询；图标在启动时加载一次
type Query struct {
	hub  *Hub
	info ServerInfo
	log  *zap.SugaredLogger
}

func NewQuery(hub *Hub, info ServerInfo, iconFile string, log *zap.SugaredLogger) *Query {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	info.Icon = false
	if iconFile != "" {
		icon, err := LoadIcon(iconFile)
		if err != nil {
			log.Warnw("server icon disabled", "file", iconFile, "err", err)
		} else {
			info.Icon = icon
		}
	}
	if info.SupportedVersions == nil {
		info.SupportedVersions = []string{}
	}
	return &Query{hub: hub, info: info, log: log}
}

// Info 当前信息（包含实时人数）
func (q *Query) Info(ctx context.Context) (ServerInfo, error) {
	info := q.info
	err := q.hub.Exec(ctx, func(st *session.State) {
		info.OnlinePlayers = st.TotalPlayerCount()
		info.Rooms = st.RoomCount()
	})
	return info, err
}

// HandleQuery GET /query
func (q *Query) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	info, err := q.Info(ctx)
	if err != nil {
		q.log.Warnw("query failed", "err", err)
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
