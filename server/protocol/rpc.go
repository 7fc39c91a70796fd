package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RPCType 内嵌在 rpc 动作中的游戏语义类型
type RPCType string

const (
	RPCChatMessage   RPCType = "chatmessage"
	RPCPlayerInfo    RPCType = "playerinfo"
	RPCSetPlayerName RPCType = "setplayername"
	RPCSyncTransform RPCType = "SyncTransform"
	RPCSyncInfo      RPCType = "syncinfo"
	RPCCustomization RPCType = "customization"
	RPCCheats        RPCType = "cheats"
	RPCSwitchWeapon  RPCType = "switchweapon"
	RPCPlayerSpawn   RPCType = "playerspawn"
	RPCPlayerJoined  RPCType = "playerjoined"
	RPCNewHost       RPCType = "newhost"
)

var (
	ErrEmptyRPC = errors.New("empty rpc payload")
	// ErrMalformedRPC type 可识别，但字段类型与该 RPC 不符
	ErrMalformedRPC = errors.New("malformed rpc payload")
)

// RPC 封闭的 RPC 集合；未识别的类型以 UnknownRPC 原样保留
type RPC interface {
	RPCType() RPCType
	isRPC()
}

type ChatMessage struct {
	Message string `json:"message"`
}

// PlayerInfo 玩家状态（生命值、延迟、动作标记）
type PlayerInfo struct {
	Crouching       bool    `json:"crouching"`
	Sliding         bool    `json:"sliding"`
	WallRunning     bool    `json:"wallrunning"`
	Health          float64 `json:"health"`
	Latency         float64 `json:"latency"`
	Reloading       bool    `json:"reloading"`
	Aiming          bool    `json:"aiming"`
	SpawnProtection bool    `json:"spawnprotection"`
	HasWeapons      bool    `json:"hasweapons"`
}

type SetPlayerName struct {
	Name string `json:"name"`
}

// SyncTransform 物体位置/旋转/缩放同步
type SyncTransform struct {
	ObjectID string  `json:"id"`
	PosX     float64 `json:"posx"`
	PosY     float64 `json:"posy"`
	PosZ     float64 `json:"posz"`
	RotX     float64 `json:"rotx"`
	RotY     float64 `json:"roty"`
	RotZ     float64 `json:"rotz"`
	ScaleX   float64 `json:"scalex"`
	ScaleY   float64 `json:"scaley"`
	ScaleZ   float64 `json:"scalez"`
}

// SyncInfo 回合信息
type SyncInfo struct {
	Kills     int               `json:"k"`
	Deaths    int               `json:"d"`
	Team      int               `json:"team"`
	Lives     int               `json:"lives"`
	TeamScore []json.RawMessage `json:"teamscore"`
	RoundTime float64           `json:"roundtime"`
}

type Customization struct {
	BodyEmissionURL    string `json:"BodyEmissionUrl"`
	PartsEmissionURL   string `json:"PartsEmissionUrl"`
	ScreensEmissionURL string `json:"ScreensEmissionUrl"`
	BodyURL            string `json:"BodyUrl"`
	PartsURL           string `json:"PartsUrl"`
	ScreensURL         string `json:"ScreensUrl"`
}

type Cheats struct {
	Enabled bool `json:"enabled"`
}

type SwitchWeapon struct {
	Index int `json:"index"`
}

type PlayerSpawn struct{}

type PlayerJoined struct{}

// NewHost 房主迁移通知
type NewHost struct {
	NewHostID string `json:"newhostid"`
}

// UnknownRPC 服务端不解释的 RPC，原样转发
type UnknownRPC struct {
	Kind RPCType
	Raw  json.RawMessage
}

func (ChatMessage) RPCType() RPCType   { return RPCChatMessage }
func (PlayerInfo) RPCType() RPCType    { return RPCPlayerInfo }
func (SetPlayerName) RPCType() RPCType { return RPCSetPlayerName }
func (SyncTransform) RPCType() RPCType { return RPCSyncTransform }
func (SyncInfo) RPCType() RPCType      { return RPCSyncInfo }
func (Customization) RPCType() RPCType { return RPCCustomization }
func (Cheats) RPCType() RPCType        { return RPCCheats }
func (SwitchWeapon) RPCType() RPCType  { return RPCSwitchWeapon }
func (PlayerSpawn) RPCType() RPCType   { return RPCPlayerSpawn }
func (PlayerJoined) RPCType() RPCType  { return RPCPlayerJoined }
func (NewHost) RPCType() RPCType       { return RPCNewHost }
func (u UnknownRPC) RPCType() RPCType  { return u.Kind }

func (ChatMessage) isRPC()   {}
func (PlayerInfo) isRPC()    {}
func (SetPlayerName) isRPC() {}
func (SyncTransform) isRPC() {}
func (SyncInfo) isRPC()      {}
func (Customization) isRPC() {}
func (Cheats) isRPC()        {}
func (SwitchWeapon) isRPC()  {}
func (PlayerSpawn) isRPC()   {}
func (PlayerJoined) isRPC()  {}
func (NewHost) isRPC()       {}
func (UnknownRPC) isRPC()    {}

// ParseRPC 解析 rpc 字符串：先读 type，再解码到具体类型
func ParseRPC(payload string) (RPC, error) {
	if payload == "" {
		return nil, ErrEmptyRPC
	}
	data := []byte(payload)
	var probe struct {
		Type RPCType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse rpc: %w", err)
	}
	switch probe.Type {
	case RPCChatMessage:
		return parseAs[ChatMessage](data)
	case RPCPlayerInfo:
		return parseAs[PlayerInfo](data)
	case RPCSetPlayerName:
		return parseAs[SetPlayerName](data)
	case RPCSyncTransform:
		return parseAs[SyncTransform](data)
	case RPCSyncInfo:
		return parseAs[SyncInfo](data)
	case RPCCustomization:
		return parseAs[Customization](data)
	case RPCCheats:
		return parseAs[Cheats](data)
	case RPCSwitchWeapon:
		return parseAs[SwitchWeapon](data)
	case RPCPlayerSpawn:
		return PlayerSpawn{}, nil
	case RPCPlayerJoined:
		return PlayerJoined{}, nil
	case RPCNewHost:
		return parseAs[NewHost](data)
	default:
		return UnknownRPC{Kind: probe.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func parseAs[T RPC](data []byte) (RPC, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRPC, out.RPCType(), err)
	}
	return out, nil
}

// EncodeRPC 序列化为带 type 字段的 JSON 字符串
func EncodeRPC(r RPC) (string, error) {
	var (
		b   []byte
		err error
	)
	switch v := r.(type) {
	case nil:
		return "", ErrEmptyRPC
	case UnknownRPC:
		return string(v.Raw), nil
	case ChatMessage:
		type wire ChatMessage
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	case PlayerInfo:
		type wire PlayerInfo
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	case SetPlayerName:
		type wire SetPlayerName
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	case SyncTransform:
		type wire SyncTransform
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	case SyncInfo:
		type wire SyncInfo
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	case Customization:
		type wire Customization
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	case Cheats:
		type wire Cheats
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	case SwitchWeapon:
		type wire SwitchWeapon
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	case NewHost:
		type wire NewHost
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
			wire
		}{v.RPCType(), wire(v)})
	default:
		b, err = json.Marshal(struct {
			Type RPCType `json:"type"`
		}{r.RPCType()})
	}
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", r.RPCType(), err)
	}
	return string(b), nil
}
