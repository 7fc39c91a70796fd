package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ActionType 顶层协议消息类型（客户端 -> 服务端）
type ActionType string

const (
	ActionCreateRoom        ActionType = "createRoom"
	ActionJoinRoom          ActionType = "joinRoom"
	ActionRPC               ActionType = "rpc"
	ActionGetRoomList       ActionType = "getroomlist"
	ActionGetCurrentPlayers ActionType = "getcurrentplayers"
	ActionLeave             ActionType = "leave"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrEmptyAction   = errors.New("empty action")
)

// actionTypes 用于大小写不敏感的类型查找
var actionTypes = map[string]ActionType{
	strings.ToLower(string(ActionCreateRoom)):        ActionCreateRoom,
	strings.ToLower(string(ActionJoinRoom)):          ActionJoinRoom,
	strings.ToLower(string(ActionRPC)):               ActionRPC,
	strings.ToLower(string(ActionGetRoomList)):       ActionGetRoomList,
	strings.ToLower(string(ActionGetCurrentPlayers)): ActionGetCurrentPlayers,
	strings.ToLower(string(ActionLeave)):             ActionLeave,
}

// Action 封闭的顶层消息集合，只有本包内的类型实现
type Action interface {
	Type() ActionType
	isAction()
}

// CreateRoom 创建房间，发起者成为房主
type CreateRoom struct {
	RoomName    string `json:"roomName" jsonschema:"title=Room name,description=Display name shown in room lists"`
	Scene       string `json:"scene" jsonschema:"description=Scene identifier"`
	ScenePath   string `json:"scenepath" jsonschema:"description=Scene asset path"`
	GameVersion string `json:"gameversion" jsonschema:"description=Exact client version required to join"`
	MaxPlayers  int    `json:"maxplayers" jsonschema:"minimum=1,maximum=64"`
}

// JoinRoom 加入已有房间
type JoinRoom struct {
	RoomID      string `json:"roomId"`
	GameVersion string `json:"gameversion"`
}

// RPCAction 携带不透明 RPC 载荷（JSON 字符串），在房间内转发
type RPCAction struct {
	RPC    string `json:"rpc" jsonschema:"description=JSON encoded RPC object"`
	Sender string `json:"sender"`
	ID     string `json:"id"`
}

// GetRoomList 查询房间列表
type GetRoomList struct {
	Amount    int  `json:"amount,omitempty"`
	EmptyOnly bool `json:"emptyonly,omitempty"`
}

// GetCurrentPlayers 查询当前房间成员
type GetCurrentPlayers struct{}

// Leave 主动离开房间
type Leave struct{}

func (CreateRoom) Type() ActionType        { return ActionCreateRoom }
func (JoinRoom) Type() ActionType          { return ActionJoinRoom }
func (RPCAction) Type() ActionType         { return ActionRPC }
func (GetRoomList) Type() ActionType       { return ActionGetRoomList }
func (GetCurrentPlayers) Type() ActionType { return ActionGetCurrentPlayers }
func (Leave) Type() ActionType             { return ActionLeave }

func (CreateRoom) isAction()        {}
func (JoinRoom) isAction()          {}
func (RPCAction) isAction()         {}
func (GetRoomList) isAction()       {}
func (GetCurrentPlayers) isAction() {}
func (Leave) isAction()             {}

// UnmarshalJSON 兼容旧客户端使用的 "name" 字段
func (a *CreateRoom) UnmarshalJSON(b []byte) error {
	type wire CreateRoom
	var w struct {
		wire
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*a = CreateRoom(w.wire)
	if a.RoomName == "" {
		a.RoomName = w.Name
	}
	return nil
}

func (a CreateRoom) MarshalJSON() ([]byte, error) {
	type wire CreateRoom
	return json.Marshal(struct {
		Action ActionType `json:"action"`
		wire
	}{ActionCreateRoom, wire(a)})
}

func (a JoinRoom) MarshalJSON() ([]byte, error) {
	type wire JoinRoom
	return json.Marshal(struct {
		Action ActionType `json:"action"`
		wire
	}{ActionJoinRoom, wire(a)})
}

func (a RPCAction) MarshalJSON() ([]byte, error) {
	type wire RPCAction
	return json.Marshal(struct {
		Action ActionType `json:"action"`
		wire
	}{ActionRPC, wire(a)})
}

func (a GetRoomList) MarshalJSON() ([]byte, error) {
	type wire GetRoomList
	return json.Marshal(struct {
		Action ActionType `json:"action"`
		wire
	}{ActionGetRoomList, wire(a)})
}

func (GetCurrentPlayers) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Action ActionType `json:"action"`
	}{ActionGetCurrentPlayers})
}

func (Leave) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Action ActionType `json:"action"`
	}{ActionLeave})
}

// Parse 第二阶段解码：把 rpc 字符串解析为具体 RPC 类型
func (a RPCAction) Parse() (RPC, error) {
	return ParseRPC(a.RPC)
}

// WithRPCField 只替换 rpc 载荷中的一个字段，其余字段原样保留
func (a RPCAction) WithRPCField(key string, value any) (RPCAction, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(a.RPC), &fields); err != nil || fields == nil {
		return RPCAction{}, fmt.Errorf("%w: not an object", ErrMalformedRPC)
	}
	v, err := json.Marshal(value)
	if err != nil {
		return RPCAction{}, err
	}
	fields[key] = v
	b, err := json.Marshal(fields)
	if err != nil {
		return RPCAction{}, err
	}
	a.RPC = string(b)
	return a, nil
}

// DecodeAction 第一阶段解码：读取 action 字段后解码为具体类型
func DecodeAction(data []byte) (Action, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAction
	}
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	t, ok := actionTypes[strings.ToLower(probe.Action)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, probe.Action)
	}
	switch t {
	case ActionCreateRoom:
		return decodeAs[CreateRoom](data)
	case ActionJoinRoom:
		return decodeAs[JoinRoom](data)
	case ActionRPC:
		return decodeAs[RPCAction](data)
	case ActionGetRoomList:
		return decodeAs[GetRoomList](data)
	case ActionGetCurrentPlayers:
		return GetCurrentPlayers{}, nil
	default:
		return Leave{}, nil
	}
}

func decodeAs[T Action](data []byte) (Action, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", out.Type(), err)
	}
	return out, nil
}

// EncodeAction 序列化为带 action 字段的 JSON
func EncodeAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, ErrEmptyAction
	}
	return json.Marshal(a)
}
