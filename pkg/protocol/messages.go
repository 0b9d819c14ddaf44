package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType 消息类型
type MessageType int32

const (
	MessageTypeUnspecified MessageType = iota
	MessageTypeHostRequest
	MessageTypeJoinRequest
	MessageTypeJoinResponse
	MessageTypeReconnectRequest
	MessageTypeStartSession
	MessageTypeSessionStart
	MessageTypeLandmarkState
	MessageTypeRelaySnapshot
	MessageTypePlayerLeave
	MessageTypePing
	MessageTypePong
)

var messageTypeNames = map[MessageType]string{
	MessageTypeUnspecified:      "UNSPECIFIED",
	MessageTypeHostRequest:      "HOST_REQUEST",
	MessageTypeJoinRequest:      "JOIN_REQUEST",
	MessageTypeJoinResponse:     "JOIN_RESPONSE",
	MessageTypeReconnectRequest: "RECONNECT_REQUEST",
	MessageTypeStartSession:     "START_SESSION",
	MessageTypeSessionStart:     "SESSION_START",
	MessageTypeLandmarkState:    "LANDMARK_STATE",
	MessageTypeRelaySnapshot:    "RELAY_SNAPSHOT",
	MessageTypePlayerLeave:      "PLAYER_LEAVE",
	MessageTypePing:             "PING",
	MessageTypePong:             "PONG",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Packet 消息信封
type Packet struct {
	Type    MessageType
	Payload []byte
}

func (p *Packet) Marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, int32(p.Type))
	if len(p.Payload) > 0 {
		b = appendMessage(b, 2, p.Payload)
	}
	return b
}

func (p *Packet) Unmarshal(b []byte) error {
	*p = Packet{}
	return rangeFields(b, fieldTypes{1: protowire.VarintType, 2: protowire.BytesType}, func(f field) error {
		switch f.num {
		case 1:
			p.Type = MessageType(f.int32())
		case 2:
			p.Payload = append([]byte(nil), f.message()...)
		}
		return nil
	})
}

// ========== 会话管理 ==========

// HostRequest 创建分配（房主）
type HostRequest struct {
	PlayerName     string
	MaxConnections int32
}

func (m *HostRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.PlayerName)
	b = appendInt32(b, 2, m.MaxConnections)
	return b
}

func (m *HostRequest) Unmarshal(b []byte) error {
	*m = HostRequest{}
	return rangeFields(b, fieldTypes{1: protowire.BytesType, 2: protowire.VarintType}, func(f field) error {
		switch f.num {
		case 1:
			m.PlayerName = f.string()
		case 2:
			m.MaxConnections = f.int32()
		}
		return nil
	})
}

// JoinRequest 通过加入码加入分配
type JoinRequest struct {
	PlayerName string
	JoinCode   string
}

func (m *JoinRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.PlayerName)
	b = appendString(b, 2, m.JoinCode)
	return b
}

func (m *JoinRequest) Unmarshal(b []byte) error {
	*m = JoinRequest{}
	return rangeFields(b, fieldTypes{1: protowire.BytesType, 2: protowire.BytesType}, func(f field) error {
		switch f.num {
		case 1:
			m.PlayerName = f.string()
		case 2:
			m.JoinCode = f.string()
		}
		return nil
	})
}

// JoinResponse 创建/加入/重连的统一响应
type JoinResponse struct {
	Success        bool
	ClientID       int32
	JoinCode       string
	AllocationID   string
	SessionToken   string
	ErrorMessage   string
	MaxConnections int32
}

func (m *JoinResponse) Marshal() []byte {
	var b []byte
	b = appendBool(b, 1, m.Success)
	b = appendInt32(b, 2, m.ClientID)
	b = appendString(b, 3, m.JoinCode)
	b = appendString(b, 4, m.AllocationID)
	b = appendString(b, 5, m.SessionToken)
	b = appendString(b, 6, m.ErrorMessage)
	b = appendInt32(b, 7, m.MaxConnections)
	return b
}

func (m *JoinResponse) Unmarshal(b []byte) error {
	*m = JoinResponse{}
	schema := fieldTypes{
		1: protowire.VarintType,
		2: protowire.VarintType,
		3: protowire.BytesType,
		4: protowire.BytesType,
		5: protowire.BytesType,
		6: protowire.BytesType,
		7: protowire.VarintType,
	}
	return rangeFields(b, schema, func(f field) error {
		switch f.num {
		case 1:
			m.Success = f.bool()
		case 2:
			m.ClientID = f.int32()
		case 3:
			m.JoinCode = f.string()
		case 4:
			m.AllocationID = f.string()
		case 5:
			m.SessionToken = f.string()
		case 6:
			m.ErrorMessage = f.string()
		case 7:
			m.MaxConnections = f.int32()
		}
		return nil
	})
}

// ReconnectRequest 断线重连
type ReconnectRequest struct {
	SessionToken string
}

func (m *ReconnectRequest) Marshal() []byte {
	return appendString(nil, 1, m.SessionToken)
}

func (m *ReconnectRequest) Unmarshal(b []byte) error {
	*m = ReconnectRequest{}
	return rangeFields(b, fieldTypes{1: protowire.BytesType}, func(f field) error {
		m.SessionToken = f.string()
		return nil
	})
}

// SessionStart 会话开始广播
type SessionStart struct {
	Tick       int32
	ServerTime int64
}

func (m *SessionStart) Marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, m.Tick)
	b = appendInt64(b, 2, m.ServerTime)
	return b
}

func (m *SessionStart) Unmarshal(b []byte) error {
	*m = SessionStart{}
	return rangeFields(b, fieldTypes{1: protowire.VarintType, 2: protowire.VarintType}, func(f field) error {
		switch f.num {
		case 1:
			m.Tick = f.int32()
		case 2:
			m.ServerTime = f.int64()
		}
		return nil
	})
}

// PlayerLeave 客户端离开
type PlayerLeave struct {
	ClientID int32
}

func (m *PlayerLeave) Marshal() []byte {
	return appendInt32(nil, 1, m.ClientID)
}

func (m *PlayerLeave) Unmarshal(b []byte) error {
	*m = PlayerLeave{}
	return rangeFields(b, fieldTypes{1: protowire.VarintType}, func(f field) error {
		m.ClientID = f.int32()
		return nil
	})
}

// ========== 关键点同步 ==========

// Landmark 单个关键点的世界坐标与缩放
type Landmark struct {
	ID    int32
	X     float64
	Y     float64
	Z     float64
	Scale float64
}

func (m *Landmark) Marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, m.ID)
	b = appendDouble(b, 2, m.X)
	b = appendDouble(b, 3, m.Y)
	b = appendDouble(b, 4, m.Z)
	b = appendDouble(b, 5, m.Scale)
	return b
}

func (m *Landmark) Unmarshal(b []byte) error {
	*m = Landmark{}
	schema := fieldTypes{
		1: protowire.VarintType,
		2: protowire.Fixed64Type,
		3: protowire.Fixed64Type,
		4: protowire.Fixed64Type,
		5: protowire.Fixed64Type,
	}
	return rangeFields(b, schema, func(f field) error {
		switch f.num {
		case 1:
			m.ID = f.int32()
		case 2:
			m.X = f.double()
		case 3:
			m.Y = f.double()
		case 4:
			m.Z = f.double()
		case 5:
			m.Scale = f.double()
		}
		return nil
	})
}

// LandmarkState 一个客户端拥有的全部关键点
type LandmarkState struct {
	ClientID  int32
	Seq       int32
	Landmarks []*Landmark
}

func (m *LandmarkState) Marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, m.ClientID)
	b = appendInt32(b, 2, m.Seq)
	for _, lm := range m.Landmarks {
		b = appendMessage(b, 3, lm.Marshal())
	}
	return b
}

func (m *LandmarkState) Unmarshal(b []byte) error {
	*m = LandmarkState{}
	schema := fieldTypes{1: protowire.VarintType, 2: protowire.VarintType, 3: protowire.BytesType}
	return rangeFields(b, schema, func(f field) error {
		switch f.num {
		case 1:
			m.ClientID = f.int32()
		case 2:
			m.Seq = f.int32()
		case 3:
			lm := &Landmark{}
			if err := lm.Unmarshal(f.message()); err != nil {
				return err
			}
			m.Landmarks = append(m.Landmarks, lm)
		}
		return nil
	})
}

// RelaySnapshot 服务器按 tick 广播的状态
type RelaySnapshot struct {
	Tick       int32
	ServerTime int64
	WallZ      float64
	States     []*LandmarkState
}

func (m *RelaySnapshot) Marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, m.Tick)
	b = appendInt64(b, 2, m.ServerTime)
	b = appendDouble(b, 3, m.WallZ)
	for _, st := range m.States {
		b = appendMessage(b, 4, st.Marshal())
	}
	return b
}

func (m *RelaySnapshot) Unmarshal(b []byte) error {
	*m = RelaySnapshot{}
	schema := fieldTypes{
		1: protowire.VarintType,
		2: protowire.VarintType,
		3: protowire.Fixed64Type,
		4: protowire.BytesType,
	}
	return rangeFields(b, schema, func(f field) error {
		switch f.num {
		case 1:
			m.Tick = f.int32()
		case 2:
			m.ServerTime = f.int64()
		case 3:
			m.WallZ = f.double()
		case 4:
			st := &LandmarkState{}
			if err := st.Unmarshal(f.message()); err != nil {
				return err
			}
			m.States = append(m.States, st)
		}
		return nil
	})
}

// ========== 心跳 ==========

// Ping 心跳请求
type Ping struct {
	ClientTime int64
}

func (m *Ping) Marshal() []byte {
	return appendInt64(nil, 1, m.ClientTime)
}

func (m *Ping) Unmarshal(b []byte) error {
	*m = Ping{}
	return rangeFields(b, fieldTypes{1: protowire.VarintType}, func(f field) error {
		m.ClientTime = f.int64()
		return nil
	})
}

// Pong 心跳响应
type Pong struct {
	ClientTime int64
	ServerTime int64
}

func (m *Pong) Marshal() []byte {
	var b []byte
	b = appendInt64(b, 1, m.ClientTime)
	b = appendInt64(b, 2, m.ServerTime)
	return b
}

func (m *Pong) Unmarshal(b []byte) error {
	*m = Pong{}
	return rangeFields(b, fieldTypes{1: protowire.VarintType, 2: protowire.VarintType}, func(f field) error {
		switch f.num {
		case 1:
			m.ClientTime = f.int64()
		case 2:
			m.ServerTime = f.int64()
		}
		return nil
	})
}
