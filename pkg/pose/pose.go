package pose

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformedFrame 姿态消息格式错误
var ErrMalformedFrame = errors.New("姿态消息格式错误")

// Landmark 单个关键点（归一化屏幕坐标，可能超出 [0,1]）
type Landmark struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Frame 一帧姿态数据，ID 区分姿态来源（哪个玩家）
type Frame struct {
	ID        int        `json:"id"`
	Landmarks []Landmark `json:"landmarks"`
}

// wireLandmark 解码用结构，指针字段用于检测缺失
type wireLandmark struct {
	ID *int     `json:"id"`
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
}

type wireFrame struct {
	ID        *int            `json:"id"`
	Landmarks *[]wireLandmark `json:"landmarks"`
}

// Decode 将原始字节解析为 Frame
// 缺失字段、类型错误、非 UTF-8 文本均返回 ErrMalformedFrame
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: 空消息", ErrMalformedFrame)
	}
	if !utf8.Valid(data) {
		return Frame{}, fmt.Errorf("%w: 非 UTF-8 文本", ErrMalformedFrame)
	}

	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if w.ID == nil {
		return Frame{}, fmt.Errorf("%w: 缺少 id", ErrMalformedFrame)
	}
	if w.Landmarks == nil {
		return Frame{}, fmt.Errorf("%w: 缺少 landmarks", ErrMalformedFrame)
	}

	frame := Frame{
		ID:        *w.ID,
		Landmarks: make([]Landmark, 0, len(*w.Landmarks)),
	}
	for i, lm := range *w.Landmarks {
		if lm.ID == nil || lm.X == nil || lm.Y == nil {
			return Frame{}, fmt.Errorf("%w: 第 %d 个关键点字段不完整", ErrMalformedFrame, i)
		}
		frame.Landmarks = append(frame.Landmarks, Landmark{ID: *lm.ID, X: *lm.X, Y: *lm.Y})
	}
	return frame, nil
}

// Encode 将 Frame 编码为 JSON（与 Decode 互逆）
func Encode(frame Frame) ([]byte, error) {
	if frame.Landmarks == nil {
		frame.Landmarks = []Landmark{}
	}
	return json.Marshal(frame)
}

// Snippet 截取消息前 n 个字符，用于日志
func Snippet(data []byte, n int) string {
	s := []rune(string(data))
	if len(s) <= n {
		return string(s)
	}
	return string(s[:n]) + "..."
}
