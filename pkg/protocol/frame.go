package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPacketSize 单个数据包上限，足够容纳四个客户端的完整快照
const MaxPacketSize = 16 * 1024

// 快照编码后每部分的最大字节数（含字段标签与长度前缀）
const (
	maxLandmarkBytes = 50
	maxStateBytes    = 32
	maxSnapshotBytes = 64
)

// SnapshotSizeBound clients 个客户端各上报 landmarks 个关键点时快照数据包的大小上限
func SnapshotSizeBound(clients, landmarks int) int {
	return maxSnapshotBytes + clients*(maxStateBytes+landmarks*maxLandmarkBytes)
}

var (
	ErrPacketTooLarge = errors.New("消息过大")
	ErrEmptyPacket    = errors.New("空消息")
)

// WriteFrame 写入 4 字节大端长度前缀和数据体
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxPacketSize {
		return fmt.Errorf("%w (%d bytes)", ErrPacketTooLarge, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFrame 读取一个长度前缀消息
// 空消息返回 ErrEmptyPacket，调用方可以继续读取
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxPacketSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrPacketTooLarge, length)
	}
	if length == 0 {
		return nil, ErrEmptyPacket
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WritePacket 编码并写入一个 Packet
func WritePacket(w io.Writer, pkt *Packet) error {
	return WriteFrame(w, MarshalPacket(pkt))
}

// ReadPacket 读取并解码一个 Packet
func ReadPacket(r io.Reader) (*Packet, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalPacket(data)
}
