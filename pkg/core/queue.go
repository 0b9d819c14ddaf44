package core

import (
	"sync"

	"posesync/pkg/pose"
)

// FrameQueue 线程安全的姿态帧 FIFO 队列
// 网络接收协程入队，逐帧更新循环出队
type FrameQueue struct {
	mu       sync.Mutex
	frames   []pose.Frame
	head     int
	capacity int // 0 表示不限制
	dropped  uint64
}

// NewFrameQueue 创建队列，capacity 为 0 时不限长度
// capacity > 0 时队列满则丢弃最旧的帧
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &FrameQueue{capacity: capacity}
}

// Enqueue 追加到队尾
func (q *FrameQueue) Enqueue(frame pose.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.frames)-q.head >= q.capacity {
		q.frames[q.head] = pose.Frame{}
		q.head++
		q.dropped++
		q.compact()
	}
	q.frames = append(q.frames, frame)
}

// compact 把未消费的帧移到底层数组开头
func (q *FrameQueue) compact() {
	if q.head == 0 {
		return
	}
	n := copy(q.frames, q.frames[q.head:])
	clear(q.frames[n:])
	q.frames = q.frames[:n]
	q.head = 0
}

// TryDequeue 取出最旧的一帧，队列为空时返回 false
func (q *FrameQueue) TryDequeue() (pose.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.frames) {
		return pose.Frame{}, false
	}

	frame := q.frames[q.head]
	q.frames[q.head] = pose.Frame{}
	q.head++

	// 已消费部分过半时整理底层数组
	if q.head == len(q.frames) {
		q.frames = q.frames[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.frames) {
		q.compact()
	}

	return frame, true
}

// Len 当前积压帧数
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames) - q.head
}

// Dropped 因容量限制丢弃的帧数
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
