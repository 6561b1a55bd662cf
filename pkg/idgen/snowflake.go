// Package idgen 提供 Snowflake 分布式 ID 生成器，用于表单草稿等记录的主键
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// Epoch 起始时间戳 (2024-01-01 00:00:00 UTC，毫秒)
	Epoch int64 = 1704067200000

	// 位数分配
	WorkerIDBits     = 5
	DatacenterIDBits = 5
	SequenceBits     = 12

	MaxWorkerID     = -1 ^ (-1 << WorkerIDBits)     // 31
	MaxDatacenterID = -1 ^ (-1 << DatacenterIDBits) // 31
	MaxSequence     = -1 ^ (-1 << SequenceBits)     // 4095

	WorkerIDShift     = SequenceBits
	DatacenterIDShift = SequenceBits + WorkerIDBits
	TimestampShift    = SequenceBits + WorkerIDBits + DatacenterIDBits

	// 等待下一毫秒时的休眠时间
	sleepDuration = 100 * time.Microsecond
)

var (
	// ErrInvalidWorkerID 工作机器ID超出有效范围
	ErrInvalidWorkerID = errors.New("invalid worker id: must be between 0 and 31")

	// ErrInvalidDatacenterID 数据中心ID超出有效范围
	ErrInvalidDatacenterID = errors.New("invalid datacenter id: must be between 0 and 31")

	// ErrClockMovedBackwards 检测到时钟回拨
	ErrClockMovedBackwards = errors.New("clock moved backwards: refusing to generate id")
)

// Generator ID 生成器接口
type Generator interface {
	NextID() (int64, error)
}

// Snowflake Snowflake 算法的 ID 生成器，并发安全
type Snowflake struct {
	mu sync.Mutex

	lastTimestamp int64
	sequence      int64

	// 预计算的 datacenterID 与 workerID 部分
	precomputed int64

	now func() int64
}

// NewSnowflake 创建生成器
//
//	datacenterID: 数据中心ID，取值范围 [0, 31]
//	workerID: 工作机器ID，取值范围 [0, 31]
func NewSnowflake(datacenterID, workerID int64) (*Snowflake, error) {
	if datacenterID < 0 || datacenterID > MaxDatacenterID {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDatacenterID, datacenterID)
	}
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkerID, workerID)
	}

	return &Snowflake{
		lastTimestamp: -1,
		precomputed:   (datacenterID << DatacenterIDShift) | (workerID << WorkerIDShift),
		now:           func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID 生成下一个唯一ID
// 单个实例每毫秒最多生成 4096 个 ID，序列号耗尽时等待下一毫秒
func (s *Snowflake) NextID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timestamp := s.now()
	if timestamp < s.lastTimestamp {
		return 0, fmt.Errorf("%w: %dms", ErrClockMovedBackwards, s.lastTimestamp-timestamp)
	}

	if timestamp == s.lastTimestamp {
		s.sequence = (s.sequence + 1) & MaxSequence
		if s.sequence == 0 {
			for timestamp <= s.lastTimestamp {
				time.Sleep(sleepDuration)
				timestamp = s.now()
			}
		}
	} else {
		s.sequence = 0
	}

	s.lastTimestamp = timestamp
	return ((timestamp - Epoch) << TimestampShift) | s.precomputed | s.sequence, nil
}

// Parse 解析 ID，返回生成时间、数据中心ID、工作机器ID和序列号
func Parse(id int64) (ts time.Time, datacenterID, workerID, sequence int64) {
	ts = time.UnixMilli((id >> TimestampShift) + Epoch)
	datacenterID = (id >> DatacenterIDShift) & MaxDatacenterID
	workerID = (id >> WorkerIDShift) & MaxWorkerID
	sequence = id & MaxSequence
	return
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Default 获取默认生成器（数据中心 0，机器 0）
func Default() *Snowflake {
	once.Do(func() {
		defaultGenerator, _ = NewSnowflake(0, 0)
	})
	return defaultGenerator
}

// NextID 使用默认生成器生成 ID
func NextID() (int64, error) {
	return Default().NextID()
}
