// Package storage 提供持久化状态存储。
// 底层是一个不透明的 key-value 存储（Store 接口），上层通过 StateStore
// 以带类型的字段读写会话状态、过滤器、撤销队列、统计与历史记录。
package storage

import "sync"

// Store 不透明的持久化 key-value 存储。
// 所有实现都必须可并发使用。
type Store interface {
	// Get 读取 key 对应的值，第二个返回值表示 key 是否存在。
	Get(key string) ([]byte, bool, error)
	// Set 写入 key 对应的值。
	Set(key string, value []byte) error
	// Delete 删除 key，key 不存在时不报错。
	Delete(key string) error
	// Close 释放底层资源。
	Close() error
}

// Memory 纯内存实现，用于测试。
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory 创建内存存储。
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }
