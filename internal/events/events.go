package events

import (
	"context"
	"errors"
	"time"
)

// 事件类型
const (
	TypeDiscoveryCompleted = "discovery.completed"
	TypeDiscoveryFailed    = "discovery.failed"
	TypeEdgeInvalidated    = "edge.invalidated"
)

// Event 推送给实时消费者的消息
type Event struct {
	Type         string      `json:"type"`
	DataSourceID string      `json:"data_source_id,omitempty"`
	RunID        string      `json:"run_id,omitempty"`
	At           time.Time   `json:"at"`
	Data         interface{} `json:"data,omitempty"`
}

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop 丢弃所有事件
type Nop struct{}

// Publish 不做任何事
func (Nop) Publish(context.Context, Event) error { return nil }

// Multi 扇出到多个发布者
type Multi []Publisher

// Publish 全部发布，错误合并返回
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
