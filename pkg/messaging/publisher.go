package messaging

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"AssetRadar/pkg/model"
)

const (
	publishTimeout = 3 * time.Second
	queueSize      = 1024
)

// Publisher 消息发布
type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
}

// SubjectFor 事件对应的主题：alerts.<action> 或 metrics.updated
func SubjectFor(event model.Event) string {
	if event.Type == model.EventAlert {
		return subjectAlertsPrefix + event.Action
	}
	return SubjectMetricsUpdated
}

// EventPublisher 将事件异步转发到 NATS，连续失败时熔断
type EventPublisher struct {
	pub   Publisher
	cb    *gobreaker.CircuitBreaker
	queue chan model.Event
	log   *zap.Logger
}

// NewEventPublisher 创建事件转发器，需调用 Run 启动
func NewEventPublisher(pub Publisher, log *zap.Logger) *EventPublisher {
	settings := gobreaker.Settings{
		Name:        "nats-publish",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("熔断器状态变更",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &EventPublisher{
		pub:   pub,
		cb:    gobreaker.NewCircuitBreaker(settings),
		queue: make(chan model.Event, queueSize),
		log:   log,
	}
}

// Notify 入队，队列满时丢弃
func (p *EventPublisher) Notify(_ context.Context, event model.Event) {
	select {
	case p.queue <- event:
	default:
		p.log.Warn("事件发布队列已满，丢弃事件", zap.String("subject", SubjectFor(event)))
	}
}

// Run 发布队列中的事件直到 ctx 结束
func (p *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.queue:
			if err := p.publish(ctx, event); err != nil {
				p.log.Debug("事件发布失败", zap.String("subject", SubjectFor(event)), zap.Error(err))
			}
		}
	}
}

func (p *EventPublisher) publish(ctx context.Context, event model.Event) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		return nil, p.pub.Publish(ctx, SubjectFor(event), event)
	})
	return err
}

// State 熔断器状态
func (p *EventPublisher) State() gobreaker.State {
	return p.cb.State()
}
