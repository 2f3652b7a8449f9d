package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	MetricsStream = "METRICS_STREAM"
	AlertsStream  = "ALERTS_STREAM"

	SubjectMetricsRaw     = "metrics.raw"
	SubjectMetricsUpdated = "metrics.updated"
	SubjectPredictive     = "metrics.predictive"
	subjectAlertsPrefix   = "alerts."

	// MaxDeliver 单条消息最多投递次数，批量消息中失败子集的重发次数同样受此限制
	MaxDeliver = 5
)

// NATSClient NATS JetStream客户端
type NATSClient struct {
	conn      *nats.Conn
	jetStream jetstream.JetStream
	natsURL   string
	ctx       context.Context
	cancel    context.CancelFunc
	consumers map[string]jetstream.MessagesContext
	mu        sync.RWMutex
	wg        sync.WaitGroup
	log       *zap.Logger
}

// MessageHandler 消息处理函数，返回错误时消息被 Nak 重新投递
type MessageHandler func(ctx context.Context, data []byte) error

// NewNATSClient 创建新的NATS客户端
func NewNATSClient(natsURL, clientName string, log *zap.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(clientName),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // 无限重连
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS连接断开", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS重新连接成功", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建JetStream失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &NATSClient{
		conn:      nc,
		jetStream: js,
		natsURL:   natsURL,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]jetstream.MessagesContext),
		log:       log,
	}

	if err := client.setupStreams(); err != nil {
		log.Warn("设置Streams失败", zap.Error(err))
	}
	return client, nil
}

// setupStreams 设置指标与告警的Streams
func (c *NATSClient) setupStreams() error {
	streams := []jetstream.StreamConfig{
		{
			Name:        MetricsStream,
			Subjects:    []string{"metrics.*"},
			Description: "资产指标数据流",
			Retention:   jetstream.LimitsPolicy,
			MaxMsgs:     1000000,
			MaxBytes:    512 * 1024 * 1024, // 512MB
			MaxAge:      24 * time.Hour,
		},
		{
			Name:        AlertsStream,
			Subjects:    []string{"alerts.*"},
			Description: "告警事件数据流",
			Retention:   jetstream.LimitsPolicy,
			MaxMsgs:     50000,
			MaxBytes:    50 * 1024 * 1024,   // 50MB
			MaxAge:      7 * 24 * time.Hour, // 保留7天
		},
	}

	var errs []error
	for _, streamConfig := range streams {
		if _, err := c.jetStream.CreateOrUpdateStream(c.ctx, streamConfig); err != nil {
			errs = append(errs, fmt.Errorf("创建/更新Stream %s 失败: %w", streamConfig.Name, err))
			continue
		}
		c.log.Info("Stream 设置成功", zap.String("stream", streamConfig.Name))
	}
	return errors.Join(errs...)
}

// Publish 发布消息到指定主题并等待 JetStream 确认
func (c *NATSClient) Publish(ctx context.Context, subject string, data any) error {
	var payload []byte
	var err error

	switch v := data.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("序列化数据失败: %w", err)
		}
	}

	if _, err := c.jetStream.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("发布消息到 %s 失败: %w", subject, err)
	}
	c.log.Debug("发布消息", zap.String("subject", subject), zap.Int("bytes", len(payload)))
	return nil
}

// Subscribe 以持久消费者订阅主题
func (c *NATSClient) Subscribe(streamName, consumerName, filterSubject string, handler MessageHandler) error {
	consumerConfig := jetstream.ConsumerConfig{
		Durable:       consumerName,
		Description:   fmt.Sprintf("%s 消费者", consumerName),
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxDeliver:    MaxDeliver,
	}

	consumer, err := c.jetStream.CreateOrUpdateConsumer(c.ctx, streamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("创建消费者 %s 失败: %w", consumerName, err)
	}

	iter, err := consumer.Messages(jetstream.PullMaxMessages(10))
	if err != nil {
		return fmt.Errorf("获取 %s 消息迭代器失败: %w", consumerName, err)
	}

	c.mu.Lock()
	c.consumers[consumerName] = iter
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consumeMessages(iter, consumerName, handler)

	c.log.Info("已订阅",
		zap.String("subject", filterSubject),
		zap.String("stream", streamName),
		zap.String("consumer", consumerName))
	return nil
}

// consumeMessages 消费消息直到迭代器停止
func (c *NATSClient) consumeMessages(iter jetstream.MessagesContext, consumerName string, handler MessageHandler) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("消费者异常退出", zap.String("consumer", consumerName), zap.Any("panic", r))
		}
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || c.ctx.Err() != nil {
				c.log.Info("消费者收到停止信号", zap.String("consumer", consumerName))
				return
			}
			c.log.Warn("获取消息失败", zap.String("consumer", consumerName), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		if err := handler(c.ctx, msg.Data()); err != nil {
			c.log.Warn("处理消息失败，等待重新投递",
				zap.String("consumer", consumerName), zap.String("subject", msg.Subject()), zap.Error(err))
			_ = msg.Nak()
			continue
		}
		_ = msg.Ack()
	}
}

// IsConnected 检查连接状态
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Ping 健康检查
func (c *NATSClient) Ping(context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("NATS未连接: %s", c.natsURL)
	}
	return nil
}

// Close 停止消费者并关闭连接
func (c *NATSClient) Close() error {
	c.cancel()

	c.mu.Lock()
	for name, iter := range c.consumers {
		iter.Stop()
		delete(c.consumers, name)
	}
	c.mu.Unlock()
	c.wg.Wait()

	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
	}
	c.log.Info("NATS连接已关闭")
	return nil
}
