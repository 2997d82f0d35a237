package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/genai-rag/internal/logger"
	"go.uber.org/zap"
)

// EventTurnAppended 对话新增一轮后发布的事件类型
const EventTurnAppended = "TurnAppended"

// ErrProducerClosed 生产者关闭后继续发送时返回
var ErrProducerClosed = errors.New("kafka producer closed")

// Producer Kafka生产者，Close 会等待进行中的发送结束
type Producer struct {
	producer sarama.SyncProducer
	topic    string

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// TurnEvent 对话轮次事件
type TurnEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Source         string    `json:"source"`
	Human          string    `json:"human"`
	AI             string    `json:"ai"`
	TurnCount      int       `json:"turn_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewProducer 连接broker并创建同步生产者
func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewProducerWithClient(producer, topic), nil
}

// NewProducerWithClient 包装已有的sarama生产者
func NewProducerWithClient(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic}
}

// PublishTurn 发送轮次事件，以对话ID为分区键保证同一对话内有序
func (p *Producer) PublishTurn(event *TurnEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrProducerClosed
	}
	p.inflight.Add(1)
	p.mu.RUnlock()
	defer p.inflight.Done()

	if event.Type == "" {
		event.Type = EventTurnAppended
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.ConversationID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}

	logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("conversation_id", event.ConversationID))
	return nil
}

// Close 拒绝新的发送，等待进行中的发送完成后关闭生产者，可重复调用
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.inflight.Wait()
	return p.producer.Close()
}
