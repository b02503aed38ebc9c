package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConsumer — uplink с носимых трекеров через брокер.
// Идентичность устройства гарантирует ACL брокера: устройство может писать
// только в свой топик agents/{agent_id}/location, поэтому agent_id из топика —
// доверенный, а agent_id из тела обязан с ним совпадать.
type MQTTConsumer struct {
	client   mqtt.Client
	pipeline SampleSubmitter
	cfg      infra.MQTTConfig
	engCfg   infra.EngineConfig
	metrics  *Metrics
	logger   *zap.Logger
}

func NewMQTTConsumer(cfg infra.MQTTConfig, engCfg infra.EngineConfig, pipeline SampleSubmitter, metrics *Metrics, logger *zap.Logger) *MQTTConsumer {
	c := &MQTTConsumer{
		pipeline: pipeline,
		cfg:      cfg,
		engCfg:   engCfg,
		metrics:  metrics,
		logger:   logger.Named("mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	// После реконнекта подписка теряется (clean session) — восстанавливаем сами
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if token := client.Subscribe(cfg.Topic, byte(cfg.QoS), c.handleMessage); token.Wait() && token.Error() != nil {
			c.logger.Error("resubscribe failed", zap.String("topic", cfg.Topic), zap.Error(token.Error()))
			return
		}
		c.logger.Info("mqtt subscribed", zap.String("topic", cfg.Topic))
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost, reconnecting", zap.Error(err))
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Start подключается к брокеру; подписка происходит в OnConnect.
func (c *MQTTConsumer) Start() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

func (c *MQTTConsumer) Stop() {
	if c.client.IsConnected() {
		if token := c.client.Unsubscribe(c.cfg.Topic); token.Wait() && token.Error() != nil {
			c.logger.Error("mqtt unsubscribe failed", zap.Error(token.Error()))
		}
		c.client.Disconnect(250)
	}
	c.logger.Info("mqtt consumer stopped")
}

func (c *MQTTConsumer) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	c.metrics.SamplesTotal.WithLabelValues("mqtt").Inc()

	// 1. Достаем agent_id из топика: agents/{agent_id}/location
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 3 {
		c.metrics.SamplesRejected.WithLabelValues("malformed").Inc()
		c.logger.Warn("invalid topic format", zap.String("topic", msg.Topic()))
		return
	}
	topicAgent := parts[1]

	// 2. Разбираем тело
	var s domain.LocationSample
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		c.metrics.SamplesRejected.WithLabelValues("malformed").Inc()
		c.logger.Warn("failed to unmarshal sample",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}
	s.ReceivedAt = time.Now().UTC()

	// 3. Кросс-чек идентичности: тело не может говорить за другого агента
	if s.AgentID != topicAgent {
		c.metrics.SamplesRejected.WithLabelValues("identity").Inc()
		c.logger.Warn("agent identity mismatch",
			zap.String("topic_agent", topicAgent),
			zap.String("claimed_agent", s.AgentID))
		return
	}

	// 4. Та же валидация, что и на HTTP-входе
	if err := s.Validate(s.ReceivedAt, c.engCfg.MaxSampleAge, c.engCfg.MaxFutureSkew); err != nil {
		c.metrics.SamplesRejected.WithLabelValues("validation").Inc()
		c.logger.Debug("sample rejected",
			zap.String("agent_id", s.AgentID),
			zap.Error(err))
		return
	}

	// 5. В конвейер. QoS 1 — при таймауте брокер передоставит,
	// дедупликация по sample_id погасит дубль
	ctx, cancel := context.WithTimeout(context.Background(), c.engCfg.SubmitTimeout)
	defer cancel()
	if err := c.pipeline.Submit(ctx, &s); err != nil {
		c.logger.Warn("pipeline submit failed",
			zap.String("agent_id", s.AgentID),
			zap.Error(err))
	}
}
