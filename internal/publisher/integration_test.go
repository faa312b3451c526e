//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"acc_linker/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func testLink() domain.Link {
	return domain.Link{
		ID:           7,
		UpstreamKind: "Matrix",
		ChatID:       "!room:example.org",
		UserID:       "@alice:example.org",
		AdapterKind:  domain.LinuxOrgRu,
		LinkedUserID: "alice",
		Verified:     true,
	}
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishLinkEvent() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-link",
		RoutingKey: "test-routing-key-link",
		QueueName:  "test-queue-link",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, domain.NewLinkEvent(domain.EventLinkVerified, testLink()))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal(string(domain.EventLinkVerified), msg.Type)
	s.NotEmpty(msg.MessageId)
	s.Equal("application/json", msg.ContentType)

	var received EventMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal(domain.EventLinkVerified, received.Event.Type)
	s.True(received.Event.Link.SameAs(testLink()))
	s.True(received.Event.Link.Verified)
	s.True(received.Event.ItemTimestamp.IsZero())
	s.False(received.Timestamp.IsZero())
}

type stubItem struct {
	ts time.Time
}

func (i stubItem) Timestamp() time.Time { return i.ts }
func (i stubItem) Text() string         { return "hello" }
func (i stubItem) Summary() string      { return "**hello**" }
func (i stubItem) HTML() string         { return "<b>hello</b>" }

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishItemEvent() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-item",
		RoutingKey: "test-routing-key-item",
		QueueName:  "test-queue-item",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err = pub.Publish(s.ctx, domain.NewItemEvent(testLink(), stubItem{ts: ts}))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received EventMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal(domain.EventItemRelayed, received.Event.Type)
	s.True(ts.Equal(received.Event.ItemTimestamp))
	s.Equal("**hello**", received.Event.ItemSummary)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessagePersistence() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-persist",
		RoutingKey: "test-routing-key-persist",
		QueueName:  "test-queue-persist",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, domain.NewLinkEvent(domain.EventLinkRemoved, testLink()))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}