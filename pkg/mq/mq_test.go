package mq

import (
	"context"
	"net"
	"testing"

	"netfuzz/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type noChannel struct{}

func (noChannel) GetChannel() *amqp.Channel { return nil }

func TestDisabledWithoutURL(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	r := NewRabbitMQ(RabbitMQParams{Config: config.Default(), Logger: zaptest.NewLogger(t), Lifecycle: lc})
	assert.Nil(t, r)
}

func TestNoChannel(t *testing.T) {
	require.ErrorIs(t, DeclareQueue(noChannel{}, CrashQueueName), ErrNoChannel)
	require.ErrorIs(t, PublishJSON(context.Background(), noChannel{}, CrashQueueName, map[string]string{"id": "1"}), ErrNoChannel)
}

func TestPublishMarshalError(t *testing.T) {
	err := PublishJSON(context.Background(), noChannel{}, CrashQueueName, func() {})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoChannel)
}

func unreachableBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "amqp://guest:guest@" + addr + "/"
}

func TestUnreachableBroker(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := newRabbitMQ(unreachableBroker(t), zap.New(core))

	assert.Nil(t, r.GetChannel())
	assert.Equal(t, 1, logs.FilterMessage("failed to connect to rabbitmq").Len())
	require.ErrorIs(t, DeclareQueue(r, CrashQueueName), ErrNoChannel)
	assert.NoError(t, r.close())
}

func TestStartFailsWithoutBroker(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Default()
	cfg.RabbitMQURL = unreachableBroker(t)
	r := NewRabbitMQ(RabbitMQParams{Config: cfg, Logger: zaptest.NewLogger(t), Lifecycle: lc})
	require.NotNil(t, r)
	assert.Error(t, lc.Start(context.Background()))
}
