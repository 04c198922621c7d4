package mesh

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(MQTTConfig{})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

// InitMQTT connects in the background and must not block on an
// unreachable broker.
func TestInitMQTT_ReturnsImmediately(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://127.0.0.1:1")

	start := time.Now()
	client, err := InitMQTT(MQTTConfig{Broker: "tcp://ignored:1883"})
	duration := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Less(t, duration, 100*time.Millisecond)
	assert.False(t, client.IsConnected())
	client.Disconnect()
}

func TestMQTTClient_ConnectWithRetry(t *testing.T) {
	mock := NewMockClient()
	client := newMQTTClient(mock)

	go client.connectWithRetry()

	require.True(t, client.WaitConnected(time.Second))
	assert.True(t, client.IsConnected())
	assert.Equal(t, 1, mock.ConnectCalls())
	assert.Equal(t, mqtt.Client(mock), client.GetClient())
}

func TestMQTTClient_StopsRetryingOnDisconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnectError(errors.New("refused"))
	client := newMQTTClient(mock)

	done := make(chan struct{})
	go func() {
		client.connectWithRetry()
		close(done)
	}()
	client.Disconnect()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connectWithRetry kept running after Disconnect")
	}
	assert.False(t, client.WaitConnected(10*time.Millisecond))
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := newMQTTClient(nil)
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected())
	assert.True(t, client.WaitConnected(0))

	// A second connect after a drop must not panic on the closed channel.
	client.setConnected(false)
	client.setConnected(true)
	assert.True(t, client.IsConnected())
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	client := newMQTTClient(mock)
	client.setConnected(true)

	client.Disconnect()
	client.Disconnect()
	assert.False(t, client.IsConnected())
	assert.False(t, mock.IsConnected())
}

func TestMockClient_Publish(t *testing.T) {
	mock := NewMockClient()

	token := mock.Publish("a/b", 0, false, []byte("x"))
	assert.ErrorIs(t, token.Error(), mqtt.ErrNotConnected)

	require.NoError(t, mock.Connect().Error())
	require.NoError(t, mock.Publish("a/b", 1, true, "hello").Error())
	require.NoError(t, mock.Publish("a/c", 0, false, []byte("world")).Error())

	assert.Len(t, mock.Published(), 2)
	got := mock.PublishedTo("a/b")
	require.Len(t, got, 1)
	assert.Equal(t, PublishedMessage{Topic: "a/b", Payload: []byte("hello"), QoS: 1, Retain: true}, got[0])

	mock.SetPublishError(errors.New("broker full"))
	assert.EqualError(t, mock.Publish("a/b", 0, false, "x").Error(), "broker full")
}
