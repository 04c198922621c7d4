package mesh

import (
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient manages the broker connection used to publish run progress,
// summaries and maps.
type MQTTClient struct {
	client      mqtt.Client
	isConnected bool
	connected   chan struct{}
	stop        chan struct{}
	once        sync.Once
	stopOnce    sync.Once
	mu          sync.RWMutex
}

// InitMQTT creates a client from cfg and starts connecting in the
// background. Environment variables MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME and MQTT_PASSWORD override the config. When no broker is
// configured MQTT is disabled and InitMQTT returns nil, nil.
func InitMQTT(cfg MQTTConfig) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = cfg.Broker
	}
	if broker == "" {
		log.Println("[MQTT] Disabled: no broker configured")
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = cfg.ClientID
	}
	if clientID == "" {
		clientID = "seabedmesh"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = cfg.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = cfg.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true) // progress messages keep their order

	c := newMQTTClient(nil)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)
	c.client = mqtt.NewClient(opts)

	log.Printf("[MQTT] Connecting to %s as %s", broker, clientID)
	go c.connectWithRetry()
	return c, nil
}

func newMQTTClient(client mqtt.Client) *MQTTClient {
	return &MQTTClient{
		client:    client,
		connected: make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

// connectWithRetry attempts to connect to the broker with exponential
// backoff until it succeeds or the client is disconnected.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		select {
		case <-c.stop:
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
}

// onConnectionLost is typically transient; auto-reconnect will retry.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// WaitConnected blocks until the first successful connection or timeout.
func (c *MQTTClient) WaitConnected(timeout time.Duration) bool {
	select {
	case <-c.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
	if connected {
		c.once.Do(func() { close(c.connected) })
	}
}

// Disconnect stops reconnect attempts and closes the connection, giving
// in-flight publishes 250ms to complete.
func (c *MQTTClient) Disconnect() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}
