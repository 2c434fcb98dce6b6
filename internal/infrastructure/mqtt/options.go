package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
)

const (
	connectTimeout   = 10 * time.Second
	publishTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second
	keepAlive        = 60 * time.Second

	// disconnectQuiesceMillis lets in-flight publishes (the offline status)
	// finish before the socket closes.
	disconnectQuiesceMillis = 1000

	maxQoS = 2

	// willQoS is fixed at 1 so the broker always delivers the offline will.
	willQoS = 1

	generatedClientIDPrefix = "neasmartd-"
)

// resolveClientID returns the configured client id, or a generated one
// when the configuration leaves it empty.
func resolveClientID(configured string) string {
	if configured != "" {
		return configured
	}
	return generatedClientIDPrefix + uuid.NewString()[:8]
}

// buildClientOptions maps the gateway config onto paho options: broker URL
// (ssl:// when TLS is on), credentials, clean session, auto-reconnect with
// backoff, and the offline will on the status topic.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay)*time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay)*time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(Topics{}.SystemStatus(), string(willPayload(clientID, time.Now())), willQoS, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// statusMessage is the retained body of neasmart/system/status.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, reason, clientID string, at time.Time) []byte {
	// A struct of strings always marshals.
	b, _ := json.Marshal(statusMessage{ //nolint:errchkjson // see above
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return b
}

func onlinePayload(clientID string, at time.Time) []byte {
	return statusPayload("online", "", clientID, at)
}

func offlinePayload(clientID string, at time.Time) []byte {
	return statusPayload("offline", "graceful_shutdown", clientID, at)
}

func willPayload(clientID string, at time.Time) []byte {
	return statusPayload("offline", "unexpected_disconnect", clientID, at)
}
