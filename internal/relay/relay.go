// Package relay embeds a TURN/STUN relay so calls between peers behind
// symmetric NAT still connect when no external relay is configured.
package relay

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/pion/turn/v3"
)

// Credentials authenticate media peers against the embedded relay.
type Credentials struct {
	Username string
	Password string
}

// ICEServer mirrors the RTCIceServer dictionary handed to the media layer.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Relay is a long-lived UDP TURN server bound for the lifetime of the app.
type Relay struct {
	server *turn.Server
	creds  Credentials
	port   int
	logger *slog.Logger
}

// Start binds the relay on the given UDP port. The relay address is the
// machine's public IP when it can be detected, the outbound local IP
// otherwise.
func Start(port int, realm string, creds Credentials, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	udpListener, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind relay port: %w", err)
	}

	relayIP := publicIP(logger)
	if relayIP == nil {
		relayIP = localIP(logger)
	}
	logger.Info("relay address selected", "ip", relayIP.String(), "port", port)

	server, err := turn.NewServer(turn.ServerConfig{
		Realm:       realm,
		AuthHandler: authHandler(creds, realm),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		udpListener.Close()
		return nil, fmt.Errorf("start relay: %w", err)
	}

	return &Relay{server: server, creds: creds, port: port, logger: logger}, nil
}

func (r *Relay) Close() error {
	if r.server != nil {
		return r.server.Close()
	}
	return nil
}

// ICEServers builds the ice-server list for a peer reaching this relay via
// the given host. The relay is UDP-only, so only turn: and stun: schemes are
// advertised.
func (r *Relay) ICEServers(host string) []ICEServer {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return []ICEServer{
		{URLs: []string{fmt.Sprintf("stun:%s:%d", host, r.port)}},
		{
			URLs:       []string{fmt.Sprintf("turn:%s:%d", host, r.port)},
			Username:   r.creds.Username,
			Credential: r.creds.Password,
		},
	}
}

func authHandler(creds Credentials, realm string) turn.AuthHandler {
	return func(username string, _ string, _ net.Addr) ([]byte, bool) {
		if username != creds.Username {
			return nil, false
		}
		return turn.GenerateAuthKey(username, realm, creds.Password), true
	}
}

func publicIP(logger *slog.Logger) net.IP {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("https://api.ipify.org")
	if err != nil {
		logger.Warn("public ip lookup failed", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn("public ip lookup failed", "status", resp.StatusCode)
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	return net.ParseIP(strings.TrimSpace(string(body)))
}

func localIP(logger *slog.Logger) net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		logger.Warn("local ip detection failed", "error", err)
		return net.ParseIP("127.0.0.1")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}
