package sshagent

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent"
)

// Beckhoff UDP discovery service. Devices listen on port 48899 and answer
// identify broadcasts with a block-structured reply carrying their host name
// and AMS net id.
const (
	discoveryPort = 48899

	cmdIdentify uint32 = 1
	cmdAddRoute uint32 = 6

	// Reply blocks are little-endian {tag uint16, length uint16, value}.
	tagPassword  uint16 = 2
	tagHostname  uint16 = 5
	tagNetID     uint16 = 7
	tagRouteName uint16 = 12
	tagUserName  uint16 = 13
)

var discoveryMagic = []byte{0x03, 0x66, 0x14, 0x71}

// amsPort is the system service port encoded into every request.
const amsPort uint16 = 10000

func requestHeader(cmd uint32) []byte {
	buf := make([]byte, 0, 24)
	buf = append(buf, discoveryMagic...)
	buf = append(buf, 0, 0, 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, cmd)
	buf = append(buf, 0, 0, 0, 0)
	// Source AMS net id: loopback placeholder; devices answer the UDP peer.
	buf = append(buf, 1, 1, 1, 1, 1, 1)
	buf = binary.LittleEndian.AppendUint16(buf, amsPort)
	return buf
}

func appendBlock(buf []byte, tag uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, tag)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// parseReply extracts the tagged blocks of a discovery reply. Unknown tags
// are skipped so firmware additions do not break the sweep.
func parseReply(pkt []byte) (map[uint16][]byte, error) {
	const headerLen = 24 // magic + pad + cmd + pad + netid + port
	if len(pkt) < headerLen+4 || !bytes.Equal(pkt[:4], discoveryMagic) {
		return nil, errors.New("not a discovery reply")
	}
	blocks := make(map[uint16][]byte)
	count := binary.LittleEndian.Uint32(pkt[headerLen : headerLen+4])
	p := pkt[headerLen+4:]
	for i := uint32(0); i < count && len(p) >= 4; i++ {
		tag := binary.LittleEndian.Uint16(p[0:2])
		size := int(binary.LittleEndian.Uint16(p[2:4]))
		p = p[4:]
		if size > len(p) {
			break
		}
		blocks[tag] = p[:size]
		p = p[size:]
	}
	return blocks, nil
}

func trimCString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (a *SSHAgent) broadcastTarget() string {
	if a.cfg.BroadcastAddr != "" {
		return a.cfg.BroadcastAddr
	}
	return fmt.Sprintf("255.255.255.255:%d", a.cfg.DiscoveryPort)
}

// Discover broadcasts one identify request and collects replies until the
// discovery timeout or ctx expires, whichever is first.
func (a *SSHAgent) Discover(ctx context.Context) ([]agent.Endpoint, error) {
	raddr, err := net.ResolveUDPAddr("udp4", a.broadcastTarget())
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening discovery socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(requestHeader(cmdIdentify), raddr); err != nil {
		return nil, fmt.Errorf("sending identify broadcast: %w", err)
	}

	deadline := time.Now().Add(a.cfg.DiscoveryTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	var endpoints []agent.Endpoint
	seen := make(map[string]struct{})
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				break
			}
			return endpoints, fmt.Errorf("reading discovery replies: %w", err)
		}

		blocks, err := parseReply(buf[:n])
		if err != nil {
			continue
		}
		name := trimCString(blocks[tagHostname])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		endpoints = append(endpoints, agent.Endpoint{Name: name, Address: from.IP.String()})
	}

	a.log.Debug().Int("devices", len(endpoints)).Msg("discovery sweep finished")
	return endpoints, nil
}

// RegisterRoute sends an add-route request with the pass-through credentials
// and waits for the device's acknowledgement.
func (a *SSHAgent) RegisterRoute(ctx context.Context, address string, cred agent.Credential) error {
	name, err := routeName()
	if err != nil {
		return err
	}

	localIP, err := localAddressFor(address)
	if err != nil {
		return err
	}

	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, fmt.Sprint(a.cfg.DiscoveryPort)))
	if err != nil {
		return fmt.Errorf("resolving device address: %w", err)
	}

	pkt := requestHeader(cmdAddRoute)
	pkt = binary.LittleEndian.AppendUint32(pkt, 4) // block count
	pkt = appendBlock(pkt, tagRouteName, append([]byte(name), 0))
	pkt = appendBlock(pkt, tagUserName, append([]byte(cred.User), 0))
	pkt = appendBlock(pkt, tagPassword, append([]byte(cred.Password), 0))
	pkt = appendBlock(pkt, tagHostname, append([]byte(localIP), 0))

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("opening route socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(pkt, raddr); err != nil {
		return fmt.Errorf("sending route request: %w", err)
	}

	deadline := time.Now().Add(a.cfg.DiscoveryTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return fmt.Errorf("no acknowledgement from %s: %w", address, err)
	}
	if _, err := parseReply(buf[:n]); err != nil {
		return fmt.Errorf("unexpected reply from %s: %w", address, err)
	}

	a.log.Info().Str("device", address).Str("route", name).Msg("route registered")
	return nil
}

// localAddressFor returns the local IP a packet to the device would leave
// from, which is the address the route must point back to.
func localAddressFor(device string) (string, error) {
	conn, err := net.Dial("udp4", net.JoinHostPort(device, fmt.Sprint(discoveryPort)))
	if err != nil {
		// Fall back to the hostname; TcBSD resolves engineering hosts via DNS.
		if name, herr := os.Hostname(); herr == nil {
			return name, nil
		}
		return "", fmt.Errorf("determining local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
