package sshagent

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent"
)

// fakeDevice answers identify and add-route requests on a loopback UDP
// socket the way a TcBSD controller's system service does.
type fakeDevice struct {
	conn *net.UDPConn
	name string

	addRoute chan []byte
}

func newFakeDevice(t *testing.T, name string) *fakeDevice {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	d := &fakeDevice{conn: conn, name: name, addRoute: make(chan []byte, 1)}
	go d.serve()
	return d
}

func (d *fakeDevice) port() int {
	return d.conn.LocalAddr().(*net.UDPAddr).Port
}

func (d *fakeDevice) serve() {
	buf := make([]byte, 2048)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < 16 {
			continue
		}
		cmd := binary.LittleEndian.Uint32(buf[8:12])

		switch cmd {
		case cmdIdentify:
			reply := requestHeader(cmdIdentify)
			reply = binary.LittleEndian.AppendUint32(reply, 1)
			reply = appendBlock(reply, tagHostname, append([]byte(d.name), 0))
			_, _ = d.conn.WriteToUDP(reply, from)
		case cmdAddRoute:
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			select {
			case d.addRoute <- pkt:
			default:
			}
			reply := requestHeader(cmdAddRoute)
			reply = binary.LittleEndian.AppendUint32(reply, 0)
			_, _ = d.conn.WriteToUDP(reply, from)
		}
	}
}

func testAgent(t *testing.T, dev *fakeDevice) *SSHAgent {
	t.Helper()
	return New(Config{
		Password:         "1",
		DiscoveryTimeout: 500 * time.Millisecond,
		DiscoveryPort:    dev.port(),
		BroadcastAddr:    dev.conn.LocalAddr().String(),
	}, zerolog.Nop())
}

func TestDiscoverFindsDevice(t *testing.T) {
	dev := newFakeDevice(t, "CX-12AB34")
	a := testAgent(t, dev)

	endpoints, err := a.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, endpoints, 1)

	assert.Equal(t, "CX-12AB34", endpoints[0].Name)
	assert.Equal(t, "127.0.0.1", endpoints[0].Address)
}

func TestRegisterRouteSendsCredentials(t *testing.T) {
	dev := newFakeDevice(t, "CX-12AB34")
	a := testAgent(t, dev)

	err := a.RegisterRoute(context.Background(), "127.0.0.1", agent.Credential{User: "Administrator", Password: "1"})
	require.NoError(t, err)

	select {
	case pkt := <-dev.addRoute:
		blocks, err := parseReply(pkt)
		require.NoError(t, err)
		assert.Equal(t, "Administrator", trimCString(blocks[tagUserName]))
		assert.Equal(t, "1", trimCString(blocks[tagPassword]))
		assert.NotEmpty(t, trimCString(blocks[tagRouteName]))
	case <-time.After(time.Second):
		t.Fatal("device never received the add-route request")
	}
}

func TestParseReplyExtractsBlocks(t *testing.T) {
	pkt := requestHeader(cmdIdentify)
	pkt = binary.LittleEndian.AppendUint32(pkt, 2)
	pkt = appendBlock(pkt, tagHostname, []byte("plc-01\x00"))
	pkt = appendBlock(pkt, tagNetID, []byte{192, 168, 0, 1, 1, 1})

	blocks, err := parseReply(pkt)
	require.NoError(t, err)
	assert.Equal(t, "plc-01", trimCString(blocks[tagHostname]))
	assert.Len(t, blocks[tagNetID], 6)
}

func TestParseReplyRejectsGarbage(t *testing.T) {
	_, err := parseReply([]byte("definitely not a discovery packet"))
	assert.Error(t, err)

	_, err = parseReply([]byte{0x03, 0x66})
	assert.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	lines := splitLines("Run mode\r\n\nTwinCAT started\n")
	assert.Equal(t, []string{"Run mode", "TwinCAT started"}, lines)
}
