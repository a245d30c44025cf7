// Package sshagent implements the Device Agent for TcBSD controllers: file
// sync and restart over SSH, discovery and route registration over the
// Beckhoff UDP service.
package sshagent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent"
)

const (
	// DefaultBootDir is where TwinCAT/BSD expects the boot image.
	DefaultBootDir = "/usr/local/etc/TwinCAT/3.1/Boot"

	// staticRoutesFile lists the registered AMS routes on a TcBSD device.
	staticRoutesFile = "/usr/local/etc/TwinCAT/3.1/Target/StaticRoutes.xml"

	defaultUser        = "Administrator"
	defaultSSHPort     = 22
	defaultDialTimeout = 10 * time.Second
)

// Config holds transport settings shared by every device in a run.
type Config struct {
	User         string
	Password     string
	IdentityFile string
	Port         int
	DialTimeout  time.Duration
	// BootDir overrides the remote destination, mainly for tests.
	BootDir string
	// DiscoveryTimeout bounds the broadcast sweep and route registration.
	DiscoveryTimeout time.Duration
	// DiscoveryPort overrides the device UDP service port, for tests.
	DiscoveryPort int
	// BroadcastAddr overrides the discovery broadcast target, for tests.
	BroadcastAddr string
}

// SSHAgent is the production Device Agent.
type SSHAgent struct {
	cfg Config
	log zerolog.Logger
}

var _ agent.Agent = (*SSHAgent)(nil)

func New(cfg Config, log zerolog.Logger) *SSHAgent {
	if cfg.User == "" {
		cfg.User = defaultUser
	}
	if cfg.Port == 0 {
		cfg.Port = defaultSSHPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.BootDir == "" {
		cfg.BootDir = DefaultBootDir
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = 3 * time.Second
	}
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = discoveryPort
	}
	return &SSHAgent{cfg: cfg, log: log}
}

func (a *SSHAgent) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if a.cfg.IdentityFile != "" {
		key, err := os.ReadFile(a.cfg.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("reading identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing identity file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if a.cfg.Password != "" {
		auth = append(auth, ssh.Password(a.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no SSH credentials configured")
	}

	return &ssh.ClientConfig{
		User: a.cfg.User,
		Auth: auth,
		// Fleet devices are reimaged often enough that host keys churn.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         a.cfg.DialTimeout,
	}, nil
}

func (a *SSHAgent) dial(ctx context.Context, address string) (*ssh.Client, error) {
	cfg, err := a.clientConfig()
	if err != nil {
		return nil, err
	}

	hostport := net.JoinHostPort(address, strconv.Itoa(a.cfg.Port))

	d := net.Dialer{Timeout: a.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", hostport, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, hostport, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", hostport, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// output runs cmd on the device and returns its combined output. The
// connection is torn down if ctx expires mid-command.
func (a *SSHAgent) output(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	var buf bytes.Buffer
	sess.Stdout = &buf
	sess.Stderr = &buf

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		client.Close()
		return buf.String(), ctx.Err()
	case err := <-done:
		if err != nil {
			return buf.String(), fmt.Errorf("remote command failed: %w: %s", err, strings.TrimSpace(buf.String()))
		}
		return buf.String(), nil
	}
}

// SyncFiles uploads the source tree into the user's home directory and then
// stages it into the boot directory, repairing ownership and permissions
// where needed. Mirrors the operator's manual sequence: scp, doas mkdir,
// conditional chown/chmod, cp -R, cleanup.
func (a *SSHAgent) SyncFiles(ctx context.Context, address, sourceRoot string) error {
	info, err := os.Stat(sourceRoot)
	if err != nil {
		return fmt.Errorf("source folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source folder %s is not a directory", sourceRoot)
	}

	client, err := a.dial(ctx, address)
	if err != nil {
		return err
	}
	defer client.Close()

	stage := filepath.Base(sourceRoot)
	if err := a.uploadTree(ctx, client, sourceRoot, stage); err != nil {
		return fmt.Errorf("uploading %s: %w", stage, err)
	}

	bootDir := a.cfg.BootDir
	install := strings.Join([]string{
		fmt.Sprintf("if [ ! -d '%s' ]; then doas mkdir -p '%s'; fi", bootDir, bootDir),
		fmt.Sprintf("if [ \"$(stat -f '%%Su' '%s')\" != '%s' ]; then doas chown -R %s:wheel '%s'; fi",
			bootDir, a.cfg.User, a.cfg.User, bootDir),
		fmt.Sprintf("if [ ! -w '%s' ]; then doas chmod -R u+rwxX '%s'; fi", bootDir, bootDir),
		fmt.Sprintf("cd ~/'%s' && cp -R ./* '%s/'", stage, bootDir),
		fmt.Sprintf("cd ~ && rm -rf '%s'", stage),
	}, " && ")

	if _, err := a.output(ctx, client, install); err != nil {
		return fmt.Errorf("installing boot files on %s: %w", address, err)
	}

	a.log.Debug().Str("device", address).Str("source", sourceRoot).Msg("boot folder synced")
	return nil
}

// Restart restarts the TwinCAT runtime. The nopass doas rule for TcSysExe.exe
// is added on first use so the restart never stalls on a doas prompt.
func (a *SSHAgent) Restart(ctx context.Context, address string) ([]string, error) {
	client, err := a.dial(ctx, address)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	rule := fmt.Sprintf("permit nopass %s cmd TcSysExe.exe", a.cfg.User)
	cmd := strings.Join([]string{
		fmt.Sprintf("if ! grep -q '%s' /usr/local/etc/doas.conf 2>/dev/null; then echo '%s' | doas tee -a /usr/local/etc/doas.conf; fi", rule, rule),
		"doas TcSysExe.exe --run",
		"TcSysExe.exe --mode",
	}, " && ")

	out, err := a.output(ctx, client, cmd)
	lines := splitLines(out)
	if err != nil {
		return lines, fmt.Errorf("restarting TwinCAT on %s: %w", address, err)
	}
	return lines, nil
}

// HasRoute checks the device's static route list for a route carrying the
// given name.
func (a *SSHAgent) HasRoute(ctx context.Context, address string) (bool, error) {
	name, err := routeName()
	if err != nil {
		return false, err
	}

	client, err := a.dial(ctx, address)
	if err != nil {
		return false, err
	}
	defer client.Close()

	_, err = a.output(ctx, client, fmt.Sprintf("grep -q '<Name>%s</Name>' %s", name, staticRoutesFile))
	if err == nil {
		return true, nil
	}
	// grep exits 1 when the route is absent and 2 when no routes file has
	// been written yet; neither is a transport failure.
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && (exitErr.ExitStatus() == 1 || exitErr.ExitStatus() == 2) {
		return false, nil
	}
	return false, err
}

// routeName is the control host's name, which is what the device records for
// a route pointing back at us.
func routeName() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("determining local hostname: %w", err)
	}
	return name, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimRight(l, "\r"); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
