package sshagent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// uploadTree pushes the local directory tree at sourceRoot to the remote
// user's home directory under stage, speaking the scp sink protocol to the
// device's "scp -t" process. Relative paths are preserved; empty directories
// are created.
func (a *SSHAgent) uploadTree(ctx context.Context, client *ssh.Client, sourceRoot, stage string) error {
	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening scp session: %w", err)
	}
	defer sess.Close()

	in, err := sess.StdinPipe()
	if err != nil {
		return err
	}
	out, err := sess.StdoutPipe()
	if err != nil {
		return err
	}

	if err := sess.Start("scp -qrt ~"); err != nil {
		return fmt.Errorf("starting remote scp: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- func() error {
			defer in.Close()

			if err := readAck(out); err != nil {
				return err
			}
			if err := sendDir(in, out, stage); err != nil {
				return err
			}
			if err := sendTree(in, out, sourceRoot); err != nil {
				return err
			}
			return sendEnd(in, out)
		}()
	}()

	select {
	case <-ctx.Done():
		client.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return err
		}
	}

	if err := sess.Wait(); err != nil {
		return fmt.Errorf("remote scp: %w", err)
	}
	return nil
}

// sendTree streams the contents of dir, recursing with D/E records so the
// remote sink reproduces the directory structure.
func sendTree(in io.Writer, out io.Reader, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := sendDir(in, out, e.Name()); err != nil {
				return err
			}
			if err := sendTree(in, out, p); err != nil {
				return err
			}
			if err := sendEnd(in, out); err != nil {
				return err
			}
			continue
		}
		if err := sendFile(in, out, p, e.Name()); err != nil {
			return err
		}
	}
	return nil
}

func sendDir(in io.Writer, out io.Reader, name string) error {
	if _, err := fmt.Fprintf(in, "D0755 0 %s\n", name); err != nil {
		return err
	}
	return readAck(out)
}

func sendEnd(in io.Writer, out io.Reader) error {
	if _, err := io.WriteString(in, "E\n"); err != nil {
		return err
	}
	return readAck(out)
}

func sendFile(in io.Writer, out io.Reader, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(in, "C0644 %d %s\n", info.Size(), name); err != nil {
		return err
	}
	if err := readAck(out); err != nil {
		return err
	}
	if _, err := io.Copy(in, f); err != nil {
		return err
	}
	if _, err := in.Write([]byte{0}); err != nil {
		return err
	}
	return readAck(out)
}

// readAck consumes one scp acknowledgement byte. 0 is success; 1 and 2 are
// followed by an error line from the remote side.
func readAck(out io.Reader) error {
	var code [1]byte
	if _, err := io.ReadFull(out, code[:]); err != nil {
		return fmt.Errorf("reading scp ack: %w", err)
	}
	if code[0] == 0 {
		return nil
	}

	msg := make([]byte, 0, 128)
	buf := make([]byte, 1)
	for {
		if _, err := out.Read(buf); err != nil || buf[0] == '\n' {
			break
		}
		msg = append(msg, buf[0])
	}
	return fmt.Errorf("scp error (code %d): %s", code[0], string(msg))
}
