package warmsuccessor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// invocation is the header the client sends alongside its three passed fds.
type invocation struct {
	Argv []string `json:"argv"`
	Env  []string `json:"env"`
	Cwd  string   `json:"cwd"`
}

// maxHeaderSize bounds the JSON header frame; argv/env for a CLI invocation
// never approach this, it only guards against a corrupt or hostile peer.
const maxHeaderSize = 1 << 20

// sendInvocation writes the header and passes stdin/stdout/stderr as
// ancillary data in a single sendmsg, so the receiver gets both atomically
// and can't observe the header without the fds or vice versa.
func sendInvocation(conn *net.UnixConn, inv invocation, stdin, stdout, stderr *os.File) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invocation: %w", err)
	}
	rights := unix.UnixRights(int(stdin.Fd()), int(stdout.Fd()), int(stderr.Fd()))
	_, _, err = conn.WriteMsgUnix(data, rights, nil)
	return err
}

// recvInvocation reads one sendInvocation frame and returns the header plus
// the three received fds, already wrapped as *os.File.
func recvInvocation(conn *net.UnixConn) (invocation, [3]*os.File, error) {
	var inv invocation
	var files [3]*os.File

	buf := make([]byte, maxHeaderSize)
	oob := make([]byte, unix.CmsgSpace(3*4))
	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return inv, files, fmt.Errorf("read invocation: %w", err)
	}
	if err := json.Unmarshal(buf[:n], &inv); err != nil {
		return inv, files, fmt.Errorf("decode invocation: %w", err)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return inv, files, fmt.Errorf("parse control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return inv, files, fmt.Errorf("no control message received")
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return inv, files, fmt.Errorf("parse unix rights: %w", err)
	}
	if len(fds) != 3 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return inv, files, fmt.Errorf("expected 3 fds, got %d", len(fds))
	}
	names := [3]string{"stdin", "stdout", "stderr"}
	for i, fd := range fds {
		files[i] = os.NewFile(uintptr(fd), names[i])
	}
	return inv, files, nil
}

// writeExitCode writes the 4-byte big-endian exit code the client blocks
// reading after handing off its fds.
func writeExitCode(conn *net.UnixConn, code int) error {
	b := []byte{byte(code >> 24), byte(code >> 16), byte(code >> 8), byte(code)}
	_, err := conn.Write(b)
	return err
}

// readExitCode is the client side of writeExitCode.
func readExitCode(conn *net.UnixConn) (int, error) {
	b := make([]byte, 4)
	if _, err := ioReadFull(conn, b); err != nil {
		return 0, err
	}
	return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3]), nil
}

func ioReadFull(conn *net.UnixConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
