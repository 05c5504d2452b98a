package smtpprobe

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrLineBreak is returned for a command that would span more than one line.
// Nothing is written to the connection.
var ErrLineBreak = errors.New("smtpprobe: command contains a line break")

// quitTimeout bounds the best-effort QUIT exchange.
const quitTimeout = 2 * time.Second

// Exchange is one command/reply pair of a probe session.
// Command is empty for the server greeting.
type Exchange struct {
	Command string
	Code    int
	Message string
}

// session is one live SMTP connection, owned by a single Probe call.
type session struct {
	conn           net.Conn
	reader         *bufio.Reader
	writer         *bufio.Writer
	deadline       time.Time // end of the whole session budget
	commandTimeout time.Duration
	greeted        bool
	transcript     []Exchange
}

func newSession(c net.Conn, deadline time.Time, commandTimeout time.Duration) *session {
	return &session{
		conn:           c,
		reader:         bufio.NewReader(c),
		writer:         bufio.NewWriter(c),
		deadline:       deadline,
		commandTimeout: commandTimeout,
	}
}

// arm sets the I/O deadline for the next exchange: the command timeout,
// capped by the session budget.
func (s *session) arm() error {
	d := s.deadline
	if s.commandTimeout > 0 {
		if next := time.Now().Add(s.commandTimeout); d.IsZero() || next.Before(d) {
			d = next
		}
	}
	if err := s.conn.SetDeadline(d); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	return nil
}

// greeting reads the server banner.
func (s *session) greeting() (int, string, error) {
	if err := s.arm(); err != nil {
		return 0, "", err
	}
	code, msg, err := readResponse(s.reader)
	if err != nil {
		return 0, "", err
	}
	s.greeted = true
	s.transcript = append(s.transcript, Exchange{Code: code, Message: msg})
	return code, msg, nil
}

// command sends an SMTP command and reads the response.
func (s *session) command(format string, args ...any) (int, string, error) {
	if err := s.arm(); err != nil {
		return 0, "", err
	}
	line := fmt.Sprintf(format, args...)
	if strings.ContainsAny(line, "\r\n") {
		return 0, "", ErrLineBreak
	}
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return 0, "", err
	}
	if err := s.writer.Flush(); err != nil {
		return 0, "", err
	}
	code, msg, err := readResponse(s.reader)
	if err != nil {
		return 0, "", err
	}
	s.transcript = append(s.transcript, Exchange{Command: line, Code: code, Message: msg})
	return code, msg, nil
}

// quit sends QUIT and waits briefly for the reply (best-effort, ignores errors).
func (s *session) quit() {
	d := time.Now().Add(quitTimeout)
	if !s.deadline.IsZero() && s.deadline.Before(d) {
		d = s.deadline
	}
	_ = s.conn.SetDeadline(d)
	if _, err := s.writer.WriteString("QUIT\r\n"); err != nil {
		return
	}
	if err := s.writer.Flush(); err != nil {
		return
	}
	if code, msg, err := readResponse(s.reader); err == nil {
		s.transcript = append(s.transcript, Exchange{Command: "QUIT", Code: code, Message: msg})
	}
}

// readResponse reads a (possibly multi-line) SMTP response.
func readResponse(r *bufio.Reader) (code int, full string, err error) {
	var lines []string
	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil {
			return 0, "", fmt.Errorf("read SMTP response: %w", readErr)
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return 0, "", errors.New("SMTP response line too short")
		}
		lines = append(lines, line)
		// If the 4th character is not '-', this is the last line
		if len(line) < 4 || line[3] != '-' {
			break
		}
	}

	lastLine := lines[len(lines)-1]
	if _, err := fmt.Sscanf(lastLine[:3], "%d", &code); err != nil {
		return 0, "", fmt.Errorf("invalid SMTP response code %q: %w", lastLine[:3], err)
	}
	return code, strings.Join(lines, " | "), nil
}
