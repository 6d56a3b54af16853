package external

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"medinotify/internal/types"
)

// SMTPConfig configures an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password types.SecretString
	Logger   types.Logger
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPClient implements EmailSender through an SMTP relay. Port 465 uses
// implicit TLS; other ports rely on STARTTLS negotiated by net/smtp.
type SMTPClient struct {
	cfg      SMTPConfig
	logger   types.Logger
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPClient creates an SMTPClient.
func NewSMTPClient(cfg SMTPConfig) *SMTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	c := &SMTPClient{cfg: cfg, logger: logger, now: time.Now}
	c.sendMail = smtp.SendMail
	if cfg.Port == 465 {
		c.sendMail = c.sendImplicitTLS
	}
	return c
}

func (c *SMTPClient) Provider() types.Provider { return types.ProviderSMTPRelay }

// Send relays msg. A permanent (5xx) SMTP reply is reported as a rejection.
func (c *SMTPClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", types.NewAppError(types.ErrCodeProviderSend, "context done before SMTP send", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), c.cfg.Host)
	body := c.buildMessage(msg, messageID)

	var auth smtp.Auth
	if c.cfg.Username != "" && c.cfg.Password.IsSet() {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password.Unmask(), c.cfg.Host)
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if err := c.sendMail(addr, auth, msg.FromAddress, []string{msg.To}, body); err != nil {
		return "", mapSMTPError(err)
	}
	return messageID, nil
}

// buildMessage writes an RFC 5322 message, multipart/alternative when both
// bodies are present.
func (c *SMTPClient) buildMessage(msg EmailMessage, messageID string) []byte {
	var b strings.Builder
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	from := msg.FromAddress
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.FromName), msg.FromAddress)
	}
	header("From", from)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", c.now().UTC().Format(time.RFC1123Z))
	header("Message-ID", messageID)
	if msg.ReferenceID != "" {
		header("X-Delivery-Log-ID", msg.ReferenceID)
	}
	header("MIME-Version", "1.0")

	switch {
	case msg.HTML != "" && msg.Text != "":
		boundary := "alt-" + strings.ReplaceAll(uuid.NewString(), "-", "")
		header("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, boundary))
		b.WriteString("\r\n")
		for _, part := range []struct{ ctype, body string }{
			{"text/plain", msg.Text},
			{"text/html", msg.HTML},
		} {
			fmt.Fprintf(&b, "--%s\r\n", boundary)
			fmt.Fprintf(&b, "Content-Type: %s; charset=UTF-8\r\n\r\n", part.ctype)
			b.WriteString(part.body)
			b.WriteString("\r\n")
		}
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case msg.HTML != "":
		header("Content-Type", "text/html; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(msg.HTML)
	default:
		header("Content-Type", "text/plain; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(msg.Text)
	}
	return []byte(b.String())
}

func (c *SMTPClient) sendImplicitTLS(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: c.cfg.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open SMTP session: %w", err)
	}
	defer client.Close()

	if a != nil {
		if err := client.Auth(a); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func mapSMTPError(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		switch {
		case proto.Code == 421 || proto.Code == 450 || proto.Code == 451 || proto.Code == 452:
			return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SMTP relay deferred message", err)
		case proto.Code == 530 || proto.Code == 535:
			return types.NewAppError(types.ErrCodeProviderSend, "SMTP authentication failed", err)
		case proto.Code >= 500:
			return types.NewAppError(types.ErrCodeProviderRejected, "SMTP relay rejected message", err)
		}
	}
	return types.NewAppError(types.ErrCodeProviderSend, "SMTP send failed", err)
}

var _ EmailSender = (*SMTPClient)(nil)
