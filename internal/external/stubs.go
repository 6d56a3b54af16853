package external

import (
	"context"
	"fmt"
	"sync/atomic"

	"medinotify/internal/types"
)

// StubEmailSender logs email instead of sending it. Used in local mode and
// whenever EMAIL_PROVIDER=stub.
type StubEmailSender struct {
	logger types.Logger
	seq    atomic.Int64
}

// NewStubEmailSender creates a StubEmailSender.
func NewStubEmailSender(logger types.Logger) *StubEmailSender {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Provider() types.Provider { return types.ProviderStub }

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	id := fmt.Sprintf("stub-email-%d", s.seq.Add(1))
	types.LoggerFromContext(ctx, s.logger).Info("stub: email send",
		"message_id", id,
		"reference_id", msg.ReferenceID,
		"subject", msg.Subject,
	)
	return id, nil
}

// StubSMSSender logs SMS instead of sending it.
type StubSMSSender struct {
	logger types.Logger
	seq    atomic.Int64
}

// NewStubSMSSender creates a StubSMSSender.
func NewStubSMSSender(logger types.Logger) *StubSMSSender {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) Provider() types.Provider { return types.ProviderStub }

func (s *StubSMSSender) Send(ctx context.Context, msg SMSMessage) (string, error) {
	id := fmt.Sprintf("stub-sms-%d", s.seq.Add(1))
	types.LoggerFromContext(ctx, s.logger).Info("stub: sms send",
		"message_id", id,
		"reference_id", msg.ReferenceID,
		"length", len([]rune(msg.Body)),
	)
	return id, nil
}

var (
	_ EmailSender = (*StubEmailSender)(nil)
	_ SMSSender   = (*StubSMSSender)(nil)
)
