package utils

import (
	"errors"
	"fmt"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySendErrorDialFailureIsTransient(t *testing.T) {
	// The submission port in the address must not read as a reply code.
	err := classifySendError(errors.New("dial tcp 10.0.0.1:587: connect: connection refused"))
	assert.False(t, IsPermanentSendError(err))

	err = classifySendError(errors.New("read tcp 10.0.0.1:465: connection reset by peer"))
	assert.False(t, IsPermanentSendError(err))
}

func TestClassifySendErrorPermanentReplyCode(t *testing.T) {
	err := classifySendError(&textproto.Error{Code: 550, Msg: "5.1.1 mailbox unavailable"})
	assert.True(t, IsPermanentSendError(err))

	err = classifySendError(&textproto.Error{Code: 554, Msg: "transaction failed"})
	assert.True(t, IsPermanentSendError(err))
}

func TestClassifySendErrorTransientReplyCode(t *testing.T) {
	err := classifySendError(&textproto.Error{Code: 421, Msg: "service not available, closing transmission channel"})
	assert.False(t, IsPermanentSendError(err))

	err = classifySendError(&textproto.Error{Code: 451, Msg: "requested action aborted: local error in processing"})
	assert.False(t, IsPermanentSendError(err))
}

func TestClassifySendErrorRejectionPhraseInReply(t *testing.T) {
	// Some servers reject bad recipients with a 4xx code but a definitive
	// phrase; the phrase only counts when it comes from a real reply.
	err := classifySendError(&textproto.Error{Code: 450, Msg: "user unknown in virtual mailbox table"})
	assert.True(t, IsPermanentSendError(err))

	err = classifySendError(errors.New("lookup smtp.no-such-user.example: no such host"))
	assert.False(t, IsPermanentSendError(err))
}

func TestClassifySendErrorUnwrapsWrappedReply(t *testing.T) {
	wrapped := fmt.Errorf("gomail: could not send email 1: %w",
		&textproto.Error{Code: 550, Msg: "no such user here"})
	err := classifySendError(wrapped)
	assert.True(t, IsPermanentSendError(err))

	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.ErrorContains(t, se, "no such user here")
}
