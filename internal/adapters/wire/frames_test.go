package wire

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dkeye/Telecall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodesMapBackToSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code string
		want error
	}{
		{fmt.Errorf("lookup: %w", domain.ErrNotFound), CodeNotFound, domain.ErrNotFound},
		{domain.ErrChannelUnavailable, CodeChannelUnavailable, domain.ErrChannelUnavailable},
		{fmt.Errorf("%w: disk", domain.ErrWriteFailed), CodeWriteFailed, domain.ErrWriteFailed},
		{fmt.Errorf("%w: bad path", domain.ErrReadFailed), CodeReadFailed, domain.ErrReadFailed},
		{ErrRateLimited, CodeRateLimited, domain.ErrWriteFailed},
		{errors.New("garbage"), CodeBadRequest, domain.ErrWriteFailed},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			e := NewError(tc.err)
			require.NotNil(t, e)
			assert.Equal(t, tc.code, e.Code)
			assert.ErrorIs(t, e.Err(), tc.want)
		})
	}
	assert.Nil(t, NewError(nil))
	assert.NoError(t, (*Error)(nil).Err())
}

func TestTypeOf(t *testing.T) {
	f, err := Encode(Request{Type: TypeGet, ReqID: 7})
	require.NoError(t, err)
	typ, err := TypeOf(f)
	require.NoError(t, err)
	assert.Equal(t, TypeGet, typ)

	_, err = TypeOf([]byte("{"))
	assert.Error(t, err)
}
