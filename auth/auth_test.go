package auth

import (
	"chat-sync/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-key")

func TestInspect_Reads_Claims_Without_Key(t *testing.T) {
	req := require.New(t)
	token, err := GenerateToken("u-42", []string{"member"}, time.Hour, testKey)
	req.NoError(err)

	claims, err := Inspect(token)

	req.NoError(err)
	req.Equal("u-42", claims.Participant())
	req.Equal([]string{"member"}, claims.Roles)
	req.False(claims.Expired(time.Now()))
}

func TestParticipant_Falls_Back_To_Subject(t *testing.T) {
	claims := &CustomClaims{}
	claims.Subject = "sub-1"

	require.Equal(t, "sub-1", claims.Participant())
}

func TestCheckUsable(t *testing.T) {
	req := require.New(t)
	valid, err := GenerateToken("u1", nil, time.Hour, testKey)
	req.NoError(err)
	expired, err := GenerateToken("u1", nil, -time.Minute, testKey)
	req.NoError(err)

	tests := []struct {
		name     string
		token    string
		wantErr  bool
		wantUser string
	}{
		{"Valid jwt", valid, false, "u1"},
		{"Expired jwt", expired, true, ""},
		{"Empty token", "", true, ""},
		{"Blank token", "   ", true, ""},
		{"Opaque token", "opaque-session-token", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := CheckUsable(tt.token, time.Now())
			if tt.wantErr {
				require.ErrorIs(t, err, errors.ErrCredentialRejected)
				return
			}
			require.NoError(t, err)
			if tt.wantUser != "" {
				require.Equal(t, tt.wantUser, claims.Participant())
			} else {
				require.Nil(t, claims)
			}
		})
	}
}

func TestTokenHolder_Signals_Changes(t *testing.T) {
	req := require.New(t)
	holder := NewTokenHolder("a")

	// When the same token is set again
	holder.Set("a")

	// Then nothing is signalled
	select {
	case <-holder.Changed():
		req.Fail("unexpected change")
	default:
	}

	// When two changes happen before anyone listens
	holder.Set("b")
	holder.Set("")

	// Then one coalesced signal carries the latest token
	select {
	case <-holder.Changed():
	case <-time.After(time.Second):
		req.Fail("change not signalled")
	}
	req.Equal("", holder.Token())
	select {
	case <-holder.Changed():
		req.Fail("signals should coalesce")
	default:
	}
}
