package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   error
	}{
		{name: "valid bearer token", header: "Bearer abc.def.ghi", wantToken: "abc.def.ghi"},
		{name: "empty header", header: "", wantErr: ErrEmptyAuthHeader},
		{name: "missing scheme", header: "abc.def.ghi", wantErr: ErrInvalidAuthHeader},
		{name: "wrong scheme", header: "Token abc", wantErr: ErrInvalidAuthHeader},
		{name: "lowercase scheme", header: "bearer abc", wantErr: ErrInvalidAuthHeader},
		{name: "empty token", header: "Bearer ", wantErr: ErrInvalidAuthHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := BearerToken(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	t.Run("header preferred over cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer from-header")
		r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "from-cookie"})

		token, err := TokenFromRequest(r, DefaultCookieName)
		require.NoError(t, err)
		assert.Equal(t, "from-header", token)
	})

	t.Run("cookie fallback", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic xyz")
		r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "from-cookie"})

		token, err := TokenFromRequest(r, DefaultCookieName)
		require.NoError(t, err)
		assert.Equal(t, "from-cookie", token)
	})

	t.Run("nothing present", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := TokenFromRequest(r, DefaultCookieName)
		assert.ErrorIs(t, err, ErrNoToken)
	})
}
