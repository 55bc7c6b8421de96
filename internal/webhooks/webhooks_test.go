package webhooks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/validation"
)

var testSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-signing-key"))

type memoryUsers struct {
	byExternal map[string]models.User
	deleted    map[string]time.Time
}

func (m *memoryUsers) Upsert(_ context.Context, user models.User) (models.User, error) {
	if m.byExternal == nil {
		m.byExternal = make(map[string]models.User)
	}
	if existing, ok := m.byExternal[user.ExternalID]; ok {
		user.ID = existing.ID
	} else {
		user.ID = "u-" + user.ExternalID
	}
	m.byExternal[user.ExternalID] = user
	return user, nil
}

func (m *memoryUsers) SoftDeleteByExternalID(_ context.Context, externalID string, at time.Time) error {
	if m.deleted == nil {
		m.deleted = make(map[string]time.Time)
	}
	m.deleted[externalID] = at
	return nil
}

func newProcessor(t *testing.T, now time.Time) (*Processor, *Verifier, *memoryUsers) {
	t.Helper()
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)
	v.now = func() time.Time { return now }
	users := &memoryUsers{}
	p := NewProcessor(v, users)
	p.now = func() time.Time { return now }
	return p, v, users
}

func signed(t *testing.T, v *Verifier, id string, ts time.Time, body []byte) Headers {
	t.Helper()
	sig, err := v.Sign(id, ts, body)
	require.NoError(t, err)
	return Headers{ID: id, Timestamp: strconv.FormatInt(ts.Unix(), 10), Signature: sig}
}

func TestHeadersFromRequiresAllHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("svix-id", "msg_1")
	h.Set("svix-timestamp", "1700000000")
	_, err := HeadersFrom(h)
	assert.ErrorIs(t, err, ErrMissingHeaders)

	h.Set("svix-signature", "v1,abc")
	got, err := HeadersFrom(h)
	require.NoError(t, err)
	assert.Equal(t, "msg_1", got.ID)
}

func TestVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, v, _ := newProcessor(t, now)
	body := []byte(`{"type":"user.created"}`)

	h := signed(t, v, "msg_1", now, body)
	assert.NoError(t, v.Verify(h, body))

	h.Signature = "v1,bm9wZQ== " + h.Signature
	assert.NoError(t, v.Verify(h, body), "any listed signature may match")

	assert.ErrorIs(t, v.Verify(h, []byte(`{"type":"user.deleted"}`)), ErrInvalidSignature)

	stale := signed(t, v, "msg_1", now.Add(-6*time.Minute), body)
	assert.ErrorIs(t, v.Verify(stale, body), ErrTimestamp)

	withinWindow := signed(t, v, "msg_1", now.Add(4*time.Minute), body)
	assert.NoError(t, v.Verify(withinWindow, body))

	wrongVersion := h
	wrongVersion.Signature = "v2," + base64.StdEncoding.EncodeToString([]byte("x"))
	assert.ErrorIs(t, v.Verify(wrongVersion, body), ErrInvalidSignature)

	_, err := NewVerifier("whsec_***")
	assert.Error(t, err)
}

func TestProcessUpsertsUser(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p, v, users := newProcessor(t, now)

	payload := map[string]any{
		"type": "user.created",
		"data": map[string]any{
			"id":                       "user_abc",
			"first_name":               " Rosa ",
			"last_name":                "Parks",
			"image_url":                "https://img.example.org/rosa.png",
			"primary_email_address_id": "em_2",
			"email_addresses": []map[string]any{
				{"id": "em_1", "email_address": "old@example.org"},
				{"id": "em_2", "email_address": "rosa@example.org"},
			},
			"last_sign_in_at": 1_699_999_000_000,
			"public_metadata": map[string]any{"role": "admin"},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	outcome, err := p.Process(context.Background(), signed(t, v, "msg_1", now, body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	user := users.byExternal["user_abc"]
	assert.Equal(t, "rosa@example.org", user.Email)
	assert.Equal(t, "Rosa Parks", user.FullName)
	assert.Equal(t, models.RoleAdmin, user.Role)
	require.NotNil(t, user.LastSignInAt)
	assert.Equal(t, time.UnixMilli(1_699_999_000_000).UTC(), *user.LastSignInAt)

	// A replay leaves a single row.
	_, err = p.Process(context.Background(), signed(t, v, "msg_1", now, body), body)
	require.NoError(t, err)
	assert.Len(t, users.byExternal, 1)
}

func TestProcessDeleteAndIgnore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p, v, users := newProcessor(t, now)

	body := []byte(`{"type":"user.deleted","data":{"id":"user_abc","deleted":true}}`)
	outcome, err := p.Process(context.Background(), signed(t, v, "msg_2", now, body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, now.UTC(), users.deleted["user_abc"])

	body = []byte(`{"type":"session.created","data":{"id":"sess_1"}}`)
	outcome, err = p.Process(context.Background(), signed(t, v, "msg_3", now, body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	body = []byte(`{"type":"user.updated","data":{"first_name":"x"}}`)
	_, err = p.Process(context.Background(), signed(t, v, "msg_4", now, body), body)
	assert.ErrorIs(t, err, validation.ErrInvalid)
	assert.True(t, IsClientError(err))
}

func TestParseTime(t *testing.T) {
	cases := map[string]time.Time{
		`1700000000`:                  time.Unix(1_700_000_000, 0).UTC(),
		`1700000000123`:               time.UnixMilli(1_700_000_000_123).UTC(),
		`"1700000000"`:                time.Unix(1_700_000_000, 0).UTC(),
		`"2024-05-01T10:00:00.5Z"`:    time.Date(2024, 5, 1, 10, 0, 0, 500_000_000, time.UTC),
		`"2024-05-01T12:00:00+02:00"`: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, ok := parseTime(json.RawMessage(raw))
		require.True(t, ok, raw)
		assert.True(t, want.Equal(got), "%s: got %s", raw, got)
	}

	for _, raw := range []string{``, `null`, `""`, `"yesterday"`} {
		_, ok := parseTime(json.RawMessage(raw))
		assert.False(t, ok, raw)
	}
}
