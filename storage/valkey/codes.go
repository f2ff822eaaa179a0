package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/oauth-codegrant/internal/util"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// codeJSON is the stored form of a code record. Times are Unix milliseconds so
// the Lua script can compare them.
type codeJSON struct {
	ClientID    string `json:"client_id"`
	RedirectURL string `json:"redirect_url"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Consumed    bool   `json:"consumed"`
}

func toCodeJSON(r *storage.CodeRecord) *codeJSON {
	return &codeJSON{
		ClientID:    r.ClientID,
		RedirectURL: r.RedirectURL,
		IssuedAt:    r.IssuedAt.UnixMilli(),
		ExpiresAt:   r.ExpiresAt.UnixMilli(),
		Consumed:    r.Consumed,
	}
}

func fromCodeJSON(j *codeJSON) *storage.CodeRecord {
	return &storage.CodeRecord{
		ClientID:    j.ClientID,
		RedirectURL: j.RedirectURL,
		IssuedAt:    time.UnixMilli(j.IssuedAt),
		ExpiresAt:   time.UnixMilli(j.ExpiresAt),
		Consumed:    j.Consumed,
	}
}

// luaConsumeCode atomically redeems an authorization code.
//
// KEYS[1] = code key
// ARGV[1] = current Unix time in milliseconds
// ARGV[2] = presenting client id
// ARGV[3] = presented redirect URL
//
// Returns:
//   - the stored JSON if the code was redeemed by this call
//   - "NOT_FOUND" if the key does not exist
//   - "EXPIRED" if now is at or after expires_at (the key is deleted)
//   - "ALREADY_USED:<json>" if the code was redeemed before
//   - "MISMATCH" if client id or redirect URL differ (the code stays redeemable)
const luaConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now >= expiresAt then
    redis.call('DEL', KEYS[1])
    return 'EXPIRED'
end

if code.consumed then
    return 'ALREADY_USED:' .. data
end

if code.client_id ~= ARGV[2] or code.redirect_url ~= ARGV[3] then
    return 'MISMATCH'
end

code.consumed = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// SaveAuthorizationCode stores a freshly issued code with a TTL matching its expiry.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code string, record *storage.CodeRecord) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == "" || record == nil {
		err = fmt.Errorf("invalid authorization code")
		return err
	}
	if err = validateStringLength(code, MaxCodeLength, "authorization code"); err != nil {
		return err
	}

	ttl := time.Until(record.ExpiresAt).Milliseconds()
	if ttl <= 0 {
		err = fmt.Errorf("authorization code already expired")
		return err
	}

	data, marshalErr := json.Marshal(toCodeJSON(record))
	if marshalErr != nil {
		err = fmt.Errorf("failed to marshal authorization code: %w", marshalErr)
		return err
	}

	doErr := s.client.Do(ctx,
		s.client.B().Set().Key(s.codeKey(code)).Value(string(data)).Nx().PxMilliseconds(ttl).Build(),
	).Error()
	if isNilError(doErr) {
		err = storage.ErrAuthorizationCodeExists
		return err
	}
	if doErr != nil {
		err = fmt.Errorf("failed to save authorization code: %w", doErr)
		return err
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code, codeLogLength),
		"client_id", record.ClientID)
	return nil
}

// ConsumeAuthorizationCode redeems a code through a Lua script, so only one of
// any number of concurrent calls, across all replicas, can succeed.
//
// On ErrAuthorizationCodeUsed the stored record is returned alongside the error.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURL string, now time.Time) (*storage.CodeRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	if code == "" || len(code) > MaxCodeLength {
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	}

	result, doErr := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeCode).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(strconv.FormatInt(now.UnixMilli(), 10), clientID, redirectURL).
			Build(),
	).ToString()
	if doErr != nil {
		err = fmt.Errorf("failed to execute atomic code consume: %w", doErr)
		return nil, err
	}

	switch {
	case result == "NOT_FOUND":
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	case result == "EXPIRED":
		err = storage.ErrAuthorizationCodeExpired
		return nil, err
	case result == "MISMATCH":
		err = storage.ErrAuthorizationCodeMismatch
		return nil, err
	case strings.HasPrefix(result, "ALREADY_USED:"):
		err = storage.ErrAuthorizationCodeUsed
		var j codeJSON
		if jsonErr := json.Unmarshal([]byte(strings.TrimPrefix(result, "ALREADY_USED:")), &j); jsonErr != nil {
			return nil, err
		}
		return fromCodeJSON(&j), err
	}

	var j codeJSON
	if jsonErr := json.Unmarshal([]byte(result), &j); jsonErr != nil {
		err = fmt.Errorf("failed to parse authorization code: %w", jsonErr)
		return nil, err
	}
	record := fromCodeJSON(&j)
	record.Consumed = true

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, codeLogLength),
		"client_id", clientID)
	return record, nil
}
