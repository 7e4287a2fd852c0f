package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mfaSetupRecordVersion1 = 1
)

var (
	ErrMFASetupNotFound = errors.New("mfa setup not found")
	ErrMFASetupExpired  = errors.New("mfa setup expired")
	ErrMFASetupBackend  = errors.New("mfa setup backend unavailable")
)

// MFASetup is the pending TOTP enrollment record. Single-use: Consume
// removes it, TTL expiry removes it, nothing else reads it.
type MFASetup struct {
	UserID     string
	TenantID   string
	SessionID  string
	TOTPSecret []byte
	ExpiresAt  int64
}

type MFASetupStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewMFASetupStore(redisClient redis.UniversalClient, prefix string) *MFASetupStore {
	if prefix == "" {
		prefix = "mst"
	}
	return &MFASetupStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *MFASetupStore) key(setupToken string) string {
	return s.prefix + ":" + setupToken
}

func (s *MFASetupStore) Save(ctx context.Context, setupToken string, record *MFASetup, ttl time.Duration) error {
	encoded, err := encodeMFASetup(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(setupToken), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFASetupBackend, err)
	}
	return nil
}

func (s *MFASetupStore) Get(ctx context.Context, setupToken string) (*MFASetup, error) {
	data, err := s.redis.Get(ctx, s.key(setupToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFASetupNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMFASetupBackend, err)
	}

	record, err := decodeMFASetup(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(setupToken)).Result()
		return nil, ErrMFASetupExpired
	}
	return record, nil
}

// Consume deletes the record after a successful confirmation. The first
// consumer wins; a second confirmation with the same token fails.
func (s *MFASetupStore) Consume(ctx context.Context, setupToken string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(setupToken)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMFASetupBackend, err)
	}
	return n > 0, nil
}

func encodeMFASetup(record *MFASetup) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(mfaSetupRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.TOTPSecret) > 65535 {
		return nil, errors.New("mfa setup secret length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.TOTPSecret))); err != nil {
		return nil, err
	}
	buf.Write(record.TOTPSecret)

	for _, field := range []string{record.UserID, record.TenantID, record.SessionID} {
		if len(field) > 65535 {
			return nil, errors.New("mfa setup field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeMFASetup(data []byte) (*MFASetup, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaSetupRecordVersion1 {
		return nil, errors.New("invalid mfa setup version")
	}

	record := &MFASetup{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var secretLen uint16
	if err := binary.Read(reader, binary.BigEndian, &secretLen); err != nil {
		return nil, err
	}
	record.TOTPSecret = make([]byte, secretLen)
	if _, err := io.ReadFull(reader, record.TOTPSecret); err != nil {
		return nil, err
	}

	for _, field := range []*string{&record.UserID, &record.TenantID, &record.SessionID} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(reader, value); err != nil {
			return nil, err
		}
		*field = string(value)
	}

	return record, nil
}
