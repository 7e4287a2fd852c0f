package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpRecordVersion1 = 1
)

var (
	ErrOTPNotFound = errors.New("one-time code not found")
	ErrOTPExpired  = errors.New("one-time code expired")
	ErrOTPInvalid  = errors.New("one-time code invalid")
	ErrOTPExceeded = errors.New("one-time code attempts exceeded")
	ErrOTPBackend  = errors.New("one-time code backend unavailable")
)

// OTPRecord is a purpose-bound one-time code. Only the hash of the code is
// stored; the clear code exists solely in the delivery channel.
type OTPRecord struct {
	UserID      string
	Destination string
	CodeHash    string
	ExpiresAt   int64
	Attempts    uint16
}

// OTPStore keeps purpose-bound one-time codes. Keys combine the purpose and
// an opaque token so a code issued for one purpose can never verify under
// another, and tokens are single-use.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *OTPStore) key(purpose, token string) string {
	return s.prefix + ":" + purpose + ":" + token
}

func (s *OTPStore) Save(ctx context.Context, purpose, token string, record *OTPRecord, ttl time.Duration) error {
	encoded, err := encodeOTP(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(purpose, token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}
	return nil
}

// Verify checks codeHash against the stored record. On match the record is
// deleted (single use) and the bound user id is returned. On mismatch the
// attempt counter is incremented atomically; hitting maxAttempts deletes the
// record and returns ErrOTPExceeded.
func (s *OTPStore) Verify(ctx context.Context, purpose, token, codeHash string, maxAttempts int) (string, error) {
	const maxRetries = 4
	key := s.key(purpose, token)

	for i := 0; i < maxRetries; i++ {
		var userID string
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTP(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrOTPExpired
			}

			if subtle.ConstantTimeCompare([]byte(record.CodeHash), []byte(codeHash)) == 1 {
				userID = record.UserID
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrOTPExceeded
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrOTPExpired
			}

			updated, err := encodeOTP(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			return ErrOTPInvalid
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return "", ErrOTPNotFound
			}
			if errors.Is(err, ErrOTPExpired) || errors.Is(err, ErrOTPInvalid) || errors.Is(err, ErrOTPExceeded) {
				return "", err
			}
			return "", fmt.Errorf("%w: %v", ErrOTPBackend, err)
		}
		return userID, nil
	}

	return "", ErrOTPNotFound
}

// Delete invalidates an outstanding code, e.g. when a fresh one is issued
// for the same flow.
func (s *OTPStore) Delete(ctx context.Context, purpose, token string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(purpose, token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}
	return n > 0, nil
}

func encodeOTP(record *OTPRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(otpRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.UserID, record.Destination, record.CodeHash} {
		if len(field) > 65535 {
			return nil, errors.New("one-time code field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeOTP(data []byte) (*OTPRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersion1 {
		return nil, errors.New("invalid one-time code version")
	}

	record := &OTPRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []*string{&record.UserID, &record.Destination, &record.CodeHash} {
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
