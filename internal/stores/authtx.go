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
	authTxRecordVersion1 = 1
)

var (
	ErrAuthTxNotFound = errors.New("auth transaction not found")
	ErrAuthTxExpired  = errors.New("auth transaction expired")
	ErrAuthTxExceeded = errors.New("auth transaction attempts exceeded")
	ErrAuthTxBackend  = errors.New("auth transaction backend unavailable")
)

// State is the AuthTx state machine position. A transaction only exists
// while a challenge is pending; completion and terminal failure both delete
// the record, so no terminal state is ever persisted.
type State uint8

const (
	StateMFARequired State = iota + 1
	StateDeviceVerify
	StateBackupCode
)

// Method bits describe which challenge methods the transaction accepts.
type Method uint8

const (
	MethodTOTP Method = 1 << iota
	MethodDeviceOTP
	MethodBackupCode
)

// AuthTx is the pending-login aggregate. The transaction id doubles as the
// cache key and is never stored inside the record.
type AuthTx struct {
	UserID         string
	TenantID       string
	Email          string
	State          State
	Methods        Method
	Attempts       uint16
	ExpiresAt      int64
	RememberDevice bool
	IsNewDevice    bool
	Risk           uint16
	DeviceOTPToken string
}

// AuthTxStore keeps pending login transactions in Redis under a TTL. All
// attempt accounting happens server-side via WATCH transactions so
// concurrent challenge submissions cannot stretch the budget.
type AuthTxStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAuthTxStore(redisClient redis.UniversalClient, prefix string) *AuthTxStore {
	if prefix == "" {
		prefix = "atx"
	}
	return &AuthTxStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *AuthTxStore) key(txID string) string {
	return s.prefix + ":" + txID
}

func (s *AuthTxStore) Save(ctx context.Context, txID string, record *AuthTx, ttl time.Duration) error {
	encoded, err := encodeAuthTx(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(txID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthTxBackend, err)
	}
	return nil
}

func (s *AuthTxStore) Get(ctx context.Context, txID string) (*AuthTx, error) {
	data, err := s.redis.Get(ctx, s.key(txID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAuthTxNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthTxBackend, err)
	}

	record, err := decodeAuthTx(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(txID)).Result()
		return nil, ErrAuthTxExpired
	}
	return record, nil
}

// Delete removes the transaction. Reports whether the key existed, which
// doubles as the single-use guard: the first deleter wins.
func (s *AuthTxStore) Delete(ctx context.Context, txID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(txID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAuthTxBackend, err)
	}
	return n > 0, nil
}

// SetState switches the active challenge branch without touching the attempt
// counter or the TTL. Used by method switching.
func (s *AuthTxStore) SetState(ctx context.Context, txID string, state State) error {
	const maxRetries = 4
	key := s.key(txID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeAuthTx(data)
			if err != nil {
				return err
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
				return ErrAuthTxExpired
			}

			record.State = state
			updated, err := encodeAuthTx(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrAuthTxNotFound
			}
			if errors.Is(err, ErrAuthTxExpired) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrAuthTxBackend, err)
		}
		return nil
	}

	return ErrAuthTxNotFound
}

// RecordFailure increments the attempt counter atomically. When the counter
// reaches maxAttempts the transaction is deleted and exceeded=true is
// returned; the caller must then force a fresh login.
func (s *AuthTxStore) RecordFailure(ctx context.Context, txID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(txID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeAuthTx(data)
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
				return ErrAuthTxExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return nil
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
				return ErrAuthTxExpired
			}

			updated, err := encodeAuthTx(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrAuthTxNotFound
			}
			if errors.Is(err, ErrAuthTxExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrAuthTxBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrAuthTxNotFound
}

func encodeAuthTx(record *AuthTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(authTxRecordVersion1)
	buf.WriteByte(byte(record.State))
	buf.WriteByte(byte(record.Methods))

	var flags uint8
	if record.RememberDevice {
		flags |= 1
	}
	if record.IsNewDevice {
		flags |= 2
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.Risk); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{
		record.UserID,
		record.TenantID,
		record.Email,
		record.DeviceOTPToken,
	} {
		if len(field) > 65535 {
			return nil, errors.New("auth transaction field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeAuthTx(data []byte) (*AuthTx, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != authTxRecordVersion1 {
		return nil, errors.New("invalid auth transaction version")
	}

	record := &AuthTx{}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.State = State(state)

	methods, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Methods = Method(methods)

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.RememberDevice = flags&1 != 0
	record.IsNewDevice = flags&2 != 0

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.Risk); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []*string{
		&record.UserID,
		&record.TenantID,
		&record.Email,
		&record.DeviceOTPToken,
	} {
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
