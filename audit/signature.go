package audit

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// MinKeyLength is the minimum length of an HMAC-SHA256 signing key.
const MinKeyLength = 32

// ErrKeyTooShort is returned when the secret key is shorter than MinKeyLength.
var ErrKeyTooShort = errors.New("secret key must be at least 32 bytes")

// SignatureConfig holds the signing key and its identifier.
type SignatureConfig struct {
	KeyID     string // Identifier for the signing key, for rotation
	SecretKey []byte // HMAC-SHA256 secret key
}

// Validate checks that the configuration is usable.
func (c *SignatureConfig) Validate() error {
	if len(c.SecretKey) < MinKeyLength {
		return ErrKeyTooShort
	}
	return nil
}

// SignedRecord wraps the exact JSON bytes of a record with its signature.
// Keeping the raw bytes lets a verifier recompute the signature from a
// parsed log line without re-marshaling.
type SignedRecord struct {
	Record    json.RawMessage `json:"record"`
	KeyID     string          `json:"key_id"`
	Timestamp string          `json:"timestamp"`
	Signature string          `json:"signature"`
}

func signedPayload(record []byte, keyID, timestamp string) []byte {
	payload := make([]byte, 0, len(record)+len(keyID)+len(timestamp)+2)
	payload = append(payload, keyID...)
	payload = append(payload, '\n')
	payload = append(payload, timestamp...)
	payload = append(payload, '\n')
	return append(payload, record...)
}

// ComputeSignature returns the hex HMAC-SHA256 of data under key.
func ComputeSignature(data, key []byte) (string, error) {
	if len(key) < MinKeyLength {
		return "", ErrKeyTooShort
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignRecord signs rec at the given time.
func SignRecord(rec Record, config *SignatureConfig, at time.Time) (*SignedRecord, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	timestamp := at.UTC().Format(time.RFC3339Nano)
	sig, err := ComputeSignature(signedPayload(raw, config.KeyID, timestamp), config.SecretKey)
	if err != nil {
		return nil, err
	}
	return &SignedRecord{
		Record:    raw,
		KeyID:     config.KeyID,
		Timestamp: timestamp,
		Signature: sig,
	}, nil
}

// Verify checks the signature in constant time.
// Returns (true, nil) if valid, (false, nil) if invalid, or (false, error)
// if the expected signature cannot be computed.
func (s *SignedRecord) Verify(key []byte) (bool, error) {
	expected, err := ComputeSignature(signedPayload(s.Record, s.KeyID, s.Timestamp), key)
	if err != nil {
		return false, err
	}
	provided, err := hex.DecodeString(s.Signature)
	if err != nil {
		return false, nil
	}
	want, _ := hex.DecodeString(expected)
	return subtle.ConstantTimeCompare(provided, want) == 1, nil
}

// Decode returns the wrapped record.
func (s *SignedRecord) Decode() (Record, error) {
	var rec Record
	if err := json.Unmarshal(s.Record, &rec); err != nil {
		return Record{}, fmt.Errorf("decode signed record: %w", err)
	}
	return rec, nil
}

// SignedSink signs every record and writes it as a JSON line. If signing
// fails the unsigned record is written so that no event is lost.
type SignedSink struct {
	mu     sync.Mutex
	writer io.Writer
	config *SignatureConfig
	now    func() time.Time
}

// NewSignedSink creates a SignedSink. The config should carry a key of at
// least MinKeyLength bytes.
func NewSignedSink(w io.Writer, config *SignatureConfig) *SignedSink {
	return &SignedSink{writer: w, config: config, now: time.Now}
}

// Record signs and writes rec.
func (s *SignedSink) Record(_ context.Context, rec Record) {
	var line []byte
	signed, err := SignRecord(rec, s.config, s.now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit signing error: %v\n", err)
		line, err = json.Marshal(rec)
	} else {
		line, err = json.Marshal(signed)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit marshal error: %v\n", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Write(append(line, '\n'))
}

// VerifyResult summarizes a verification pass over a signed log.
type VerifyResult struct {
	Total    int   `json:"total"`
	Valid    int   `json:"valid"`
	Invalid  int   `json:"invalid"`
	Unsigned int   `json:"unsigned"`
	BadLines []int `json:"bad_lines,omitempty"`
}

// VerifyStream checks every line of a signed audit log read from r.
// Lines that do not parse as signed records count as unsigned.
func VerifyStream(r io.Reader, key []byte) (*VerifyResult, error) {
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	res := &VerifyResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		res.Total++

		var signed SignedRecord
		if err := json.Unmarshal(line, &signed); err != nil || signed.Signature == "" || len(signed.Record) == 0 {
			res.Unsigned++
			res.BadLines = append(res.BadLines, lineNo)
			continue
		}
		ok, err := signed.Verify(key)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Valid++
		} else {
			res.Invalid++
			res.BadLines = append(res.BadLines, lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return res, nil
}
