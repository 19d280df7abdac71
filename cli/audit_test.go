package cli

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/byteness/saccoguard/audit"
	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/testutil"
)

var testAuditKey = bytes.Repeat([]byte{0x5a}, audit.MinKeyLength)

func writeSignedLog(t *testing.T, n int) string {
	t.Helper()
	var buf bytes.Buffer
	sink := audit.NewSignedSink(&buf, &audit.SignatureConfig{KeyID: "k1", SecretKey: testAuditKey})
	for i := 0; i < n; i++ {
		sink.Record(context.Background(), audit.Record{
			CorrelationID: "corr-1",
			PrincipalID:   "alice",
			OperationName: "organizations.withdraw",
			Scope:         catalog.ScopeOrganization,
			Decision:      audit.DecisionGrant,
			Timestamp:     testutil.Epoch,
		})
	}
	path := filepath.Join(t.TempDir(), "audit.log")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestAuditVerifyCommand_Valid(t *testing.T) {
	path := writeSignedLog(t, 3)

	var stdout bytes.Buffer
	res, err := AuditVerifyCommand(AuditVerifyCommandInput{
		File:   path,
		KeyHex: hex.EncodeToString(testAuditKey),
		Stdout: &stdout,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Total, 3)
	testutil.AssertEqual(t, res.Valid, 3)
	testutil.AssertContains(t, stdout.String(), "3 record(s), 3 valid, 0 invalid, 0 unsigned")
}

func TestAuditVerifyCommand_Tampered(t *testing.T) {
	path := writeSignedLog(t, 2)
	data, err := os.ReadFile(path)
	testutil.AssertNoError(t, err)
	tampered := strings.Replace(string(data), `"principal_id":"alice"`, `"principal_id":"mallory"`, 1)
	tampered += "not a signed record\n"

	res, err := AuditVerifyCommand(AuditVerifyCommandInput{
		File:   "-",
		KeyHex: hex.EncodeToString(testAuditKey),
		Stdin:  strings.NewReader(tampered),
		Stdout: &bytes.Buffer{},
	})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("error = %v, want ErrVerificationFailed", err)
	}
	testutil.AssertEqual(t, res.Total, 3)
	testutil.AssertEqual(t, res.Valid, 1)
	testutil.AssertEqual(t, res.Invalid, 1)
	testutil.AssertEqual(t, res.Unsigned, 1)
}

func TestAuditVerifyCommand_KeyFile(t *testing.T) {
	path := writeSignedLog(t, 1)
	keyFile := filepath.Join(t.TempDir(), "key.hex")
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(testAuditKey)+"\n"), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	res, err := AuditVerifyCommand(AuditVerifyCommandInput{File: path, KeyFile: keyFile, Stdout: &bytes.Buffer{}})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Valid, 1)
}

func TestAuditVerifyCommand_KeyErrors(t *testing.T) {
	path := writeSignedLog(t, 1)
	tests := []struct {
		name    string
		keyHex  string
		keyFile string
		wantErr string
	}{
		{name: "no key", wantErr: "--key or --key-file is required"},
		{name: "both", keyHex: "aa", keyFile: "k", wantErr: "not both"},
		{name: "not hex", keyHex: "zz", wantErr: "invalid hex key"},
		{name: "too short", keyHex: "abcd", wantErr: "at least 32 bytes"},
		{name: "missing key file", keyFile: filepath.Join(t.TempDir(), "nope"), wantErr: "failed to read key file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AuditVerifyCommand(AuditVerifyCommandInput{File: path, KeyHex: tt.keyHex, KeyFile: tt.keyFile, Stdout: &bytes.Buffer{}})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
