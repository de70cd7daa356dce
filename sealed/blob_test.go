package sealed

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userDomain = "S-1-5-21-1111111111-2222222222-3333333333-1001"

func TestNTHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"password", "password", "8846f7eaee8fb117ad06bdd830b7586c"},
		{"empty", "", "31d6cfe0d16ae931b73c59d7e0c089c0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hex.EncodeToString(NTHash(tt.password)))
		})
	}
}

func TestMSDCC2(t *testing.T) {
	dcc1 := MSDCC1(NTHash("hashcat"), "tom")
	got := MSDCC2(dcc1, "tom", 10240)
	assert.Equal(t, "e4e938d12fe5974dc42a90120bd9c90f", hex.EncodeToString(got))
	assert.Equal(t, got, MSDCC2(MSDCC1(NTHash("hashcat"), "TOM"), "Tom", 0))
}

func TestUTF16LE(t *testing.T) {
	assert.Equal(t, []byte{'a', 0, 'b', 0}, UTF16LE("ab"))
	assert.Equal(t, []byte{0xe4, 0x00}, UTF16LE("ä"))
}

func TestBlob_DecryptWithPassword(t *testing.T) {
	blob, err := SealWithPassword(userDomain, "Summer2023!", []byte("secret"), 100)
	require.NoError(t, err)

	type args struct {
		domain   string
		password string
	}
	tests := []struct {
		name string
		args args
		want bool
	}{
		{"wrong password", args{userDomain, "Winter2023!"}, false},
		{"wrong domain", args{"S-1-5-21-1-2-3-1002", "Summer2023!"}, false},
		{"correct", args{userDomain, "Summer2023!"}, true},
		{"idempotent", args{userDomain, "Summer2023!"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blob.DecryptWithPassword(tt.args.domain, tt.args.password))
			assert.Equal(t, tt.want, blob.IsDecrypted())
		})
	}
	assert.Equal(t, []byte("secret"), blob.PlainText())
}

func TestBlob_DecryptWithPasswordHash(t *testing.T) {
	blob, err := SealWithPasswordHash(SystemDomain, NTHash("pw"), []byte("data"), 10)
	require.NoError(t, err)

	assert.False(t, blob.DecryptWithPasswordHash(SystemDomain, SHA1UTF16("pw")))
	assert.False(t, blob.DecryptWithKey(NTHash("pw")))
	assert.False(t, blob.IsDecrypted())
	assert.True(t, blob.DecryptWithPassword("SYSTEM", "pw"))
	assert.Equal(t, []byte("data"), blob.PlainText())
}

func TestBlob_SystemSID(t *testing.T) {
	tests := []struct {
		name   string
		sealed string
		domain string
	}{
		{"sealed with sid", SystemSID, SystemDomain},
		{"sealed with sid, opened with sid", SystemSID, "s-1-5-18"},
		{"sealed with system, opened with sid", SystemDomain, SystemSID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := SealWithPasswordHash(tt.sealed, []byte("dpapi system"), []byte("data"), 10)
			require.NoError(t, err)
			assert.False(t, blob.DecryptWithPasswordHash(userDomain, []byte("dpapi system")))
			assert.True(t, blob.DecryptWithPasswordHash(tt.domain, []byte("dpapi system")))
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, SystemDomain, NormalizeDomain("S-1-5-18"))
	assert.Equal(t, SystemDomain, NormalizeDomain("SYSTEM"))
	assert.Equal(t, userDomain, NormalizeDomain(userDomain))
}

func TestBlob_DecryptWithKey(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	blob, err := SealWithKey(key, []byte("wifi-psk"))
	require.NoError(t, err)

	assert.False(t, blob.DecryptWithPassword("", "0123456789abcdef"))
	assert.False(t, blob.DecryptWithKey([]byte("wrong")))
	assert.Nil(t, blob.PlainText())
	assert.True(t, blob.DecryptWithKey(key))
	assert.Equal(t, []byte("wifi-psk"), blob.PlainText())
}

func TestParse(t *testing.T) {
	blob, err := SealWithKey([]byte("k"), []byte("v"))
	require.NoError(t, err)
	b, err := json.Marshal(blob)
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"valid", b, false},
		{"no json", []byte("foo"), true},
		{"unknown mode", []byte(`{"mode":"rot13","salt":"AA==","ciphertext":"AA=="}`), true},
		{"missing salt", []byte(`{"mode":"key","ciphertext":"AA=="}`), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				assert.True(t, got.DecryptWithKey([]byte("k")))
				assert.Equal(t, []byte("v"), got.PlainText())
			}
		})
	}
}

func TestSealWithKey_EmptyKey(t *testing.T) {
	_, err := SealWithKey(nil, []byte("v"))
	assert.Error(t, err)
}
