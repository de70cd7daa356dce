package storedcred

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/evidence"
	"github.com/forensicanalysis/credrecovery/modules/moduletest"
	"github.com/forensicanalysis/credrecovery/sealed"
)

var (
	userKey   = []byte("alice master key")
	systemKey = []byte("system master key")
)

func setup(t *testing.T) *Module {
	fs := afero.NewMemMapFs()

	mail, err := sealed.SealWithKey(userKey, []byte("mail-secret"))
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "Users/alice/AppData/Roaming/Microsoft/Credentials/a.cred.json", Credential{
		MasterKey: "AAAA-1111", Target: "imap.example.com", Username: "alice", Blob: mail,
	})

	web, err := sealed.SealWithKey(userKey, []byte("web-secret"))
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "Users/alice/AppData/Local/Microsoft/Credentials/b.cred.json", Credential{
		MasterKey: "aaaa-1111", Target: "https://intranet", Blob: web,
	})

	wifi, err := sealed.SealWithKey(systemKey, []byte("wifi-psk"))
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "ProgramData/Microsoft/Wlan/Interfaces/{guid}/home.xml.json", Credential{
		MasterKey: "bbbb-2222", SSID: "home", Blob: wifi,
	})

	moduletest.WriteFile(t, fs, "Users/bob/AppData/Roaming/Microsoft/Credentials/c.cred.json", []byte(`{"masterkey": "x"}`))

	m := New(evidence.New(fs), nil)
	require.NoError(t, m.Discover(context.Background(), &moduletest.Recorder{}))
	require.Len(t, m.secrets, 3)
	return m
}

func TestModule_OnKey(t *testing.T) {
	tests := []struct {
		name string
		key  credrecovery.Key
		want []string
	}{
		{"user master key", credrecovery.NewKey(credrecovery.KeyUserMasterKey, "aaaa-1111", userKey, nil), []string{"web-secret", "mail-secret"}},
		{"system master key", credrecovery.NewKey(credrecovery.KeySystemMasterKey, "BBBB-2222", systemKey, nil), []string{"wifi-psk"}},
		{"wrong family", credrecovery.NewKey(credrecovery.KeyDPAPISystem, "aaaa-1111", userKey, nil), nil},
		{"wrong key material", credrecovery.NewKey(credrecovery.KeyUserMasterKey, "aaaa-1111", systemKey, nil), nil},
		{"unknown id", credrecovery.NewKey(credrecovery.KeyUserMasterKey, "cccc", userKey, nil), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := setup(t)
			out := &moduletest.Recorder{}
			require.NoError(t, m.OnKey(context.Background(), tt.key, out))
			assert.Equal(t, tt.want, out.PasswordValues())
		})
	}
}

func TestModule_Passwords(t *testing.T) {
	m := setup(t)
	ctx := context.Background()
	out := &moduletest.Recorder{}

	require.NoError(t, m.OnKey(ctx, credrecovery.NewKey(credrecovery.KeyUserMasterKey, "aaaa-1111", userKey, nil), out))
	require.NoError(t, m.OnKey(ctx, credrecovery.NewKey(credrecovery.KeySystemMasterKey, "bbbb-2222", systemKey, nil), out))
	require.Len(t, out.Passwords, 3)

	mail := out.Passwords[1]
	assert.Equal(t, credrecovery.CategoryApplication, mail.Category)
	assert.Equal(t, "stored credential for imap.example.com", mail.Description)
	username, _ := mail.Provenance.Get("username")
	assert.Equal(t, "alice", username)

	wifi := out.Passwords[2]
	assert.Equal(t, credrecovery.CategoryNetwork, wifi.Category)
	ssid, _ := wifi.Provenance.Get("ssid")
	assert.Equal(t, "home", ssid)

	out.Reset()
	require.NoError(t, m.OnKey(ctx, credrecovery.NewKey(credrecovery.KeyUserMasterKey, "aaaa-1111", userKey, nil), out))
	assert.Equal(t, 0, out.Len())

	assert.Equal(t, credrecovery.Report{
		Attempted: 3, Resolved: 3,
		Details: map[string]int{"application": 2, "network": 1},
	}, m.Report())
}
