package credrecovery_test

import (
	"context"
	"encoding/hex"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/evidence"
	"github.com/forensicanalysis/credrecovery/knowledgebase"
	"github.com/forensicanalysis/credrecovery/modules/casenotes"
	"github.com/forensicanalysis/credrecovery/modules/hashchain"
	"github.com/forensicanalysis/credrecovery/modules/hashtest"
	"github.com/forensicanalysis/credrecovery/modules/masterkey"
	"github.com/forensicanalysis/credrecovery/modules/moduletest"
	"github.com/forensicanalysis/credrecovery/modules/registry"
	"github.com/forensicanalysis/credrecovery/modules/storedcred"
	"github.com/forensicanalysis/credrecovery/sealed"
)

const (
	alice      = "S-1-5-21-1111111111-2222222222-3333333333-1001"
	carol      = "S-1-5-21-1111111111-2222222222-3333333333-1003"
	aliceGUID  = "6f1b2c3d-0000-4000-8000-000000000001"
	systemGUID = "6f1b2c3d-0000-4000-8000-000000000002"
	carolGUID  = "6f1b2c3d-0000-4000-8000-000000000003"
	shared     = "Shared1!"
	iterations = 10
)

var (
	aliceMasterKey  = []byte("alice master key material 0123456789")
	carolMasterKey  = []byte("carol master key material 0123456789")
	systemMasterKey = []byte("system master key material 0123456789")
	dpapiSystem     = []byte("dpapi system secret 0123456789abcdef0123")
)

func sealPassword(t *testing.T, domain, password string, plain []byte) *sealed.Blob {
	blob, err := sealed.SealWithPassword(domain, password, plain, iterations)
	require.NoError(t, err)
	return blob
}

func sealKey(t *testing.T, key []byte, plain string) *sealed.Blob {
	blob, err := sealed.SealWithKey(key, []byte(plain))
	require.NoError(t, err)
	return blob
}

func writeMasterKey(t *testing.T, fs afero.Fs) {
	moduletest.WriteJSON(t, fs, "Users/alice/AppData/Roaming/Microsoft/Protect/"+alice+"/"+aliceGUID+".mk.json",
		map[string]interface{}{"guid": aliceGUID, "blob": sealPassword(t, alice, "Summer2023!", aliceMasterKey)})
}

func writeCredential(t *testing.T, fs afero.Fs, name, target, secret string) {
	moduletest.WriteJSON(t, fs, "Users/alice/AppData/Roaming/Microsoft/Credentials/"+name+".cred.json",
		storedcred.Credential{MasterKey: aliceGUID, Target: target, Username: "alice", Blob: sealKey(t, aliceMasterKey, secret)})
}

// corpus is a small system image where every secret depends on another one.
func corpus(t *testing.T) *evidence.Store {
	fs := afero.NewMemMapFs()

	moduletest.WriteFile(t, fs, "case/notes.txt", []byte("interview 2023-07-01\npassword: Summer2023!\n"))

	writeMasterKey(t, fs)
	writeCredential(t, fs, "mail", "imap.example.com", "hashcat")

	blob, err := sealed.SealWithPasswordHash(sealed.SystemDomain, dpapiSystem, systemMasterKey, iterations)
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "Windows/System32/Microsoft/Protect/S-1-5-18/User/"+systemGUID+".mk.json",
		map[string]interface{}{"guid": systemGUID, "blob": blob})
	moduletest.WriteJSON(t, fs, "ProgramData/Microsoft/Wlan/Interfaces/home.xml.json",
		storedcred.Credential{MasterKey: systemGUID, SSID: "home", Blob: sealKey(t, systemMasterKey, "wifi-psk")})

	carolBlob, err := sealed.SealWithPasswordHash(carol, sealed.NTHash(shared), carolMasterKey, iterations)
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "Users/carol/AppData/Roaming/Microsoft/Protect/"+carol+"/"+carolGUID+".mk.json",
		map[string]interface{}{"guid": carolGUID, "blob": carolBlob})

	chain, err := hashchain.NewRecord(alice, iterations, "Summer2023!", "Spring2023!", "Winter2022!")
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "Users/alice/AppData/Roaming/Microsoft/Protect/CREDHIST.json", chain)

	moduletest.WriteJSON(t, fs, "Windows/System32/config/registry/SAM.json", []registry.Key{
		registry.NewKey(`HKEY_LOCAL_MACHINE\SAM\SAM\Domains\Account\Users\000003E9`,
			registry.Value{Name: "UserName", Data: "alice"},
			registry.Value{Name: "SID", Data: alice},
			registry.Value{Name: "NTHash", Data: hex.EncodeToString(sealed.NTHash("Summer2023!"))},
		),
		registry.NewKey(`HKEY_LOCAL_MACHINE\SAM\SAM\Domains\Account\Users\000003EA`,
			registry.Value{Name: "UserName", Data: "bob"},
			registry.Value{Name: "NTHash", Data: hex.EncodeToString(sealed.NTHash("unknown to everybody"))},
		),
		registry.NewKey(`HKEY_LOCAL_MACHINE\SAM\SAM\Domains\Account\Users\000003EB`,
			registry.Value{Name: "UserName", Data: "carol"},
			registry.Value{Name: "SID", Data: carol},
			registry.Value{Name: "NTHash", Data: hex.EncodeToString(sealed.NTHash(shared))},
		),
	})
	moduletest.WriteJSON(t, fs, "Windows/System32/config/registry/SECURITY.json", []registry.Key{
		registry.NewKey(`HKEY_LOCAL_MACHINE\SECURITY\Cache`,
			registry.Value{Name: "NL$1", Data: registry.CacheEntry("tom", "CORP", "hashcat")},
		),
		registry.NewKey(`HKEY_LOCAL_MACHINE\SECURITY\Policy\Secrets\DPAPI_SYSTEM\CurrVal`,
			registry.Value{Name: "", Data: hex.EncodeToString(dpapiSystem)},
		),
	})
	return evidence.New(fs)
}

// reusedHash reports carol's NT hash for another account, as if alice had
// reused carol's password.
type reusedHash struct{}

func (reusedHash) Name() string { return "reused" }

func (reusedHash) Discover(_ context.Context, out credrecovery.Emitter) error {
	out.EmitHash(credrecovery.NewHash(credrecovery.HashNT, sealed.NTHash(shared), credrecovery.NewProvenance("account", alice)))
	return nil
}

func allModules(store *evidence.Store) []credrecovery.Module {
	return []credrecovery.Module{
		reusedHash{},
		casenotes.New(store, "", nil, nil),
		registry.New(store, nil),
		masterkey.New(store, nil),
		hashchain.New(store, nil),
		storedcred.New(store, nil),
		hashtest.New(nil),
	}
}

func TestRecovery_StoredCredentialScenario(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeMasterKey(t, fs)
	writeCredential(t, fs, "mail", "imap.example.com", "MailPass!")
	store := evidence.New(fs)

	e := credrecovery.New()
	e.Register(masterkey.New(store, nil), storedcred.New(store, nil))
	e.Seed(credrecovery.NewPassword(credrecovery.CategoryCaseSupplied, "Summer2023!", "case note", nil))
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	key, ok := result.Key(credrecovery.KeyUserMasterKey, aliceGUID)
	require.True(t, ok)
	assert.Equal(t, aliceMasterKey, key.Value)
	assert.True(t, result.HasPassword("MailPass!"))
	assert.Equal(t, 1, result.Reports[storedcred.Name].Resolved)
}

func TestRecovery_Chain(t *testing.T) {
	fs := afero.NewMemMapFs()
	carolBlob, err := sealed.SealWithPasswordHash(carol, sealed.NTHash(shared), carolMasterKey, iterations)
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "Users/carol/AppData/Roaming/Microsoft/Protect/"+carol+"/"+carolGUID+".mk.json",
		map[string]interface{}{"guid": carolGUID, "blob": carolBlob})

	chain, err := hashchain.NewRecord(alice, iterations, "link0", "link1", "link2", "link3")
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "Users/alice/AppData/Roaming/Microsoft/Protect/CREDHIST.json", chain)
	store := evidence.New(fs)

	e := credrecovery.New()
	e.Register(hashchain.New(store, nil))
	e.Seed(credrecovery.NewPassword(credrecovery.CategoryCaseSupplied, "link0", "", nil))
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, credrecovery.Report{Attempted: 3, Resolved: 3}, result.Reports[hashchain.Name])
	assert.Len(t, result.Hashes, 6)
}

func TestRecovery_OrderIndependence(t *testing.T) {
	store := corpus(t)

	run := func(modules []credrecovery.Module) *credrecovery.Result {
		e := credrecovery.New()
		e.Register(modules...)
		result, err := e.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	want := run(allModules(store))

	for _, expected := range []string{"Summer2023!", "hashcat", "wifi-psk"} {
		assert.True(t, want.HasPassword(expected), expected)
	}
	_, ok := want.Key(credrecovery.KeySystemMasterKey, systemGUID)
	assert.True(t, ok)
	key, ok := want.Key(credrecovery.KeyUserMasterKey, carolGUID)
	require.True(t, ok, "shared hash opens carol's master key")
	assert.Equal(t, carolMasterKey, key.Value)
	assert.Equal(t, 2, len(want.Resolved()), "alice NT and tom MSDCC2")
	assert.Equal(t, 2, want.Reports[hashchain.Name].Resolved)
	assert.Empty(t, want.Failures)

	rnd := rand.New(rand.NewSource(42)) // #nosec
	for i := 0; i < 10; i++ {
		modules := allModules(store)
		rnd.Shuffle(len(modules), func(i, j int) { modules[i], modules[j] = modules[j], modules[i] })
		assert.Equal(t, want.Fingerprint(), run(modules).Fingerprint(), "permutation %d", i)
	}

	// the shared hash is seen first from either account
	reversed := allModules(store)
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	assert.Equal(t, want.Fingerprint(), run(reversed).Fingerprint(), "reversed")
}

func TestRecovery_KnowledgeBase(t *testing.T) {
	url := filepath.Join(t.TempDir(), "knowledge.db")
	store := corpus(t)

	kb, err := knowledgebase.OpenSQLite(url)
	require.NoError(t, err)
	e := credrecovery.New(credrecovery.WithKnowledgeBase(kb))
	e.Register(allModules(store)...)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, kb.Close())

	kb, err = knowledgebase.OpenSQLite(url)
	require.NoError(t, err)
	defer kb.Close()

	password, found := kb.Lookup(string(credrecovery.HashMSDCC2), "e4e938d12fe5974dc42a90120bd9c90f")
	require.True(t, found)
	assert.Equal(t, "hashcat", password)

	// without case notes only the knowledge base knows the passwords
	hashes := credrecovery.New(credrecovery.WithKnowledgeBase(kb))
	hashes.Register(registry.New(store, nil), hashtest.New(nil))
	result, err := hashes.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Resolved(), 2)
	for _, p := range result.Passwords {
		if p.Value == "hashcat" || p.Value == "Summer2023!" {
			assert.Equal(t, credrecovery.CategoryKnowledgeBase, p.Category, p.Value)
		}
	}
	assert.Equal(t, 2, result.Reports[hashtest.Name].Attempted, "only bob's and carol's hashes reach hashtest")
	assert.Equal(t, 0, result.Reports[hashtest.Name].Resolved)
}
