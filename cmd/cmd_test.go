package cmd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/forensicanalysis/credrecovery/config"
	"github.com/forensicanalysis/credrecovery/export"
	"github.com/forensicanalysis/credrecovery/modules/registry"
	"github.com/forensicanalysis/credrecovery/sealed"
)

const password = "Summer2023!"

func writeFile(t *testing.T, name string, content []byte) {
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o700))
	require.NoError(t, os.WriteFile(name, content, 0o600))
}

func setup(t *testing.T) string {
	dir := filepath.Join(t.TempDir(), "evidence")
	writeFile(t, filepath.Join(dir, "case", "notes.txt"), []byte("password: "+password+"\n"))

	sam, err := json.Marshal([]registry.Key{
		registry.NewKey(`HKEY_LOCAL_MACHINE\SAM\SAM\Domains\Account\Users\000003E9`,
			registry.Value{Name: "UserName", Data: "alice"},
			registry.Value{Name: "NTHash", Data: hex.EncodeToString(sealed.NTHash(password))},
		),
	})
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "Windows", "System32", "config", "registry", "SAM.json"), sam)
	return dir
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetArgs(args)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return buf.String(), err
}

func TestRecover(t *testing.T) {
	dir := setup(t)
	kb := filepath.Join(t.TempDir(), "kb.db")

	output, err := execute(Recover(), dir, "--kb", kb)
	require.NoError(t, err)

	hash := gjson.Get(output, `elements.#(type=="`+export.TypeHash+`")`)
	require.True(t, hash.Exists(), output)
	assert.Equal(t, "NT", hash.Get("kind").String())
	assert.True(t, hash.Get("resolved").Bool())
	assert.Equal(t, password, hash.Get("password").String())
	assert.Equal(t, int64(1), gjson.Get(output, "reports.hashtest.resolved").Int())

	output, err = execute(Lookup(), "nt", hex.EncodeToString(sealed.NTHash(password)), "--kb", kb)
	require.NoError(t, err)
	assert.Equal(t, password+"\n", output)
}

func TestRecover_Modules(t *testing.T) {
	dir := setup(t)

	output, err := execute(Recover(), dir, "--module", "casenotes", "-p", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.Get(output, "elements.#").Int())
	assert.False(t, gjson.Get(output, "reports.registry").Exists())
	assert.Equal(t, "case-supplied", gjson.Get(output, `elements.#(value=="hunter2").category`).String())
}

func TestRecover_Wordlist(t *testing.T) {
	dir := setup(t)
	wordlist := filepath.Join(t.TempDir(), "words.txt")
	writeFile(t, wordlist, []byte("123456\n"+password+"\n"))

	output, err := execute(Recover(), dir, "--module", "registry,hashtest", "--wordlist", wordlist)
	require.NoError(t, err)
	assert.Equal(t, password, gjson.Get(output, `elements.#(type=="`+export.TypeHash+`").password`).String())
}

func TestRecover_Errors(t *testing.T) {
	dir := setup(t)
	tests := []struct {
		name string
		args []string
	}{
		{"no evidence", nil},
		{"missing evidence", []string{filepath.Join(dir, "missing")}},
		{"unknown module", []string{dir, "--module", "mimikatz"}},
		{"missing config", []string{dir, "--config", filepath.Join(dir, "missing.yml")}},
		{"missing wordlist", []string{dir, "--wordlist", filepath.Join(dir, "missing.txt")}},
		{"too many args", []string{dir, dir}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(Recover(), tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credrecovery.yml")
	writeFile(t, path, []byte("evidence: from-file\nknowledge_base: file.db\ncase_passwords: [a]\n"))

	tests := []struct {
		name       string
		configPath string
		flags      config.Config
		args       []string
		want       config.Config
		wantErr    bool
	}{
		{"args", "", config.Config{}, []string{"image.sqlar"}, config.Config{
			Evidence: "image.sqlar", RedisPrefix: "credrecovery", Notes: "**/*notes*.txt",
		}, false},
		{"file", path, config.Config{}, nil, config.Config{
			Evidence: "from-file", KnowledgeBase: "file.db", RedisPrefix: "credrecovery",
			Notes: "**/*notes*.txt", CasePasswords: []string{"a"},
		}, false},
		{"flags win", path, config.Config{KnowledgeBase: "flag.db"}, []string{"arg"}, config.Config{
			Evidence: "arg", KnowledgeBase: "flag.db", RedisPrefix: "credrecovery",
			Notes: "**/*notes*.txt", CasePasswords: []string{"a"},
		}, false},
		{"no evidence", "", config.Config{}, nil, config.Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runConfig(tt.configPath, tt.flags, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("runConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookup(t *testing.T) {
	kb := filepath.Join(t.TempDir(), "kb.db")

	_, err := execute(Lookup(), "nt", "00")
	assert.Error(t, err)

	_, err = execute(Lookup(), "nt", "00", "--kb", kb)
	assert.True(t, errors.Is(err, ErrUnknownHash), err)
}

func TestPackLs(t *testing.T) {
	dir := setup(t)
	archive := filepath.Join(t.TempDir(), "evidence.sqlar")

	_, err := execute(Pack(), archive, dir)
	require.NoError(t, err)

	output, err := execute(Ls(), archive)
	require.NoError(t, err)
	assert.Equal(t, "Windows/System32/config/registry/SAM.json\ncase/notes.txt\n", output)

	output, err = execute(Ls(), archive, "**/*.txt")
	require.NoError(t, err)
	assert.Equal(t, "case/notes.txt\n", output)

	output, err = execute(Recover(), archive)
	require.NoError(t, err)
	assert.Equal(t, password, gjson.Get(output, `elements.#(type=="`+export.TypeHash+`").password`).String())

	_, err = execute(Pack(), archive, filepath.Join(dir, "case", "notes.txt"))
	assert.Error(t, err)
}
