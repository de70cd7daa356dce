package hashchain

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

const account = "S-1-5-21-1111111111-2222222222-3333333333-1001"

var passwords = []string{"current", "previous", "older", "oldest"}

func setup(t *testing.T) *Module {
	fs := afero.NewMemMapFs()
	record, err := NewRecord(account, 10, passwords...)
	require.NoError(t, err)
	require.Len(t, record.Entries, 3)
	moduletest.WriteJSON(t, fs, "Users/alice/AppData/Roaming/Microsoft/Protect/CREDHIST.json", record)
	moduletest.WriteFile(t, fs, "Users/bob/AppData/Roaming/Microsoft/Protect/CREDHIST.json", []byte(`{"entries": []}`))

	m := New(evidence.New(fs), nil)
	require.NoError(t, m.Discover(context.Background(), &moduletest.Recorder{}))
	require.Len(t, m.entries, 3)
	return m
}

func TestModule_Chain(t *testing.T) {
	m := setup(t)
	ctx := context.Background()
	out := &moduletest.Recorder{}

	require.NoError(t, m.OnPassword(ctx, credrecovery.NewPassword(credrecovery.CategoryCaseSupplied, "current", "", nil), out))
	require.Len(t, out.Hashes, 2)

	for i, want := range passwords[1:] {
		require.Len(t, out.Hashes, 2, "link %d", i)
		sha1, nt := out.Hashes[0], out.Hashes[1]
		assert.Equal(t, credrecovery.HashSHA1UTF16, sha1.Kind)
		assert.Equal(t, sealed.SHA1UTF16(want), sha1.Value)
		assert.Equal(t, credrecovery.HashNT, nt.Kind)
		assert.Equal(t, sealed.NTHash(want), nt.Value)

		index, _ := nt.Provenance.Get("index")
		assert.Equal(t, []string{account, "Users/alice/AppData/Roaming/Microsoft/Protect/CREDHIST.json"},
			[]string{nt.Provenance[0].Value, nt.Provenance[1].Value})
		assert.Equal(t, []string{"0", "1", "2"}[i], index)

		out.Reset()
		require.NoError(t, m.OnHash(ctx, nt, out))
		assert.Equal(t, 0, out.Len(), "entries are sealed with sha1")
		require.NoError(t, m.OnHash(ctx, sha1, out))
	}
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, credrecovery.Report{Attempted: 3, Resolved: 3}, m.Report())
}

func TestModule_OnHash(t *testing.T) {
	tests := []struct {
		name     string
		hash     credrecovery.Hash
		wantHash int
	}{
		{"unrelated kind", credrecovery.NewHash(credrecovery.HashMSDCC2, sealed.SHA1UTF16("current"), nil), 0},
		{"oldest password seals nothing", credrecovery.NewHash(credrecovery.HashSHA1UTF16, sealed.SHA1UTF16("oldest"), nil), 0},
		{"middle of chain", credrecovery.NewHash(credrecovery.HashSHA1UTF16, sealed.SHA1UTF16("previous"), nil), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := setup(t)
			out := &moduletest.Recorder{}
			require.NoError(t, m.OnHash(context.Background(), tt.hash, out))
			assert.Len(t, out.Hashes, tt.wantHash)
		})
	}
}

func TestModule_ShortEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	blob, err := sealed.SealWithPassword(account, "current", []byte("short"), 10)
	require.NoError(t, err)
	moduletest.WriteJSON(t, fs, "CREDHIST.json", Record{Account: account, Entries: []RecordEntry{{Blob: blob}}})

	m := New(evidence.New(fs), nil)
	require.NoError(t, m.Discover(context.Background(), &moduletest.Recorder{}))

	out := &moduletest.Recorder{}
	require.NoError(t, m.OnPassword(context.Background(), credrecovery.NewPassword(credrecovery.CategoryCaseSupplied, "current", "", nil), out))
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, 0, m.Report().Resolved)
}
