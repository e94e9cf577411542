package account

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const (
	key1 = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	key2 = "0x8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	key3 = "6370fd033278c143179d81c5526140625662b8daa446c22ee2d73db3707e620c"
)

var defaultRecipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func TestParseKeyDeterministicLowercase(t *testing.T) {
	t.Parallel()

	a, err := ParseKey(key1)
	require.NoError(t, err)
	b, err := ParseKey("  0x" + strings.ToUpper(key1) + "\t")
	require.NoError(t, err)

	require.Equal(t, a.Address, b.Address)
	require.Equal(t, strings.ToLower(a.Hex()), a.Hex())
	require.True(t, strings.HasPrefix(a.Hex(), "0x"))
	require.Len(t, a.Hex(), 42)
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "0x", key1[:63], key1 + "0", "zz" + key1[2:]} {
		_, err := ParseKey(raw)
		require.Error(t, err, raw)
	}
}

func TestParseSkipsInvalidLines(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"# operator keys",
		key1,
		"",
		"not-a-key",
		key2,
		key1,
		"   ",
		key3,
	}, "\n")

	store, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 3, store.Len())
	require.Equal(t, 1, store.Dropped())

	a1, _ := ParseKey(key1)
	_, ok := store.Index(a1.Address)
	require.True(t, ok)
	require.Equal(t, a1.Hex(), store.Addresses()[0])
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader("\n# nothing\nbad\n"))
	require.ErrorIs(t, err, ErrNoAccounts)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte(key1+"\n"), 0o600))

	store, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestRecipientSingleAccount(t *testing.T) {
	t.Parallel()

	store, err := Parse(strings.NewReader(key1))
	require.NoError(t, err)

	sender := store.All()[0].Address
	require.Equal(t, defaultRecipient, store.Recipient(sender, defaultRecipient))
	require.Equal(t, defaultRecipient, store.Recipient(sender, defaultRecipient))
}

func TestRecipientRotation(t *testing.T) {
	t.Parallel()

	store, err := Parse(strings.NewReader(key1 + "\n" + key2 + "\n" + key3))
	require.NoError(t, err)

	all := store.All()
	n := len(all)
	for i, a := range all {
		got := store.Recipient(a.Address, defaultRecipient)
		require.Equal(t, all[(i+1)%n].Address, got)
		require.NotEqual(t, a.Address, got)
		require.Equal(t, got, store.Recipient(a.Address, defaultRecipient))
	}
}

func TestRecipientUnknownSender(t *testing.T) {
	t.Parallel()

	store, err := Parse(strings.NewReader(key1 + "\n" + key2))
	require.NoError(t, err)

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	require.Equal(t, defaultRecipient, store.Recipient(stranger, defaultRecipient))
}
