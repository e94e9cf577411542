// Package account loads the signing accounts the keeper checks in for.
//
// The store is read once at startup and never mutated afterwards, so it is
// shared freely between the scheduler and the executor.
package account

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/lo"
)

var ErrNoAccounts = errors.New("no valid private keys found")

var keyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// Hex returns the lowercase 0x-prefixed address.
func (a Account) Hex() string {
	return strings.ToLower(a.Address.Hex())
}

func (a Account) String() string { return a.Hex() }

// ParseKey validates a raw hex private key and derives its account.
func ParseKey(raw string) (Account, error) {
	s := strings.TrimSpace(raw)
	if !keyPattern.MatchString(s) {
		return Account{}, fmt.Errorf("key does not match %s", keyPattern)
	}
	prv, err := crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Account{}, err
	}
	return Account{
		Address: crypto.PubkeyToAddress(prv.PublicKey),
		Key:     prv,
	}, nil
}

type Store struct {
	accounts []Account
	index    map[common.Address]int
	dropped  int
}

// Parse reads one key per line. Blank, comment and malformed lines are
// skipped; repeated keys keep their first position.
func Parse(r io.Reader) (*Store, error) {
	var (
		accounts []Account
		dropped  int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		acct, err := ParseKey(line)
		if err != nil {
			dropped++
			continue
		}
		accounts = append(accounts, acct)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}

	accounts = lo.UniqBy(accounts, func(a Account) common.Address { return a.Address })
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return NewStore(accounts, dropped), nil
}

func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keys: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

func NewStore(accounts []Account, dropped int) *Store {
	s := &Store{
		accounts: accounts,
		index:    make(map[common.Address]int, len(accounts)),
		dropped:  dropped,
	}
	for i, a := range accounts {
		s.index[a.Address] = i
	}
	return s
}

// All returns the accounts in file order. Callers must not modify the slice.
func (s *Store) All() []Account { return s.accounts }

func (s *Store) Len() int { return len(s.accounts) }

// Dropped is the number of malformed lines skipped while loading.
func (s *Store) Dropped() int { return s.dropped }

func (s *Store) Addresses() []string {
	return lo.Map(s.accounts, func(a Account, _ int) string { return a.Hex() })
}

func (s *Store) Index(addr common.Address) (int, bool) {
	i, ok := s.index[addr]
	return i, ok
}

// Recipient returns the address sender checks in for: the next account in
// file order, wrapping around. With a single account, or a sender that is
// not in the store, it returns def.
func (s *Store) Recipient(sender common.Address, def common.Address) common.Address {
	if len(s.accounts) < 2 {
		return def
	}
	i, ok := s.index[sender]
	if !ok {
		return def
	}
	return s.accounts[(i+1)%len(s.accounts)].Address
}
