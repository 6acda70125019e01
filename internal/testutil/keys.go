package testutil

import (
	"sync"
	"testing"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
)

var (
	keysOnce  sync.Once
	clientKey *fhe.ClientKey
	serverKey *fhe.ServerKey
	keysErr   error
)

// Keys returns a key pair for the insecure test preset. Key generation is
// slow, so the pair is generated once per test binary and shared.
func Keys(t testing.TB) (*fhe.ClientKey, *fhe.ServerKey) {
	t.Helper()
	keysOnce.Do(func() {
		var params fhe.Parameters
		params, keysErr = fhe.NewParameters(fhe.PresetTest)
		if keysErr != nil {
			return
		}
		clientKey, serverKey, keysErr = fhe.GenerateKeys(params)
	})
	if keysErr != nil {
		t.Fatalf("generate test keys: %v", keysErr)
	}
	return clientKey, serverKey
}

// Encryptor returns an encryptor for the shared test client key.
func Encryptor(t testing.TB) *fhe.Encryptor {
	t.Helper()
	ck, _ := Keys(t)
	return fhe.NewEncryptor(ck)
}

// Decryptor returns a decryptor for the shared test client key.
func Decryptor(t testing.TB) *fhe.Decryptor {
	t.Helper()
	ck, _ := Keys(t)
	return fhe.NewDecryptor(ck)
}
