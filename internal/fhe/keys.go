package fhe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/mahmudsudo/encrypted-sql/internal/wire"
)

// Key file names inside a key directory.
const (
	ClientKeyFile = "client.key"
	ServerKeyFile = "server.key"
)

// Frame tags of key streams.
const (
	tagPreset     byte = 0x01
	tagSecretKey  byte = 0x02
	tagPublicKey  byte = 0x03
	tagEvalKeySet byte = 0x04
)

// ClientKey is held by the query issuer. It encrypts literals and table
// cells and decrypts results. It must never reach the evaluator.
type ClientKey struct {
	Params Parameters
	sk     *rlwe.SecretKey
	pk     *rlwe.PublicKey
}

// ServerKey is everything the evaluator needs: the public key (to encrypt
// constants) and the relinearisation and rotation keys.
type ServerKey struct {
	Params Parameters
	pk     *rlwe.PublicKey
	evk    *rlwe.MemEvaluationKeySet
}

// GenerateKeys creates a fresh client/server key pair for params.
func GenerateKeys(params Parameters) (*ClientKey, *ServerKey, error) {
	kgen := rlwe.NewKeyGenerator(params.bgv)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)
	gks := kgen.GenGaloisKeysNew(params.bgv.GaloisElements(rotations()), sk)
	evk := rlwe.NewMemEvaluationKeySet(rlk, gks...)

	return &ClientKey{Params: params, sk: sk, pk: pk},
		&ServerKey{Params: params, pk: pk, evk: evk},
		nil
}

// WriteTo serialises the client key.
func (k *ClientKey) WriteTo(w io.Writer) (int64, error) {
	return writeKey(w, k.Params, map[byte]binaryMarshaler{
		tagSecretKey: k.sk,
		tagPublicKey: k.pk,
	})
}

// WriteTo serialises the server key.
func (k *ServerKey) WriteTo(w io.Writer) (int64, error) {
	return writeKey(w, k.Params, map[byte]binaryMarshaler{
		tagPublicKey:  k.pk,
		tagEvalKeySet: k.evk,
	})
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

func writeKey(w io.Writer, params Parameters, parts map[byte]binaryMarshaler) (int64, error) {
	cw := &wire.CountingWriter{W: w}
	fw, err := wire.NewWriter(cw, wire.KindKey)
	if err != nil {
		return cw.N, err
	}
	if err := fw.Write(tagPreset, []byte(params.preset)); err != nil {
		return cw.N, err
	}
	// Fixed order keeps key files byte-stable for a given key.
	for _, tag := range []byte{tagSecretKey, tagPublicKey, tagEvalKeySet} {
		m, ok := parts[tag]
		if !ok {
			continue
		}
		b, err := m.MarshalBinary()
		if err != nil {
			return cw.N, fmt.Errorf("marshal key part 0x%02x: %w", tag, err)
		}
		if err := fw.Write(tag, b); err != nil {
			return cw.N, err
		}
	}
	err = fw.Flush()
	return cw.N, err
}

// readKey parses a key stream into its preset and raw parts.
func readKey(r io.Reader) (Parameters, map[byte][]byte, error) {
	fr, err := wire.NewReader(r, wire.KindKey)
	if err != nil {
		return Parameters{}, nil, err
	}
	parts := make(map[byte][]byte)
	for {
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Parameters{}, nil, err
		}
		parts[f.Tag] = f.Payload
	}
	preset, ok := parts[tagPreset]
	if !ok {
		return Parameters{}, nil, fmt.Errorf("key stream has no parameter preset")
	}
	params, err := NewParameters(string(preset))
	if err != nil {
		return Parameters{}, nil, err
	}
	return params, parts, nil
}

// ReadClientKey parses a client key written by ClientKey.WriteTo.
func ReadClientKey(r io.Reader) (*ClientKey, error) {
	params, parts, err := readKey(r)
	if err != nil {
		return nil, err
	}
	skb, ok := parts[tagSecretKey]
	if !ok {
		return nil, fmt.Errorf("not a client key: no secret key")
	}
	sk := new(rlwe.SecretKey)
	if err := sk.UnmarshalBinary(skb); err != nil {
		return nil, fmt.Errorf("unmarshal secret key: %w", err)
	}
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(parts[tagPublicKey]); err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	return &ClientKey{Params: params, sk: sk, pk: pk}, nil
}

// ReadServerKey parses a server key written by ServerKey.WriteTo.
// A client key stream is rejected: the evaluator must not hold a secret key.
func ReadServerKey(r io.Reader) (*ServerKey, error) {
	params, parts, err := readKey(r)
	if err != nil {
		return nil, err
	}
	if _, ok := parts[tagSecretKey]; ok {
		return nil, fmt.Errorf("refusing to load a secret key as a server key")
	}
	evkb, ok := parts[tagEvalKeySet]
	if !ok {
		return nil, fmt.Errorf("not a server key: no evaluation keys")
	}
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(parts[tagPublicKey]); err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	evk := new(rlwe.MemEvaluationKeySet)
	if err := evk.UnmarshalBinary(evkb); err != nil {
		return nil, fmt.Errorf("unmarshal evaluation keys: %w", err)
	}
	return &ServerKey{Params: params, pk: pk, evk: evk}, nil
}

// SaveKeys writes client.key and server.key into dir, creating it if needed.
// The client key file is created with owner-only permissions.
func SaveKeys(dir string, ck *ClientKey, sk *ServerKey) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := writeFile(filepath.Join(dir, ClientKeyFile), 0o600, ck.WriteTo); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, ServerKeyFile), 0o644, sk.WriteTo)
}

func writeFile(path string, perm os.FileMode, write func(io.Writer) (int64, error)) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// LoadClientKey reads dir/client.key.
func LoadClientKey(dir string) (*ClientKey, error) {
	f, err := os.Open(filepath.Join(dir, ClientKeyFile))
	if err != nil {
		return nil, fmt.Errorf("open client key: %w", err)
	}
	defer f.Close()
	return ReadClientKey(f)
}

// LoadServerKey reads dir/server.key.
func LoadServerKey(dir string) (*ServerKey, error) {
	f, err := os.Open(filepath.Join(dir, ServerKeyFile))
	if err != nil {
		return nil, fmt.Errorf("open server key: %w", err)
	}
	defer f.Close()
	return ReadServerKey(f)
}
