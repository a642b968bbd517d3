package wallet

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

var ErrWatchOnly = errors.New("wallet is watch-only")

// Entry describes one configured wallet. SecretEnv names the environment
// variable holding a base58 secret; PublicKey alone makes it watch-only.
type Entry struct {
	ID        string `yaml:"id" validate:"required"`
	SecretEnv string `yaml:"secret_env"`
	PublicKey string `yaml:"public_key"`
}

type signer struct {
	pub  string
	priv ed25519.PrivateKey
}

func (s *signer) PublicKey() string { return s.pub }

func (s *signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

type watchOnly struct{ pub string }

func (w watchOnly) PublicKey() string { return w.pub }

func (w watchOnly) Sign([]byte) ([]byte, error) { return nil, ErrWatchOnly }

// Keyring resolves wallet ids to signing handles. Key material never leaves it.
type Keyring struct {
	mu      sync.RWMutex
	signers map[string]service.Signer
	log     *logger.Logger
}

func NewKeyring(log *logger.Logger) *Keyring {
	return &Keyring{signers: make(map[string]service.Signer), log: log.Named("keyring")}
}

// Load adds every entry, reading secrets through lookup (os.LookupEnv when nil).
func (k *Keyring) Load(entries []Entry, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	for _, e := range entries {
		var err error
		switch {
		case e.SecretEnv != "":
			secret, ok := lookup(e.SecretEnv)
			if !ok || secret == "" {
				err = fmt.Errorf("wallet %s: env %s is not set", e.ID, e.SecretEnv)
				break
			}
			err = k.AddSecret(e.ID, secret)
		case e.PublicKey != "":
			err = k.AddWatchOnly(e.ID, e.PublicKey)
		default:
			err = fmt.Errorf("wallet %s: secret_env or public_key required", e.ID)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddSecret accepts a base58 64-byte keypair or a 32-byte seed.
func (k *Keyring) AddSecret(id, secret string) error {
	raw, err := base58.Decode(secret)
	if err != nil {
		return fmt.Errorf("wallet %s: decode secret: %w", id, err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
			return fmt.Errorf("wallet %s: keypair public half does not match seed", id)
		}
	default:
		return fmt.Errorf("wallet %s: secret must be 32 or 64 bytes, got %d", id, len(raw))
	}
	pub := base58.Encode(priv.Public().(ed25519.PublicKey))
	k.put(id, &signer{pub: pub, priv: priv})
	k.log.Info("wallet loaded", logger.String("wallet_id", id), logger.String("public_key", pub))
	return nil
}

func (k *Keyring) AddWatchOnly(id, publicKey string) error {
	if !ValidPublicKey(publicKey) {
		return fmt.Errorf("wallet %s: %q is not a valid ed25519 public key", id, publicKey)
	}
	k.put(id, watchOnly{pub: publicKey})
	k.log.Info("watch-only wallet loaded", logger.String("wallet_id", id), logger.String("public_key", publicKey))
	return nil
}

func (k *Keyring) put(id string, s service.Signer) {
	k.mu.Lock()
	k.signers[id] = s
	k.mu.Unlock()
}

func (k *Keyring) SigningHandle(walletID string) (service.Signer, error) {
	k.mu.RLock()
	s, ok := k.signers[walletID]
	k.mu.RUnlock()
	if !ok {
		return nil, models.NotFoundf("wallet %s", walletID)
	}
	return s, nil
}

// IDs returns the loaded wallet ids in sorted order.
func (k *Keyring) IDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.signers))
	for id := range k.signers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidPublicKey reports whether s decodes to a canonical curve point.
func ValidPublicKey(s string) bool {
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
