package app

import (
	"crypto"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// InitCodec builds the token codec from the configured keys.
//
// Key sources:
//   - AUTH_SIGNING_KEY_FILE set: the PEM private key is loaded and its type
//     decides the algorithm. Tokens survive restarts.
//   - AUTH_SIGNING_KEY_FILE empty: a key for AUTH_ALGORITHM is generated and
//     kept in memory. Every token is invalid after a restart.
//
// AUTH_VERIFY_KEY_FILES lists PEM public keys of retired signing keys. They
// still verify tokens but never sign.
func InitCodec(cfg Config, logger *slog.Logger) (*jwtx.Codec, error) {
	var (
		signer jwtx.Signer
		err    error
	)

	if cfg.SigningKeyFile != "" {
		raw, rerr := os.ReadFile(filepath.Clean(cfg.SigningKeyFile))
		if rerr != nil {
			return nil, fmt.Errorf("read signing key: %w", rerr)
		}
		signer, err = jwtx.LoadSignerPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("load signing key %s: %w", cfg.SigningKeyFile, err)
		}
		if signer.Alg() != cfg.Algorithm {
			logger.Warn("signing key algorithm overrides AUTH_ALGORITHM",
				"configured", cfg.Algorithm,
				"key", signer.Alg(),
			)
		}
	} else {
		signer, err = jwtx.GenerateSigner(cfg.Algorithm, 0)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		logger.Warn("using an ephemeral signing key, tokens will not survive a restart")
	}

	previous, err := loadVerifyKeys(cfg.VerifyKeyFiles)
	if err != nil {
		return nil, err
	}

	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		Issuer:   cfg.Issuer,
		Signer:   signer,
		Previous: previous,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("signing key ready",
		"algorithm", codec.Algorithm(),
		"kid", codec.ActiveKID(),
		"verify_only_keys", len(previous),
		"issuer", cfg.Issuer,
	)
	return codec, nil
}

func loadVerifyKeys(paths []string) ([]crypto.PublicKey, error) {
	keys := make([]crypto.PublicKey, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		raw, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			return nil, fmt.Errorf("read verify key: %w", err)
		}
		pub, err := cryptox.ParsePublicKeyPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("load verify key %s: %w", p, err)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}
