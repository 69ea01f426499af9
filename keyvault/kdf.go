package keyvault

import (
	"crypto/sha256"
	"fmt"

	"github.com/alwitt/quickvault/encryption"
	"github.com/alwitt/quickvault/models"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDFSaltLen salt length for new passphrase slots
const KDFSaltLen = 16

const (
	defaultPBKDF2Iterations = 200000

	defaultArgon2MemoryKiB uint32 = 64 * 1024
	defaultArgon2Time      uint32 = 3
	defaultArgon2Threads   uint8  = 4
)

// DefaultKDFParams the parameters written into new passphrase slots
func DefaultKDFParams(algorithm models.KDFAlgorithmENUMType) models.KDFParams {
	switch algorithm {
	case models.KDFAlgorithmArgon2id:
		return models.KDFParams{
			Algorithm: models.KDFAlgorithmArgon2id,
			MemoryKiB: defaultArgon2MemoryKiB,
			Time:      defaultArgon2Time,
			Threads:   defaultArgon2Threads,
			KeyLen:    encryption.DataKeyLen,
		}
	default:
		return models.KDFParams{
			Algorithm:  models.KDFAlgorithmPBKDF2,
			Iterations: defaultPBKDF2Iterations,
			KeyLen:     encryption.DataKeyLen,
		}
	}
}

/*
DeriveWrappingKey stretch a passphrase into a KEK wrapping key

The parameters recorded in the slot are honored as is, so slots written under
older defaults keep unlocking.

	@param passphrase string - the vault passphrase
	@param salt []byte - the slot's KDF salt
	@param params models.KDFParams - the slot's KDF parameters
	@return the wrapping key
*/
func DeriveWrappingKey(
	passphrase string, salt []byte, params models.KDFParams,
) ([]byte, error) {
	switch params.Algorithm {
	case models.KDFAlgorithmPBKDF2:
		if params.Iterations <= 0 {
			return nil, fmt.Errorf("PBKDF2 slot carries no iteration count")
		}
		return pbkdf2.Key(
			[]byte(passphrase), salt, params.Iterations, params.KeyLen, sha256.New,
		), nil

	case models.KDFAlgorithmArgon2id:
		if params.MemoryKiB == 0 || params.Time == 0 || params.Threads == 0 {
			return nil, fmt.Errorf("Argon2id slot carries incomplete cost parameters")
		}
		return argon2.IDKey(
			[]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Threads,
			uint32(params.KeyLen),
		), nil
	}

	return nil, fmt.Errorf("unsupported KDF algorithm '%s'", params.Algorithm)
}
