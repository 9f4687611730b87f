// Package seed creates the first administrator of a freshly installed application.
//
// Seeding only happens while the application's database file doesn't exist yet,
// so it runs once per data directory. The password is stored bcrypt hashed in the
// database; the plaintext only ends up in a recovery file inside the data directory
// and in the banner printed to the operator.
package seed

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/aexvir/launchpad"
)

const (
	// DatabaseFile is the application's database inside the data directory.
	DatabaseFile = "kuma.db"
	// RecoveryFile holds the plaintext credentials of the seeded administrator.
	RecoveryFile = "admin_credentials.txt"
	// DBConfigFile selects the database engine the application uses.
	DBConfigFile = "db-config.json"

	PasswordLength = 12
	Alphabet       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
)

// Source tells where the administrator password came from.
type Source string

const (
	SourceGenerated   Source = "GENERATED"
	SourceEnvironment Source = "ENV"
	// SourceExisting means the database already existed and nothing was seeded.
	SourceExisting Source = "EXISTING"
)

// Credential is the administrator account the seeder dealt with.
// Password is empty when Source is [SourceExisting].
type Credential struct {
	Username string
	Password string
	Source   Source
}

// Seeder seeds the administrator account.
type Seeder struct {
	// NewStore builds the store the administrator is written to.
	NewStore func() Store
	// Hash turns the plaintext password into the stored hash.
	Hash func(password string) (string, error)
	// Quiet disables the credential banner.
	Quiet bool
}

// New returns a seeder writing to the application's sqlite database with bcrypt hashes.
func New() *Seeder {
	return &Seeder{
		NewStore: func() Store { return NewSQLiteStore() },
		Hash:     HashPassword,
	}
}

// SeedAdminIfAbsent creates the administrator when dataDir has no database yet.
// An empty password gets replaced by a generated one. Any error leaves no database
// file behind, so the next start tries again.
func (s *Seeder) SeedAdminIfAbsent(ctx context.Context, dataDir, username, password string) (cred Credential, err error) {
	dbpath := filepath.Join(dataDir, DatabaseFile)

	if _, err := os.Stat(dbpath); err == nil {
		launchpad.LogDetail("database found, skipping setup")
		return Credential{Username: username, Source: SourceExisting}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Credential{}, fmt.Errorf("failed to inspect %s: %w", dbpath, err)
	}

	if strings.TrimSpace(username) == "" {
		return Credential{}, errors.New("admin username must be set")
	}

	cred = Credential{Username: username, Password: password, Source: SourceEnvironment}
	if password == "" {
		generated, err := GeneratePassword()
		if err != nil {
			return Credential{}, err
		}
		cred.Password = generated
		cred.Source = SourceGenerated
	}

	launchpad.LogDetail(fmt.Sprintf("creating admin %q (password source: %s)", cred.Username, cred.Source))

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Credential{}, fmt.Errorf("failed to create data directory: %w", err)
	}

	defer func() {
		if err != nil {
			removeDatabase(dbpath)
		}
	}()

	if err := s.store(ctx, dbpath, cred); err != nil {
		return Credential{}, err
	}

	if err := writeDBConfig(dataDir); err != nil {
		return Credential{}, err
	}

	if err := WriteRecoveryFile(dataDir, cred); err != nil {
		return Credential{}, err
	}

	if !s.Quiet {
		launchpad.Banner(
			"admin credentials",
			fmt.Sprintf("User: %s", cred.Username),
			fmt.Sprintf("Pass: %s", cred.Password),
			fmt.Sprintf("saved to %s", filepath.Join(dataDir, RecoveryFile)),
		)
	}

	return cred, nil
}

func (s *Seeder) store(ctx context.Context, dbpath string, cred Credential) (err error) {
	hash, err := s.Hash(cred.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	store := s.NewStore()
	if err := store.Open(ctx, dbpath); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}

	if err := store.InsertAdmin(ctx, cred.Username, hash); err != nil {
		return fmt.Errorf("failed to store admin: %w", err)
	}

	return nil
}

// GeneratePassword returns PasswordLength characters drawn uniformly from Alphabet.
func GeneratePassword() (string, error) {
	limit := big.NewInt(int64(len(Alphabet)))

	var bld strings.Builder
	bld.Grow(PasswordLength)
	for range PasswordLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		bld.WriteByte(Alphabet[n.Int64()])
	}

	return bld.String(), nil
}

// HashPassword hashes with bcrypt at the default cost, the format the application's login verifies.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// WriteRecoveryFile stores the plaintext credential pair for the operator, readable only by its owner.
func WriteRecoveryFile(dataDir string, cred Credential) error {
	path := filepath.Join(dataDir, RecoveryFile)
	content := fmt.Sprintf("User: %s\nPass: %s\n", cred.Username, cred.Password)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// writeDBConfig points the application at sqlite so it skips its database wizard.
// An existing file is left alone.
func writeDBConfig(dataDir string) error {
	path := filepath.Join(dataDir, DBConfigFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(`{"type":"sqlite"}`+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// removeDatabase deletes the database and its sqlite side files.
func removeDatabase(dbpath string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		_ = os.Remove(dbpath + suffix)
	}
}
