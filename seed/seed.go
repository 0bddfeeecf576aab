// Package seed creates the initial admin user in a freshly provisioned
// tenant database.
//
// Password hashing runs inside the tenant's own backend container so the
// stored hash is produced by the exact library version that container will
// later verify against. A local bcrypt fallback covers the case where the
// container is not reachable; bcrypt output is interoperable, the in-container
// path just removes any doubt about algorithm parameters.
package seed

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rentafleet/orchestrator/common"
	"github.com/rentafleet/orchestrator/orchestrator"
)

// bcryptPattern matches a full bcrypt hash in command output, ignoring any
// warnings the interpreter prints around it.
var bcryptPattern = regexp.MustCompile(`\$2[aby]\$\d+\$[A-Za-z0-9./]{53}`)

// AdminUser is the seeded admin document in the tenant's users collection.
// Field layout must match what the tenant backend expects at login.
type AdminUser struct {
	ID           string  `bson:"id"`
	Email        string  `bson:"email"`
	PasswordHash string  `bson:"password_hash"`
	FullName     string  `bson:"full_name"`
	Role         string  `bson:"role"`
	CompanyID    *string `bson:"company_id"`
	IsActive     bool    `bson:"is_active"`
	CreatedAt    string  `bson:"created_at"`
}

// UserStore abstracts the tenant users collection.
type UserStore interface {
	// AdminExists reports whether a user with the given email is present.
	AdminExists(ctx context.Context, email string) (bool, error)

	// InsertAdmin stores the admin document.
	InsertAdmin(ctx context.Context, user AdminUser) error
}

// Result reports what EnsureAdmin did.
type Result struct {
	// Created is false when an admin with the email already existed.
	Created bool

	// HashedInContainer is false when the local bcrypt fallback was used.
	HashedInContainer bool
}

// Seeder provisions admin users for tenant databases.
type Seeder struct {
	client orchestrator.Client
	log    *common.ContextLogger
}

// NewSeeder creates a seeder. A nil logger falls back to the global one.
func NewSeeder(client orchestrator.Client, log *common.ContextLogger) *Seeder {
	if log == nil {
		log = common.ServiceLogger(nil, "seed")
	}
	return &Seeder{client: client, log: log}
}

// EnsureAdmin inserts the tenant's admin user unless one already exists for
// the email. The password hash is computed inside backendContainer when
// possible.
func (s *Seeder) EnsureAdmin(ctx context.Context, users UserStore, backendContainer, email, password string) (Result, error) {
	exists, err := users.AdminExists(ctx, email)
	if err != nil {
		return Result{}, fmt.Errorf("check existing admin: %w", err)
	}
	if exists {
		s.log.WithField("email", email).Info("admin user already exists, leaving it untouched")
		return Result{Created: false}, nil
	}

	hash, inContainer := s.hashPassword(ctx, backendContainer, password)

	user := AdminUser{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		FullName:     "Firma Admin",
		Role:         "firma_admin",
		CompanyID:    nil,
		IsActive:     true,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}

	if err := users.InsertAdmin(ctx, user); err != nil {
		return Result{}, fmt.Errorf("insert admin user: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"email":               email,
		"hashed_in_container": inContainer,
	}).Info("admin user created")

	return Result{Created: true, HashedInContainer: inContainer}, nil
}

// hashPassword tries the in-container hash first and falls back to a local
// bcrypt hash on any failure.
func (s *Seeder) hashPassword(ctx context.Context, backendContainer, password string) (string, bool) {
	if backendContainer != "" {
		hash, err := s.hashInContainer(ctx, backendContainer, password)
		if err == nil {
			return hash, true
		}
		s.log.WithError(err).Warn("in-container hash failed, using local bcrypt fallback")
	}

	hash, err := LocalBcryptHash(password)
	if err != nil {
		// bcrypt only fails on absurd cost or oversize input, neither
		// applies here
		panic(fmt.Sprintf("local bcrypt hash failed: %v", err))
	}
	return hash, false
}

func (s *Seeder) hashInContainer(ctx context.Context, container, password string) (string, error) {
	output, err := s.client.Exec(ctx, container, []string{"sh", "-c", HashCommand(password)})
	if err != nil {
		return "", err
	}

	hash, ok := ExtractBcryptHash(output)
	if !ok {
		return "", fmt.Errorf("no bcrypt hash in exec output (%d bytes)", len(output))
	}
	return hash, nil
}

// HashCommand builds the shell command that prints a bcrypt hash of the
// password using the backend's own hashing library.
//
// The password crosses two interpreters: the shell (the command sits inside
// double quotes) and Python (the password sits inside a single-quoted
// literal). Escape for Python first, then for the shell's double-quote rules,
// where $, backtick, double quote, and backslash stay live.
func HashCommand(password string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(password)
	escaped = strings.NewReplacer(`\`, `\\`, `$`, `\$`, "`", "\\`", `"`, `\"`).Replace(escaped)
	return fmt.Sprintf(
		`python3 -c "from passlib.context import CryptContext; print(CryptContext(schemes=['bcrypt']).hash('%s'))"`,
		escaped)
}

// ExtractBcryptHash finds the first bcrypt hash in command output.
func ExtractBcryptHash(output string) (string, bool) {
	match := bcryptPattern.FindString(output)
	return match, match != ""
}

// LocalBcryptHash hashes the password in-process.
func LocalBcryptHash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a password against a bcrypt hash. Exposed for the
// provisioning smoke test that validates the seeded credentials.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
