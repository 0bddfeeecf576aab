package seed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentafleet/orchestrator/orchestrator"
)

type fakeUserStore struct {
	existing map[string]bool
	inserted []AdminUser
	failFind error
}

func (f *fakeUserStore) AdminExists(ctx context.Context, email string) (bool, error) {
	if f.failFind != nil {
		return false, f.failFind
	}
	return f.existing[email], nil
}

func (f *fakeUserStore) InsertAdmin(ctx context.Context, user AdminUser) error {
	f.inserted = append(f.inserted, user)
	return nil
}

func TestExtractBcryptHash(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{
			name:   "clean output",
			output: "$2b$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW",
			want:   "$2b$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW",
			ok:     true,
		},
		{
			name:   "hash surrounded by interpreter noise",
			output: "WARNING: pip is old\n$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW\n",
			want:   "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW",
			ok:     true,
		},
		{
			name:   "no hash present",
			output: "ModuleNotFoundError: No module named 'passlib'",
			ok:     false,
		},
		{
			name:   "truncated hash rejected",
			output: "$2b$12$tooshort",
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractBcryptHash(tt.output)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func hashCommandFor(payload string) string {
	return `python3 -c "from passlib.context import CryptContext; print(CryptContext(schemes=['bcrypt']).hash('` +
		payload + `'))"`
}

func TestHashCommandEscapesShellAndPythonMetacharacters(t *testing.T) {
	tests := []struct {
		name     string
		password string
		payload  string
	}{
		{
			name:     "plain",
			password: "s3cret",
			payload:  "s3cret",
		},
		{
			// $word would be expanded by the shell inside double quotes,
			// hashing "pa" instead of the real password
			name:     "dollar sign",
			password: "pa$word",
			payload:  `pa\$word`,
		},
		{
			name:     "single quote",
			password: "it's",
			payload:  `it\\'s`,
		},
		{
			name:     "double quote",
			password: `a"b`,
			payload:  `a\"b`,
		},
		{
			name:     "backtick",
			password: "a`b",
			payload:  "a\\`b",
		},
		{
			name:     "backslash",
			password: `a\b`,
			payload:  `a\\\\b`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, hashCommandFor(tt.payload), HashCommand(tt.password))
		})
	}
}

func TestLocalBcryptHashRoundTrip(t *testing.T) {
	hash, err := LocalBcryptHash("s3cret")
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "s3cret"))
	assert.False(t, VerifyPassword(hash, "wrong"))
}

func TestEnsureAdminCreatesUser(t *testing.T) {
	mock := orchestrator.NewMockClient()
	mock.AddContainer("acme_backend", orchestrator.StateRunning)
	mock.ExecOutput["acme_backend"] = "$2b$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

	store := &fakeUserStore{existing: map[string]bool{}}
	seeder := NewSeeder(mock, nil)

	result, err := seeder.EnsureAdmin(context.Background(), store, "acme_backend", "admin@acme.example.com", "s3cret")
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.True(t, result.HashedInContainer)

	require.Len(t, store.inserted, 1)
	user := store.inserted[0]
	assert.Equal(t, "admin@acme.example.com", user.Email)
	assert.Equal(t, "$2b$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW", user.PasswordHash)
	assert.Equal(t, "firma_admin", user.Role)
	assert.True(t, user.IsActive)
	assert.Nil(t, user.CompanyID)
	assert.NotEmpty(t, user.ID)
}

func TestEnsureAdminIdempotent(t *testing.T) {
	mock := orchestrator.NewMockClient()
	store := &fakeUserStore{existing: map[string]bool{"admin@acme.example.com": true}}
	seeder := NewSeeder(mock, nil)

	result, err := seeder.EnsureAdmin(context.Background(), store, "acme_backend", "admin@acme.example.com", "s3cret")
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Empty(t, store.inserted)
	assert.Empty(t, mock.Execs, "no hashing work when the admin already exists")
}

func TestEnsureAdminFallsBackToLocalHash(t *testing.T) {
	// Backend container missing entirely, exec will fail
	mock := orchestrator.NewMockClient()
	store := &fakeUserStore{existing: map[string]bool{}}
	seeder := NewSeeder(mock, nil)

	result, err := seeder.EnsureAdmin(context.Background(), store, "acme_backend", "admin@acme.example.com", "s3cret")
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.False(t, result.HashedInContainer)

	require.Len(t, store.inserted, 1)
	assert.True(t, VerifyPassword(store.inserted[0].PasswordHash, "s3cret"))
}

func TestEnsureAdminStoreFailure(t *testing.T) {
	mock := orchestrator.NewMockClient()
	store := &fakeUserStore{failFind: errors.New("connection refused")}
	seeder := NewSeeder(mock, nil)

	_, err := seeder.EnsureAdmin(context.Background(), store, "acme_backend", "admin@acme.example.com", "s3cret")
	assert.Error(t, err)
}
