package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rithikrice/bondMatchPlus/logging"
	"github.com/rithikrice/bondMatchPlus/models"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidInput       = errors.New("invalid registration")
	ErrSelfDemotion       = errors.New("admins cannot remove their own admin role")
	ErrNoParticipant      = errors.New("participant not found")
)

const minPasswordLen = 6

// ParticipantRepository stores participant credentials.
type ParticipantRepository interface {
	Create(ctx context.Context, p models.Participant) error
	ByUsername(ctx context.Context, username string) (models.Participant, error)
	List(ctx context.Context) ([]models.Participant, error)
	SetRole(ctx context.Context, id, role string) (models.Participant, error)
}

type ParticipantService struct {
	repo   ParticipantRepository
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
	log    *logging.Logger
}

var GlobalParticipantService *ParticipantService

func NewParticipantService(repo ParticipantRepository, secret string, ttl time.Duration, log *logging.Logger) *ParticipantService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logging.NewTestLogger()
	}
	return &ParticipantService{
		repo:   repo,
		secret: []byte(secret),
		ttl:    ttl,
		clock:  time.Now,
		log:    log.Named("participants"),
	}
}

func (s *ParticipantService) Register(ctx context.Context, username, fullName, password string) (models.Participant, error) {
	return s.create(ctx, username, fullName, password, models.RoleParticipant)
}

// EnsureAdmin creates the admin account if the username is free. An existing
// account is left as is.
func (s *ParticipantService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.create(ctx, username, "Administrator", password, models.RoleAdmin)
	if errors.Is(err, ErrUsernameTaken) {
		return nil
	}
	if err == nil {
		s.log.Info("👤 admin account created", zap.String("username", username))
	}
	return err
}

func (s *ParticipantService) create(ctx context.Context, username, fullName, password, role string) (models.Participant, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.Participant{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return models.Participant{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Participant{}, fmt.Errorf("hash password: %w", err)
	}
	p := models.Participant{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     fullName,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

// Login checks the password and returns a signed token for the participant.
func (s *ParticipantService) Login(ctx context.Context, username, password string) (string, models.Participant, error) {
	p, err := s.repo.ByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNoParticipant) {
		return "", models.Participant{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", models.Participant{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return "", models.Participant{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(p)
	if err != nil {
		return "", models.Participant{}, err
	}
	return token, p, nil
}

func (s *ParticipantService) IssueToken(p models.Participant) (string, error) {
	claims := jwt.MapClaims{
		"participantId": p.ID,
		"role":          p.Role,
		"exp":           s.clock().Add(s.ttl).Unix(),
	}
	t, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return t, nil
}

func (s *ParticipantService) List(ctx context.Context) ([]models.Participant, error) {
	return s.repo.List(ctx)
}

// SetRole changes a participant's role. An admin may not demote themself.
func (s *ParticipantService) SetRole(ctx context.Context, actorID, id, role string) (models.Participant, error) {
	if role != models.RoleAdmin && role != models.RoleParticipant {
		return models.Participant{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if id == actorID && role != models.RoleAdmin {
		return models.Participant{}, ErrSelfDemotion
	}
	p, err := s.repo.SetRole(ctx, id, role)
	if err != nil {
		return p, err
	}
	s.log.Info("👤 participant role changed",
		zap.String("participant_id", id),
		zap.String("role", role),
		zap.String("actor", actorID))
	return p, nil
}

// MemoryParticipants keeps participants in a map; used with the memory ledger.
type MemoryParticipants struct {
	mu         sync.RWMutex
	byUsername map[string]models.Participant
}

func NewMemoryParticipants() *MemoryParticipants {
	return &MemoryParticipants{byUsername: make(map[string]models.Participant)}
}

func (m *MemoryParticipants) Create(_ context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUsername[p.Username]; ok {
		return ErrUsernameTaken
	}
	m.byUsername[p.Username] = p
	return nil
}

func (m *MemoryParticipants) ByUsername(_ context.Context, username string) (models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byUsername[username]
	if !ok {
		return models.Participant{}, ErrNoParticipant
	}
	return p, nil
}

func (m *MemoryParticipants) List(_ context.Context) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Participant, 0, len(m.byUsername))
	for _, p := range m.byUsername {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryParticipants) SetRole(_ context.Context, id, role string) (models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.byUsername {
		if p.ID == id {
			p.Role = role
			m.byUsername[name] = p
			return p, nil
		}
	}
	return models.Participant{}, ErrNoParticipant
}

// PostgresParticipants reads and writes the participants table.
type PostgresParticipants struct {
	db *pgxpool.Pool
}

func NewPostgresParticipants(db *pgxpool.Pool) *PostgresParticipants {
	return &PostgresParticipants{db: db}
}

func (r *PostgresParticipants) Create(ctx context.Context, p models.Participant) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO participants (id, username, full_name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Username, p.FullName, p.PasswordHash, p.Role, p.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (r *PostgresParticipants) ByUsername(ctx context.Context, username string) (models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRow(ctx, `
		SELECT id, username, full_name, password_hash, role, created_at
		FROM participants WHERE username = $1
	`, username).Scan(&p.ID, &p.Username, &p.FullName, &p.PasswordHash, &p.Role, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNoParticipant
	}
	if err != nil {
		return p, fmt.Errorf("load participant: %w", err)
	}
	return p, nil
}

func (r *PostgresParticipants) List(ctx context.Context) ([]models.Participant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, username, full_name, password_hash, role, created_at
		FROM participants ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := []models.Participant{}
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Username, &p.FullName, &p.PasswordHash, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresParticipants) SetRole(ctx context.Context, id, role string) (models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRow(ctx, `
		UPDATE participants SET role = $1 WHERE id = $2
		RETURNING id, username, full_name, password_hash, role, created_at
	`, role, id).Scan(&p.ID, &p.Username, &p.FullName, &p.PasswordHash, &p.Role, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNoParticipant
	}
	if err != nil {
		return p, fmt.Errorf("update participant role: %w", err)
	}
	return p, nil
}
