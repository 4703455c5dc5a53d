package authtest

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is an account the fake service accepts.
type User struct {
	ID           string
	Username     string
	PasswordHash string
}

// DefaultPassword is the password of every seeded user.
const DefaultPassword = "password"

// SeedUsernames are created by New unless WithUsers replaces them.
var SeedUsernames = []string{"user1", "user2", "user3"}

// HashPassword hashes with the minimum bcrypt cost; the fake never stores real passwords.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

type userRepo struct {
	lock       sync.RWMutex
	users      map[string]*User
	byUsername map[string]string
}

func newUserRepo() *userRepo {
	return &userRepo{
		users:      make(map[string]*User),
		byUsername: make(map[string]string),
	}
}

func (ur *userRepo) Upsert(user *User) error {
	if user.Username == "" {
		return fmt.Errorf("[userRepo Upsert] username is required")
	}
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	ur.users[user.ID] = user
	ur.byUsername[user.Username] = user.ID
	return nil
}

func (ur *userRepo) GetByUsername(username string) (*User, bool) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.byUsername[username]
	if !ok {
		return nil, false
	}
	return ur.users[id], true
}

func (ur *userRepo) GetByID(id string) (*User, bool) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	user, ok := ur.users[id]
	return user, ok
}
