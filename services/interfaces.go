package services

// PasswordHasher abstracts password hashing so the login flow can be
// tested without paying the bcrypt cost on every assertion.
type PasswordHasher interface {
	// Hash returns the hash of the given plain-text password.
	Hash(password string) (string, error)
	// Verify compares a plain-text password against a stored hash.
	Verify(hash, password string) error
}
